package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xhad/rolerag/pkg/role"
)

var version = "dev"

// NewRootCmd creates the top-level rolerag command.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "rolerag",
		Short: "Role-scoped retrieval-augmented question answering",
		Long: "rolerag answers questions from a document store in which every document lists the roles\n" +
			"allowed to see it. Roles: " + strings.Join(role.Names(), ", ") + ".",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "config file path (default: ./config.yaml, ~/.config/rolerag/config.yaml)")
	root.PersistentFlags().String("store", "", "override database.backend (postgres, sqlite, memory)")
	root.PersistentFlags().String("log-level", "", "override log.level (debug, info, warn, error)")

	root.AddCommand(
		newIngestCmd(),
		newSearchCmd(),
		newChatCmd(),
		newServeCmd(),
		newVersionCmd(),
	)

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the rolerag version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "rolerag %s\n", version)
		},
	}
}

func roleFlagUsage() string {
	return "caller role (" + strings.Join(role.Names(), ", ") + ")"
}
