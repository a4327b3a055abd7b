package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/xhad/rolerag/internal/models"
	"github.com/xhad/rolerag/internal/types"
	"github.com/xhad/rolerag/pkg/rag"
	"github.com/xhad/rolerag/pkg/role"
	"github.com/xhad/rolerag/pkg/search"
)

func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search --role ROLE QUESTION...",
		Short: "List the documents a role may see for a question",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSearch,
	}

	cmd.Flags().String("role", "", roleFlagUsage())
	cmd.Flags().Float64("threshold", search.DefaultThreshold, "minimum cosine similarity (inclusive)")
	cmd.Flags().Int("limit", search.DefaultLimit, "maximum number of results")
	_ = cmd.MarkFlagRequired("role")

	return cmd
}

func runSearch(cmd *cobra.Command, args []string) error {
	roleName, _ := cmd.Flags().GetString("role")
	if _, err := role.Validate(roleName); err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cmd, "warn")
	if err != nil {
		return err
	}
	defer a.Close()

	var opts []types.SearchOption
	if cmd.Flags().Changed("threshold") {
		threshold, _ := cmd.Flags().GetFloat64("threshold")
		opts = append(opts, search.WithThreshold(threshold))
	}
	if cmd.Flags().Changed("limit") {
		limit, _ := cmd.Flags().GetInt("limit")
		opts = append(opts, search.WithLimit(limit))
	}

	results, err := a.retriever().Retrieve(ctx, roleName, strings.Join(args, " "), opts...)
	if err != nil {
		return err
	}

	printResults(cmd.OutOrStdout(), results)
	return nil
}

func printResults(w io.Writer, results []models.SearchResult) {
	if len(results) == 0 {
		fmt.Fprintln(w, rag.NoContext)
		return
	}

	score := color.New(color.FgYellow)
	faint := color.New(color.Faint)
	for i, r := range results {
		fmt.Fprintf(w, "%d. ", i+1)
		score.Fprintf(w, "[%.3f] ", r.Similarity)
		fmt.Fprintln(w, r.Content)
		faint.Fprintf(w, "   source: %s\n", r.Source())
	}
}
