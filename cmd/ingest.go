package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/xhad/rolerag/pkg/ingest"
)

func newIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Load role-tagged documents into the store",
		Long: "Validate, embed and write documents. Nothing is written unless every entry is valid.\n" +
			"By default the store is replaced wholesale; --append keeps existing documents.",
		Args: cobra.NoArgs,
		RunE: runIngest,
	}

	cmd.Flags().String("manifest", "", "YAML manifest listing documents and their allowed roles")
	cmd.Flags().Bool("seed", false, "ingest the built-in sample corpus")
	cmd.Flags().Bool("append", false, "insert without clearing existing documents")
	cmd.MarkFlagsMutuallyExclusive("manifest", "seed")
	cmd.MarkFlagsOneRequired("manifest", "seed")

	return cmd
}

func runIngest(cmd *cobra.Command, _ []string) error {
	manifest, _ := cmd.Flags().GetString("manifest")
	seed, _ := cmd.Flags().GetBool("seed")
	appendMode, _ := cmd.Flags().GetBool("append")

	entries := ingest.SeedEntries()
	if !seed {
		var err error
		entries, err = ingest.LoadManifest(manifest)
		if err != nil {
			return err
		}
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cmd, "warn")
	if err != nil {
		return err
	}
	defer a.Close()

	mode := ingest.ModeReplace
	if appendMode {
		mode = ingest.ModeAppend
	}

	out := cmd.OutOrStdout()
	color.New(color.FgBlue).Fprintf(out, "Ingesting %d entries (%s)\n", len(entries), mode)

	bars := newStageBars(cmd.ErrOrStderr())
	report, err := a.ingester(bars.update).Run(ctx, entries, mode)
	bars.finish()
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}

	color.New(color.FgGreen).Fprintf(out, "\n✓ Stored %d documents from %d entries in %s\n",
		report.Documents, report.Entries, report.Elapsed.Round(time.Millisecond))
	return nil
}
