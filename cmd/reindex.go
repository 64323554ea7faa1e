package cmd

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var reindexWorkers int

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the search index from the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, false)
		if err != nil {
			return err
		}
		defer a.Close()

		ids, err := a.indexer.Repo.AllNodeIDs(ctx)
		if err != nil {
			return err
		}
		bar := progressbar.NewOptions(len(ids),
			progressbar.OptionSetDescription(fmt.Sprintf("Indexing into %s", cfg.Search.Engine)),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionSetItsString("nodes"),
			progressbar.OptionShowIts(),
			progressbar.OptionSetRenderBlankState(true),
			progressbar.OptionOnCompletion(func() { fmt.Fprint(os.Stderr, "\n") }),
		)

		n, err := a.indexer.Reindex(ctx, reindexWorkers, func(done int) { _ = bar.Set(done) })
		if err != nil {
			color.Red("Reindex stopped after %d nodes", n)
			return err
		}
		_ = bar.Finish()
		color.Green("Indexed %d nodes", n)
		return nil
	},
}

func init() {
	reindexCmd.Flags().IntVarP(&reindexWorkers, "workers", "w", 4, "concurrent index batches")
}
