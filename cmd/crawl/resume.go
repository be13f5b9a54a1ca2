package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var resumeQuiet bool

var resumeCmd = &cobra.Command{
	Use:   "resume <project-key> [project-key...]",
	Short: "Resume interrupted crawls",
	Long: `Resume crawling the given projects, skipping any whose progress
already has both directions complete. A no-op when everything is done.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		coord, store, err := newCoordinator(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		if !resumeQuiet {
			unsubscribe := coord.OnStatusUpdate(printStatus)
			defer unsubscribe()
		}

		return coord.ResumeCrawls(ctx, args)
	},
}

func init() {
	resumeCmd.Flags().BoolVarP(&resumeQuiet, "quiet", "q", false, "suppress per-issue status output")
	rootCmd.AddCommand(resumeCmd)
}
