package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var resetAll bool

var resetCmd = &cobra.Command{
	Use:   "reset [project-key]",
	Short: "Clear crawl progress",
	Long: `Clear crawl progress for a project (or every project with --all).
Cached issues are kept; only the progress metadata is removed, so the next
crawl starts over from a fresh anchor.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if resetAll == (len(args) == 1) {
			return fmt.Errorf("provide exactly one project key, or --all")
		}

		ctx := context.Background()
		coord, store, err := newCoordinator(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		if resetAll {
			if err := coord.ClearAll(ctx); err != nil {
				return err
			}
			fmt.Println("Cleared crawl progress for all projects")
			return nil
		}

		if err := coord.ResetProject(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Cleared crawl progress for %s\n", args[0])
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetAll, "all", false, "clear progress for every project")
	rootCmd.AddCommand(resetCmd)
}
