package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/timeloom/crawler/internal/types"
	"gopkg.in/yaml.v3"
)

var statsFormat string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate crawl statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		coord, store, err := newCoordinator(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		stats, err := coord.GetStatistics(ctx)
		if err != nil {
			return err
		}

		switch statsFormat {
		case "yaml":
			out, err := yaml.Marshal(stats)
			if err != nil {
				return fmt.Errorf("failed to render statistics: %w", err)
			}
			fmt.Print(string(out))
			return nil

		case "table", "":
			printStatsTable(stats)
			return nil

		default:
			return fmt.Errorf("unknown format %q (expected table or yaml)", statsFormat)
		}
	},
}

func init() {
	statsCmd.Flags().StringVar(&statsFormat, "format", "table", "output format: table or yaml")
	rootCmd.AddCommand(statsCmd)
}

func printStatsTable(stats *types.Statistics) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	fmt.Printf("\n%s\n\n", cyan("=== Crawl Statistics ==="))
	fmt.Printf("Projects: %d (%s complete, %s in progress)\n",
		stats.TotalProjects,
		green(fmt.Sprintf("%d", stats.CompleteProjects)),
		yellow(fmt.Sprintf("%d", stats.IncompleteProjects)))
	fmt.Printf("Issues discovered: %d\n\n", stats.TotalIssues)

	if len(stats.Projects) == 0 {
		fmt.Printf("%s\n", gray("No projects crawled yet"))
		return
	}

	keys := make([]string, 0, len(stats.Projects))
	for key := range stats.Projects {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		p := stats.Projects[key]
		state := yellow("scanning")
		if p.Complete {
			state = green("complete")
		}
		fmt.Printf("  %-12s %s  range %d-%d, %d issues\n",
			key, state, p.LowestIssue, p.HighestIssue, p.IssuesFound)
	}
}
