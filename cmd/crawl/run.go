package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/timeloom/crawler/internal/types"
)

var (
	runStart int
	runQuiet bool
)

var runCmd = &cobra.Command{
	Use:   "run <project-key> [project-key...]",
	Short: "Crawl projects for undiscovered issues",
	Long: `Crawl one or more projects. Projects crawl in parallel; within a
project, the upward and downward scans run concurrently. Interrupting with
Ctrl-C checkpoints progress so the next run resumes where this one stopped.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if runStart > 0 && len(args) > 1 {
			return fmt.Errorf("--start is only valid with a single project key")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		coord, store, err := newCoordinator(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		if !runQuiet {
			unsubscribe := coord.OnStatusUpdate(printStatus)
			defer unsubscribe()
		}

		if runStart > 0 {
			return coord.CrawlProject(ctx, args[0], runStart)
		}
		return coord.CrawlProjects(ctx, args)
	},
}

func init() {
	runCmd.Flags().IntVar(&runStart, "start", 0, "anchor issue number for a previously-unseen project")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "suppress per-issue status output")
	rootCmd.AddCommand(runCmd)
}

// printStatus renders one status event as a log line
func printStatus(s types.CrawlStatus) {
	green := color.New(color.FgGreen).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()

	key := types.FormatIssueKey(s.ProjectKey, s.CurrentIssueNumber)

	switch {
	case s.IsComplete:
		fmt.Printf("%s %s %s scan complete: %d issues, range %d-%d\n",
			cyan("✓"), s.ProjectKey, s.Direction,
			s.IssuesFound, s.LowestKnownIssue, s.HighestKnownIssue)
	case s.Err != nil:
		fmt.Fprintf(os.Stderr, "%s %s: %v (retrying)\n", red("!"), key, s.Err)
	case s.ConsecutiveMisses > 0:
		fmt.Printf("%s %s not found (%d consecutive)\n", gray("·"), key, s.ConsecutiveMisses)
	default:
		fmt.Printf("%s found %s (%d total)\n", green("+"), key, s.IssuesFound)
	}
}
