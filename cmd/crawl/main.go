package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/timeloom/crawler/internal/crawler"
	"github.com/timeloom/crawler/internal/jira"
	"github.com/timeloom/crawler/internal/ratelimit"
	"github.com/timeloom/crawler/internal/storage"
)

var rootCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Discover Jira issues the search API cannot surface",
	Long: `crawl probes sequential issue numbers outward from a known anchor,
in both directions at once, to find issues that are excluded from search
results or were numbered but never indexed. Progress is persisted per
project, so an interrupted crawl resumes where it left off.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("db", "", "path to the crawl database (default .timeloom/crawl.db)")
	rootCmd.PersistentFlags().String("jira-url", "", "Jira site URL, e.g. https://acme.atlassian.net")
	rootCmd.PersistentFlags().String("jira-email", "", "Jira account email for basic auth")
	rootCmd.PersistentFlags().String("jira-token", "", "Jira API token")
	rootCmd.PersistentFlags().Duration("request-interval", ratelimit.DefaultMinInterval, "minimum spacing between Jira lookups")
	rootCmd.PersistentFlags().Int("miss-threshold", 0, "consecutive misses before a direction completes (default 50)")
	rootCmd.PersistentFlags().Int("batch-size", 0, "discoveries per progress checkpoint (default 10)")

	for _, name := range []string{"db", "jira-url", "jira-email", "jira-token", "request-interval", "miss-threshold", "batch-size"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}
}

func initConfig() {
	viper.SetConfigName("crawler")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.timeloom")

	viper.SetEnvPrefix("TIMELOOM")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "Warning: failed to read config file: %v\n", err)
		}
	}
}

// newCoordinator builds the coordinator and its storage backend from the
// resolved configuration. The caller owns closing the returned storage.
func newCoordinator(ctx context.Context) (*crawler.Coordinator, storage.Storage, error) {
	storeCfg := storage.DefaultConfig()
	if path := viper.GetString("db"); path != "" {
		storeCfg.Path = path
	}

	store, err := storage.NewStorage(ctx, storeCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open crawl database: %w", err)
	}

	var lookup jira.IssueLookupService
	if baseURL := viper.GetString("jira-url"); baseURL != "" {
		client, err := jira.NewClient(&jira.ClientConfig{
			BaseURL:  baseURL,
			Email:    viper.GetString("jira-email"),
			APIToken: viper.GetString("jira-token"),
		})
		if err != nil {
			store.Close()
			return nil, nil, err
		}
		lookup = client
	}

	cfg := crawler.DefaultConfig()
	if interval := viper.GetDuration("request-interval"); interval > 0 {
		cfg.MinRequestInterval = interval
	}
	if n := viper.GetInt("miss-threshold"); n > 0 {
		cfg.MissThreshold = n
	}
	if n := viper.GetInt("batch-size"); n > 0 {
		cfg.BatchSize = n
	}

	return crawler.NewCoordinator(store, lookup, cfg), store, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
