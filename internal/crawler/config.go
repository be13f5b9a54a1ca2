package crawler

import (
	"fmt"
	"os"
	"time"

	"github.com/timeloom/crawler/internal/ratelimit"
)

// Config holds crawl tuning parameters
type Config struct {
	// MissThreshold is the number of consecutive "not found" results after
	// which a direction stops probing and is considered complete.
	// Default: 50
	MissThreshold int

	// BatchSize is how many successful discoveries accumulate before
	// progress is persisted.
	// Default: 10
	BatchSize int

	// TransientRetryDelay is the fixed backoff before retrying the same
	// candidate after a transient lookup failure.
	// Default: 1s
	TransientRetryDelay time.Duration

	// MinRequestInterval is the process-wide minimum spacing between
	// lookup calls, shared by every scanner.
	// Default: 200ms
	MinRequestInterval time.Duration

	// FloorIssueNumber is the lowest issue number the downward scanner may
	// probe. A candidate at or below the floor terminates the direction.
	// Default: 0
	FloorIssueNumber int

	// MaxIssueNumber is a safety bound for the upward scanner. A candidate
	// at or above it terminates the direction regardless of miss streaks.
	// Default: 1000000
	MaxIssueNumber int

	// Logf receives diagnostic log lines. Default writes to stderr.
	Logf func(format string, args ...interface{})
}

// DefaultConfig returns default crawl configuration
func DefaultConfig() *Config {
	return &Config{
		MissThreshold:       50,
		BatchSize:           10,
		TransientRetryDelay: time.Second,
		MinRequestInterval:  ratelimit.DefaultMinInterval,
		FloorIssueNumber:    0,
		MaxIssueNumber:      1_000_000,
	}
}

// normalize fills zero values with defaults so a partially specified config
// behaves predictably
func (c *Config) normalize() {
	def := DefaultConfig()
	if c.MissThreshold <= 0 {
		c.MissThreshold = def.MissThreshold
	}
	if c.BatchSize <= 0 {
		c.BatchSize = def.BatchSize
	}
	if c.TransientRetryDelay <= 0 {
		c.TransientRetryDelay = def.TransientRetryDelay
	}
	if c.MinRequestInterval <= 0 {
		c.MinRequestInterval = def.MinRequestInterval
	}
	if c.FloorIssueNumber < 0 {
		c.FloorIssueNumber = def.FloorIssueNumber
	}
	if c.MaxIssueNumber <= 0 {
		c.MaxIssueNumber = def.MaxIssueNumber
	}
	if c.Logf == nil {
		c.Logf = func(format string, args ...interface{}) {
			fmt.Fprintf(os.Stderr, format+"\n", args...)
		}
	}
}
