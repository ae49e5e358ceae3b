// Package sync batch-exchanges translation units with the external service:
// pushing dirty source content as message bundles and pulling back updated
// translations with revision gating.
package sync

import (
	"os"
	"strconv"
	"time"
)

// Config tunes the synchronization jobs.
type Config struct {
	// PushDelay is the minimum spacing between consecutive bundle edits;
	// the service rate-limits writes.
	PushDelay time.Duration

	// FetchLimit caps concurrent collection fetches.
	FetchLimit int

	// Staleness is how long a fetched translation stays fresh before the
	// next pull re-polls it.
	Staleness time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		PushDelay:  20 * time.Second,
		FetchLimit: 3,
		Staleness:  3 * 24 * time.Hour,
	}
}

// ConfigFromEnv builds a Config from environment variables, falling back to
// defaults for unset or invalid values:
//
//	METASYNC_PUSH_DELAY_SECONDS
//	METASYNC_FETCH_LIMIT
//	METASYNC_STALENESS_DAYS
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	if v := os.Getenv("METASYNC_PUSH_DELAY_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.PushDelay = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("METASYNC_FETCH_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.FetchLimit = n
		}
	}
	if v := os.Getenv("METASYNC_STALENESS_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Staleness = time.Duration(n) * 24 * time.Hour
		}
	}
	return cfg
}
