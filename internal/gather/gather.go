// Package gather defines the market-data ingest processes that fill the
// daily bar table.
package gather

import (
	"context"
	"time"
)

// Gatherer is the interface for all data gathering processes.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run performs one gathering pass and returns when it completes or ctx
	// is cancelled.
	Run(ctx context.Context) error
}

// DateRange represents a time range for data fetching.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Result summarises one gathering pass.
type Result struct {
	Stocks  int           `json:"stocks"`
	Bars    int           `json:"bars"`
	Batches int           `json:"batches"`
	Failed  []string      `json:"failed"`
	Elapsed time.Duration `json:"elapsed"`
}

// ProgressFunc is called after each batch with the number of batches done
// and the total.
type ProgressFunc func(done, total int)
