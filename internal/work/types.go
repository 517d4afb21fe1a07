// Package work provides the bounded worker pool that all per-article
// processing flows through. The pool applies backpressure: submissions block
// once the queue hits its high watermark and resume after it drains to the
// low watermark, so a burst of feed items never grows memory without bound.
package work

import (
	"fmt"
	"time"

	"github.com/dmarin/newswatch/internal/logging"
)

// Type categorizes work items for logging and stats.
type Type string

const (
	TypeScrape  Type = "scrape"
	TypeAnalyze Type = "analyze"
	TypeAlert   Type = "alert"
	TypeOther   Type = "other"
)

// Status represents the lifecycle state of a work item.
type Status string

const (
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
	StatusDropped  Status = "dropped" // accepted but abandoned on shutdown
)

// Item represents a unit of async work.
type Item struct {
	ID          string
	Type        Type
	Status      Status
	Description string // human-readable: "Scraping reuters.com/..."
	Source      string // feed source name

	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time

	Result string
	Error  error

	workFn func() (string, error)
}

// Duration returns how long the work took (or has been running).
func (i *Item) Duration() time.Duration {
	if i.FinishedAt.IsZero() {
		if i.StartedAt.IsZero() {
			return 0
		}
		return time.Since(i.StartedAt)
	}
	return i.FinishedAt.Sub(i.StartedAt)
}

// Stats tracks pool metrics.
type Stats struct {
	TotalSubmitted int64
	TotalCompleted int64
	TotalFailed    int64
	WorkersActive  int
	WorkersTotal   int
	PendingCount   int
}

// String returns a summary string for stats.
func (s Stats) String() string {
	return fmt.Sprintf("Active: %d  Pending: %d  Done: %d  Failed: %d",
		s.WorkersActive, s.PendingCount, s.TotalCompleted, s.TotalFailed)
}

func logFinished(item *Item) {
	if item.Error != nil {
		logging.Warn("Work failed",
			"id", item.ID,
			"type", item.Type,
			"desc", item.Description,
			"error", item.Error,
			"duration", item.Duration())
		return
	}
	logging.Debug("Work completed",
		"id", item.ID,
		"type", item.Type,
		"desc", item.Description,
		"result", item.Result,
		"duration", item.Duration())
}
