package ingest

import (
	"context"
	"fmt"
	"log"
	"time"

	"props2mcp/internal/elastic"
	"props2mcp/internal/model"
)

// TaskClient is the slice of the store client the reindex runner needs.
type TaskClient interface {
	StartReindex(ctx context.Context, source, dest string, maxDocs int64) (string, error)
	GetTask(ctx context.Context, taskID string) (elastic.TaskStatus, error)
	EnsureDeleted(ctx context.Context, index string) error
	CreateIndex(ctx context.Context, index, mapping string) error
}

// Reindexer drives the asynchronous server-side copy from the staging index
// into the enriched index, polling task status on a fixed interval. On a
// created-count mismatch it deletes the destination and re-triggers the copy,
// consuming one of its own bounded retries. This loop is independent of the
// pipeline-level attempt loop: it retries only the transform, never the load.
type Reindexer struct {
	Client       TaskClient
	Source       string
	Dest         string
	DestMapping  string
	PollInterval time.Duration
	Retries      int
	// MaxDocs caps the copy when positive (sampling-style runs).
	MaxDocs int64
	Logger  *log.Logger

	// sleep is a test hook; nil means real time.
	sleep func(ctx context.Context, d time.Duration) error
}

// Run executes the transform until the created count matches expected or
// retries are exhausted. expected <= 0 disables the count check.
func (r *Reindexer) Run(ctx context.Context, expected int64) (model.ReindexResult, error) {
	poll := r.PollInterval
	if poll <= 0 {
		poll = 10 * time.Second
	}

	for attempt := 0; attempt <= r.Retries; attempt++ {
		if attempt > 0 {
			r.logf("recreating %s before transform retry %d/%d", r.Dest, attempt, r.Retries)
			if err := r.Client.EnsureDeleted(ctx, r.Dest); err != nil {
				return model.ReindexResult{}, err
			}
			if err := r.Client.CreateIndex(ctx, r.Dest, r.DestMapping); err != nil {
				return model.ReindexResult{}, err
			}
		}

		result, err := r.runOnce(ctx, poll)
		if err != nil {
			return model.ReindexResult{}, err
		}

		if expected <= 0 || result.Created == expected {
			if result.Took > 0 {
				rate := float64(result.Created) / result.Took.Seconds()
				r.logf("reindex complete: %d docs in %s (%.0f docs/s)", result.Created, result.Took, rate)
			} else {
				r.logf("reindex complete: %d docs", result.Created)
			}
			return result, nil
		}
		r.logf("reindex created %d docs, expected %d", result.Created, expected)
	}

	return model.ReindexResult{}, fmt.Errorf("reindex into %s: %w", r.Dest, model.ErrRetryExhausted)
}

func (r *Reindexer) runOnce(ctx context.Context, poll time.Duration) (model.ReindexResult, error) {
	taskID, err := r.Client.StartReindex(ctx, r.Source, r.Dest, r.MaxDocs)
	if err != nil {
		return model.ReindexResult{}, err
	}
	r.logf("reindex started, task %s", taskID)

	for {
		status, err := r.Client.GetTask(ctx, taskID)
		if err != nil {
			return model.ReindexResult{}, err
		}
		if status.Completed {
			return model.ReindexResult{
				TaskID:  taskID,
				Created: status.Created,
				Took:    time.Duration(status.TookMillis) * time.Millisecond,
			}, nil
		}

		if status.Total > 0 {
			r.logf("reindex in progress: %d/%d docs", status.Created, status.Total)
		} else {
			r.logf("reindex in progress")
		}
		if err := r.wait(ctx, poll); err != nil {
			return model.ReindexResult{}, err
		}
	}
}

func (r *Reindexer) wait(ctx context.Context, d time.Duration) error {
	if r.sleep != nil {
		return r.sleep(ctx, d)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func (r *Reindexer) logf(format string, args ...interface{}) {
	if r.Logger != nil {
		r.Logger.Printf(format, args...)
	}
}
