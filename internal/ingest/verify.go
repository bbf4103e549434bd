package ingest

import (
	"context"
	"log"
	"time"
)

// Counter exposes the live document count of an index.
type Counter interface {
	Count(ctx context.Context, index string) (int64, error)
}

// Verifier reconciles the post-load document count against the expected
// count for the active dataset variant. A settle delay tolerates index
// refresh latency; a close-but-under count earns one shorter recheck before
// the attempt is declared failed, since visibility lag is not data loss.
type Verifier struct {
	Counter        Counter
	SettleDelay    time.Duration
	RecheckDelay   time.Duration
	CloseThreshold int64
	Logger         *log.Logger

	// sleep is a test hook; nil means real time.
	sleep func(ctx context.Context, d time.Duration) error
}

// Verify returns the final observed count and whether it matched expected.
func (v *Verifier) Verify(ctx context.Context, index string, expected int64) (int64, bool, error) {
	if err := v.wait(ctx, v.SettleDelay); err != nil {
		return 0, false, err
	}

	count, err := v.Counter.Count(ctx, index)
	if err != nil {
		return 0, false, err
	}
	if count == expected {
		return count, true, nil
	}

	// close-but-under: one extra wait-and-recheck for async visibility lag
	if count < expected && expected-count <= v.CloseThreshold {
		if v.Logger != nil {
			v.Logger.Printf("count %d of %d within threshold; rechecking in %s", count, expected, v.RecheckDelay)
		}
		if err := v.wait(ctx, v.RecheckDelay); err != nil {
			return count, false, err
		}
		count, err = v.Counter.Count(ctx, index)
		if err != nil {
			return 0, false, err
		}
	}

	return count, count == expected, nil
}

func (v *Verifier) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if v.sleep != nil {
		return v.sleep(ctx, d)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
