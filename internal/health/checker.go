// Package health probes the inference endpoint the enriched index depends
// on. Serverless deployments scale the model to zero; the periodic probe
// keeps it warm and surfaces availability in the logs.
package health

import (
	"context"
	"log"
	"time"
)

// InferenceClient is the slice of the store client the checker needs.
type InferenceClient interface {
	Infer(ctx context.Context, inferenceID string, input []string) error
}

type Checker struct {
	Client      InferenceClient
	InferenceID string
	Logger      *log.Logger

	// RunOnceFunc, if non-nil, replaces RunOnce. Test hook.
	RunOnceFunc func(ctx context.Context) error
}

// RunOnce performs a single probe with a wake-up input.
func (c *Checker) RunOnce(ctx context.Context) error {
	return c.Client.Infer(ctx, c.InferenceID, []string{"wake up"})
}

// Run probes on the given cadence until ctx is cancelled. The checker shares
// nothing mutable with the rest of the server; its only output is logs. An
// immediate probe runs before the first tick so startup problems surface
// right away.
func (c *Checker) Run(ctx context.Context, interval time.Duration) {
	if c.InferenceID == "" || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.probe(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.probe(ctx)
		}
	}
}

func (c *Checker) probe(ctx context.Context) {
	runOnce := c.RunOnce
	if c.RunOnceFunc != nil {
		runOnce = c.RunOnceFunc
	}
	if err := runOnce(ctx); err != nil {
		c.logf("inference endpoint %s is not available: %v", c.InferenceID, err)
		return
	}
	c.logf("inference endpoint is ready: %s", c.InferenceID)
}

func (c *Checker) logf(format string, args ...interface{}) {
	if c.Logger != nil {
		c.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}
