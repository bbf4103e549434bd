package ingest

import (
	"context"
	"log"
	"sync"

	"props2mcp/internal/appstate"
	"props2mcp/internal/dataset"
	"props2mcp/internal/elastic"
	"props2mcp/internal/model"
)

// BulkIndexer submits one batch and reports per-document outcomes.
type BulkIndexer interface {
	BulkIndex(ctx context.Context, index string, records []model.RawRecord) (elastic.BulkResult, error)
}

// Loader streams decoded records into the destination index using a bounded
// worker pool. Submission order across workers is not guaranteed; line
// attribution rides on the records themselves, never on position.
type Loader struct {
	Indexer   BulkIndexer
	Index     string
	BatchSize int
	Workers   int
	Logger    *log.Logger
	State     *appstate.IngestState

	// OnProgress, if non-nil, receives cumulative success/error counts as
	// batches complete. Used by the live progress view.
	OnProgress func(succeeded, failed int)
}

type batchResult struct {
	succeeded int
	failures  []model.FailureRecord
}

// Load consumes the source through dec and returns the aggregate outcome of
// this attempt. FinalCount and ExpectedCount are left to the verifier.
// Decode failures accumulate in dec; submission failures accumulate here.
// A transport error from the source aborts the attempt and is returned after
// in-flight batches have drained.
func (l *Loader) Load(ctx context.Context, src dataset.Source, dec *dataset.Decoder) (model.LoadOutcome, error) {
	batchSize := l.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}
	workers := l.Workers
	if workers <= 0 {
		workers = 4
	}

	batches := make(chan []model.RawRecord, workers)
	results := make(chan batchResult, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range batches {
				results <- l.submit(ctx, batch)
			}
		}()
	}

	// Producer: decode lines and hand off full batches. Runs in its own
	// goroutine so the aggregation below can observe progress while the
	// download is still in flight.
	produceErr := make(chan error, 1)
	go func() {
		defer close(batches)
		var pending []model.RawRecord
		err := src.EachLine(ctx, func(lineNo int, raw []byte) error {
			rec, ok := dec.Decode(lineNo, raw)
			if !ok {
				return nil
			}
			l.State.AddDecoded(1)
			pending = append(pending, rec)
			if len(pending) >= batchSize {
				batches <- pending
				pending = nil
			}
			return ctx.Err()
		})
		if len(pending) > 0 && err == nil {
			batches <- pending
		}
		produceErr <- err
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	outcome := model.LoadOutcome{}
	loggedErrors := 0
	lastMilestone := 0
	for res := range results {
		outcome.SuccessCount += res.succeeded
		outcome.ErrorCount += len(res.failures)
		outcome.Failures = append(outcome.Failures, res.failures...)

		l.State.AddSucceeded(int64(res.succeeded))
		l.State.AddFailed(int64(len(res.failures)))
		if l.OnProgress != nil {
			l.OnProgress(outcome.SuccessCount, outcome.ErrorCount)
		}

		if l.Logger != nil {
			if outcome.SuccessCount/1000 > lastMilestone {
				lastMilestone = outcome.SuccessCount / 1000
				l.Logger.Printf("indexed %d documents into %s", outcome.SuccessCount, l.Index)
			}
			for _, f := range res.failures {
				loggedErrors++
				if loggedErrors <= 10 || loggedErrors%100 == 0 {
					l.Logger.Printf("bulk failure #%d: %s", loggedErrors, f)
				}
			}
		}
	}

	if err := <-produceErr; err != nil {
		return outcome, err
	}
	return outcome, nil
}

// submit sends one batch. A whole-batch rejection is converted to one failure
// record per document so counts stay consistent and every line remains
// attributable.
func (l *Loader) submit(ctx context.Context, batch []model.RawRecord) batchResult {
	res, err := l.Indexer.BulkIndex(ctx, l.Index, batch)
	if err != nil {
		failures := make([]model.FailureRecord, 0, len(batch))
		for _, rec := range batch {
			failures = append(failures, model.FailureRecord{
				Line:   rec.Line,
				Type:   "bulk_batch_error",
				Reason: err.Error(),
			})
		}
		return batchResult{failures: failures}
	}

	out := batchResult{succeeded: res.Succeeded}
	for _, f := range res.Failures {
		out.failures = append(out.failures, model.FailureRecord{
			Line:   f.Line,
			DocID:  f.DocID,
			Type:   f.Type,
			Reason: f.Reason,
		})
	}
	return out
}
