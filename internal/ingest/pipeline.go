package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"props2mcp/internal/appstate"
	"props2mcp/internal/config"
	"props2mcp/internal/dataset"
	"props2mcp/internal/model"
	"props2mcp/internal/schema"
)

// Store is the full client surface the pipeline needs. *elastic.Client
// satisfies it; tests swap in fakes.
type Store interface {
	BulkIndexer
	Counter
	TaskClient
	Info(ctx context.Context) error
	RecreateIndex(ctx context.Context, index, mapping string) error
	DeleteScript(ctx context.Context, id string) error
	PutScript(ctx context.Context, id, source string) error
}

// Pipeline runs the whole ingestion: recreate indices, upload the search
// template, download + bulk-load the dataset, verify the count, reindex into
// the enriched index, and clean up the staging index. The attempt loop
// drop-and-recreates the staging index before every reload; attempts are
// never incremental.
type Pipeline struct {
	Cfg    *config.Config
	Store  Store
	Ledger model.RunLedger
	State  *appstate.IngestState
	Logger *log.Logger

	// OnProgress forwards loader progress to the caller (live CLI view).
	OnProgress func(succeeded, failed int)

	// Download client for the dataset; nil means a modest default.
	HTTPClient *http.Client

	// sleep is a test hook; nil means real time.
	sleep func(ctx context.Context, d time.Duration) error
	// now is a test hook; nil means time.Now.
	now func() time.Time
}

// Run executes one full pipeline invocation. The returned RunRecord is
// populated even on failure so callers can report partial progress.
func (p *Pipeline) Run(ctx context.Context) (run model.RunRecord, err error) {
	run = model.RunRecord{
		RunID:     uuid.NewString(),
		Variant:   p.Cfg.Ingest.Variant,
		StartedAt: p.timeNow(),
	}
	p.State.SetRunID(run.RunID)
	p.State.SetRunning(true)
	defer func() {
		p.State.SetRunning(false)
		run.FinishedAt = p.timeNow()
	}()

	variant, err := dataset.Lookup(p.Cfg.Ingest.Variant)
	if err != nil {
		return run, err
	}
	expected := variant.ExpectedCount
	if p.Cfg.Ingest.ExpectedCountOverride > 0 {
		expected = p.Cfg.Ingest.ExpectedCountOverride
	}

	if err := p.Store.Info(ctx); err != nil {
		return run, fmt.Errorf("store unreachable: %w", err)
	}

	if err := p.prepare(ctx); err != nil {
		return run, err
	}

	src, err := p.source(ctx, variant)
	if err != nil {
		return run, err
	}

	outcome, allFailures, err := p.loadWithRetry(ctx, src, expected, &run)
	if err != nil {
		p.State.SetPhase(appstate.PhaseFailed)
		p.writeFailureReport(allFailures)
		p.recordRun(ctx, run, allFailures)
		return run, err
	}
	run.SuccessCount = outcome.SuccessCount
	run.ErrorCount = outcome.ErrorCount
	run.FinalCount = outcome.FinalCount

	p.State.SetPhase(appstate.PhaseReindex)
	reindexer := &Reindexer{
		Client:       p.Store,
		Source:       p.Cfg.Elastic.RawIndex,
		Dest:         p.Cfg.Elastic.PropertiesIndex,
		DestMapping:  schema.PropertiesIndexMapping(p.Cfg.Elastic.InferenceID),
		PollInterval: p.Cfg.Ingest.ReindexPoll,
		Retries:      p.Cfg.Ingest.ReindexRetries,
		MaxDocs:      p.Cfg.Ingest.ReindexMaxDocs,
		Logger:       p.Logger,
		sleep:        p.sleep,
	}
	reindexExpected := expected
	if reindexer.MaxDocs > 0 {
		// a capped copy can never reach the variant count
		reindexExpected = 0
	}
	result, err := reindexer.Run(ctx, reindexExpected)
	if err != nil {
		p.State.SetPhase(appstate.PhaseFailed)
		p.writeFailureReport(allFailures)
		p.recordRun(ctx, run, allFailures)
		return run, err
	}
	run.Reindexed = result.Created
	p.State.SetReindexed(result.Created)

	// staging index is transient; remove it only after full success
	if err := p.Store.EnsureDeleted(ctx, p.Cfg.Elastic.RawIndex); err != nil {
		return run, fmt.Errorf("cleanup %s: %w", p.Cfg.Elastic.RawIndex, err)
	}
	p.logf("deleted staging index %s", p.Cfg.Elastic.RawIndex)

	run.Succeeded = true
	p.State.SetPhase(appstate.PhaseDone)
	// persisted even on success when earlier attempts accumulated failures
	p.writeFailureReport(allFailures)
	p.recordRun(ctx, run, allFailures)
	return run, nil
}

// prepare recreates the enriched index and replaces the stored search
// template. The template delete tolerates not-found so replacement stays
// idempotent.
func (p *Pipeline) prepare(ctx context.Context) error {
	es := p.Cfg.Elastic
	if err := p.Store.RecreateIndex(ctx, es.PropertiesIndex, schema.PropertiesIndexMapping(es.InferenceID)); err != nil {
		return fmt.Errorf("recreate %s: %w", es.PropertiesIndex, err)
	}
	p.logf("created index %s", es.PropertiesIndex)

	if err := p.Store.DeleteScript(ctx, es.SearchTemplateID); err != nil {
		return fmt.Errorf("delete template %s: %w", es.SearchTemplateID, err)
	}
	if err := p.Store.PutScript(ctx, es.SearchTemplateID, schema.SearchTemplateSource); err != nil {
		return fmt.Errorf("put template %s: %w", es.SearchTemplateID, err)
	}
	p.logf("created search template %s", es.SearchTemplateID)
	return nil
}

// source picks between straight-through streaming (single attempt) and an
// up-front materialized line set that every retry replays identically.
func (p *Pipeline) source(ctx context.Context, variant dataset.Variant) (dataset.Source, error) {
	url := variant.URL
	if p.Cfg.Ingest.DatasetURL != "" {
		url = p.Cfg.Ingest.DatasetURL
	}
	stream := &dataset.StreamSource{URL: url, Client: p.HTTPClient}
	if p.maxAttempts() == 1 {
		return stream, nil
	}
	p.logf("materializing dataset %s for retry replay", variant.Name)
	mem, err := stream.Materialize(ctx)
	if err != nil {
		return nil, err
	}
	p.logf("materialized %d lines", mem.Len())
	return mem, nil
}

func (p *Pipeline) loadWithRetry(ctx context.Context, src dataset.Source, expected int64, run *model.RunRecord) (model.LoadOutcome, []model.FailureRecord, error) {
	maxAttempts := p.maxAttempts()
	verifier := &Verifier{
		Counter:        p.Store,
		SettleDelay:    p.Cfg.Ingest.SettleDelay,
		RecheckDelay:   p.Cfg.Ingest.RecheckDelay,
		CloseThreshold: p.Cfg.Ingest.CloseThreshold,
		Logger:         p.Logger,
		sleep:          p.sleep,
	}

	var allFailures []model.FailureRecord
	var outcome model.LoadOutcome
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		run.Attempts = attempt
		p.State.SetAttempt(int64(attempt))
		p.State.ResetCounters()
		p.State.SetPhase(appstate.PhaseLoading)

		if err := p.Store.RecreateIndex(ctx, p.Cfg.Elastic.RawIndex, schema.RawIndexMapping); err != nil {
			return outcome, allFailures, fmt.Errorf("recreate %s: %w", p.Cfg.Elastic.RawIndex, err)
		}

		dec := &dataset.Decoder{Logger: p.Logger}
		loader := &Loader{
			Indexer:    p.Store,
			Index:      p.Cfg.Elastic.RawIndex,
			BatchSize:  p.Cfg.Ingest.BatchSize,
			Workers:    p.Cfg.Ingest.Workers,
			Logger:     p.Logger,
			State:      p.State,
			OnProgress: p.OnProgress,
		}

		var err error
		outcome, err = loader.Load(ctx, src, dec)
		outcome.Failures = append(dec.Failures(), outcome.Failures...)
		outcome.ErrorCount += len(dec.Failures())
		allFailures = append(allFailures, outcome.Failures...)
		p.State.AddAttempted(int64(dec.Attempted()))
		if err != nil {
			// transport failures are fatal to the run, not retried here
			return outcome, allFailures, err
		}
		p.logf("attempt %d/%d: %d indexed, %d failed (%d lines decoded of %d attempted)",
			attempt, maxAttempts, outcome.SuccessCount, outcome.ErrorCount, dec.Decoded(), dec.Attempted())

		p.State.SetPhase(appstate.PhaseVerifying)
		final, ok, err := verifier.Verify(ctx, p.Cfg.Elastic.RawIndex, expected)
		if err != nil {
			return outcome, allFailures, err
		}
		outcome.FinalCount = final
		outcome.ExpectedCount = expected
		if ok {
			p.logf("verified %s: %d documents", p.Cfg.Elastic.RawIndex, final)
			return outcome, allFailures, nil
		}

		p.logf("verification failed: %d of %d documents", final, expected)
		if attempt < maxAttempts {
			p.logf("retrying load in %s", p.Cfg.Ingest.RetryBackoff)
			if err := p.wait(ctx, p.Cfg.Ingest.RetryBackoff); err != nil {
				return outcome, allFailures, err
			}
		}
	}

	return outcome, allFailures, fmt.Errorf("load into %s after %d attempts: %w",
		p.Cfg.Elastic.RawIndex, maxAttempts, model.ErrRetryExhausted)
}

func (p *Pipeline) maxAttempts() int {
	if p.Cfg.Ingest.FailFast {
		return 1
	}
	if p.Cfg.Ingest.MaxAttempts < 1 {
		return 1
	}
	return p.Cfg.Ingest.MaxAttempts
}

// writeFailureReport persists accumulated failure records as a JSON array
// when a report path is configured and there is anything to report.
func (p *Pipeline) writeFailureReport(failures []model.FailureRecord) {
	path := p.Cfg.Ingest.FailureReportPath
	if path == "" || len(failures) == 0 {
		return
	}
	data, err := json.MarshalIndent(failures, "", "  ")
	if err != nil {
		p.logf("failure report: marshal: %v", err)
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		p.logf("failure report: write %s: %v", path, err)
		return
	}
	p.logf("wrote %d failure records to %s", len(failures), path)
}

func (p *Pipeline) recordRun(ctx context.Context, run model.RunRecord, failures []model.FailureRecord) {
	if p.Ledger == nil {
		return
	}
	run.FinishedAt = p.timeNow()
	if err := p.Ledger.RecordRun(ctx, run, failures); err != nil {
		p.logf("run ledger: %v", err)
	}
}

func (p *Pipeline) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func (p *Pipeline) timeNow() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now().UTC()
}

func (p *Pipeline) logf(format string, args ...interface{}) {
	if p.Logger != nil {
		p.Logger.Printf(format, args...)
	}
}
