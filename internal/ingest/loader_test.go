package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"props2mcp/internal/appstate"
	"props2mcp/internal/dataset"
	"props2mcp/internal/elastic"
	"props2mcp/internal/model"
)

// fakeIndexer scripts per-batch responses keyed by the first line number in
// the batch, with a default of full success.
type fakeIndexer struct {
	mu       sync.Mutex
	batches  [][]model.RawRecord
	failLine map[int]elastic.BulkItemFailure
	batchErr map[int]error
}

func (f *fakeIndexer) BulkIndex(_ context.Context, _ string, records []model.RawRecord) (elastic.BulkResult, error) {
	f.mu.Lock()
	f.batches = append(f.batches, records)
	f.mu.Unlock()

	if f.batchErr != nil {
		if err, ok := f.batchErr[records[0].Line]; ok {
			return elastic.BulkResult{}, err
		}
	}

	res := elastic.BulkResult{}
	for _, rec := range records {
		if f.failLine != nil {
			if failure, ok := f.failLine[rec.Line]; ok {
				failure.Line = rec.Line
				res.Failures = append(res.Failures, failure)
				continue
			}
		}
		res.Succeeded++
	}
	return res, nil
}

func memSourceOf(lines ...string) *dataset.MemorySource {
	raw := make([][]byte, len(lines))
	for i, l := range lines {
		raw[i] = []byte(l)
	}
	return dataset.NewMemorySource(raw)
}

func jsonLines(n int) []string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf(`{"id":%d}`, i+1)
	}
	return lines
}

func TestLoadAllSucceed(t *testing.T) {
	indexer := &fakeIndexer{}
	loader := &Loader{Indexer: indexer, Index: "properties_raw", BatchSize: 10, Workers: 2, State: appstate.NewIngestState()}

	outcome, err := loader.Load(context.Background(), memSourceOf(jsonLines(25)...), &dataset.Decoder{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if outcome.SuccessCount != 25 || outcome.ErrorCount != 0 {
		t.Errorf("outcome = %d/%d, want 25/0", outcome.SuccessCount, outcome.ErrorCount)
	}
	if len(indexer.batches) != 3 {
		t.Errorf("batches = %d, want 3", len(indexer.batches))
	}
}

func TestLoadAttributesItemFailuresToLines(t *testing.T) {
	indexer := &fakeIndexer{
		failLine: map[int]elastic.BulkItemFailure{
			7:  {Type: "mapper_parsing_exception", Reason: "field type mismatch"},
			19: {Type: "version_conflict_engine_exception", Reason: "conflict"},
		},
	}
	loader := &Loader{Indexer: indexer, Index: "properties_raw", BatchSize: 5, Workers: 3, State: appstate.NewIngestState()}

	outcome, err := loader.Load(context.Background(), memSourceOf(jsonLines(20)...), &dataset.Decoder{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if outcome.SuccessCount != 18 || outcome.ErrorCount != 2 {
		t.Fatalf("outcome = %d/%d, want 18/2", outcome.SuccessCount, outcome.ErrorCount)
	}

	var lines []int
	for _, f := range outcome.Failures {
		lines = append(lines, f.Line)
	}
	sort.Ints(lines)
	if lines[0] != 7 || lines[1] != 19 {
		t.Errorf("failure lines = %v, want [7 19]", lines)
	}
}

func TestLoadConvertsBatchErrorToPerRecordFailures(t *testing.T) {
	indexer := &fakeIndexer{
		batchErr: map[int]error{6: errBatchDown},
	}
	loader := &Loader{Indexer: indexer, Index: "properties_raw", BatchSize: 5, Workers: 1, State: appstate.NewIngestState()}

	outcome, err := loader.Load(context.Background(), memSourceOf(jsonLines(15)...), &dataset.Decoder{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if outcome.SuccessCount != 10 || outcome.ErrorCount != 5 {
		t.Fatalf("outcome = %d/%d, want 10/5", outcome.SuccessCount, outcome.ErrorCount)
	}
	for _, f := range outcome.Failures {
		if f.Type != "bulk_batch_error" {
			t.Errorf("failure type = %q, want bulk_batch_error", f.Type)
		}
		if f.Line < 6 || f.Line > 10 {
			t.Errorf("failure line = %d, want 6..10", f.Line)
		}
	}
}

var errBatchDown = errors.New("connection reset")

func TestLoadSkipsDecodeFailuresEntirely(t *testing.T) {
	indexer := &fakeIndexer{}
	loader := &Loader{Indexer: indexer, Index: "properties_raw", BatchSize: 10, Workers: 1, State: appstate.NewIngestState()}
	dec := &dataset.Decoder{}

	src := memSourceOf(`{"a":1}`, `{"broken": `, `{"c":3}`)
	outcome, err := loader.Load(context.Background(), src, dec)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if outcome.SuccessCount != 2 {
		t.Errorf("SuccessCount = %d, want 2", outcome.SuccessCount)
	}
	// the malformed line never reaches the indexer
	for _, batch := range indexer.batches {
		for _, rec := range batch {
			if rec.Line == 2 {
				t.Error("line 2 was submitted despite decode failure")
			}
		}
	}
	if len(dec.Failures()) != 1 || dec.Failures()[0].Line != 2 {
		t.Errorf("decoder failures = %+v", dec.Failures())
	}
}

func TestLoadProgressCallback(t *testing.T) {
	indexer := &fakeIndexer{}
	var last int
	loader := &Loader{
		Indexer: indexer, Index: "properties_raw", BatchSize: 5, Workers: 1,
		State:      appstate.NewIngestState(),
		OnProgress: func(succeeded, _ int) { last = succeeded },
	}

	if _, err := loader.Load(context.Background(), memSourceOf(jsonLines(12)...), &dataset.Decoder{}); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if last != 12 {
		t.Errorf("final progress = %d, want 12", last)
	}
}
