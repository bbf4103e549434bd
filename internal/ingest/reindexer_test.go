package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"props2mcp/internal/elastic"
	"props2mcp/internal/model"
)

// fakeTaskClient scripts one TaskStatus sequence per started task and records
// every call so tests can assert the delete-recreate-retry choreography.
type fakeTaskClient struct {
	// statuses[i] is the poll sequence for the i-th StartReindex call.
	statuses [][]elastic.TaskStatus

	started   int
	polls     int
	deleted   []string
	created   []string
	startErr  error
	mappings  []string
	lastDocs  int64
	taskIDs   []string
}

func (f *fakeTaskClient) StartReindex(_ context.Context, source, dest string, maxDocs int64) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	f.lastDocs = maxDocs
	id := string(rune('a' + f.started))
	f.started++
	f.polls = 0
	return id, nil
}

func (f *fakeTaskClient) GetTask(_ context.Context, taskID string) (elastic.TaskStatus, error) {
	f.taskIDs = append(f.taskIDs, taskID)
	seq := f.statuses[f.started-1]
	i := f.polls
	if i >= len(seq) {
		i = len(seq) - 1
	}
	f.polls++
	return seq[i], nil
}

func (f *fakeTaskClient) EnsureDeleted(_ context.Context, index string) error {
	f.deleted = append(f.deleted, index)
	return nil
}

func (f *fakeTaskClient) CreateIndex(_ context.Context, index, mapping string) error {
	f.created = append(f.created, index)
	f.mappings = append(f.mappings, mapping)
	return nil
}

func TestReindexPollsUntilComplete(t *testing.T) {
	client := &fakeTaskClient{statuses: [][]elastic.TaskStatus{{
		{Completed: false, Created: 2000, Total: 5000},
		{Completed: false, Created: 4500, Total: 5000},
		{Completed: true, Created: 5000, Total: 5000, TookMillis: 8200},
	}}}
	var slept []time.Duration
	r := &Reindexer{
		Client:       client,
		Source:       "properties_raw",
		Dest:         "properties",
		PollInterval: 10 * time.Second,
		Retries:      2,
		sleep: func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	}

	result, err := r.Run(context.Background(), 5000)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Created != 5000 {
		t.Errorf("Created = %d, want 5000", result.Created)
	}
	if result.Took != 8200*time.Millisecond {
		t.Errorf("Took = %s", result.Took)
	}
	if client.started != 1 {
		t.Errorf("StartReindex called %d times, want 1", client.started)
	}
	// two incomplete polls mean two waits
	if len(slept) != 2 || slept[0] != 10*time.Second {
		t.Errorf("sleeps = %v", slept)
	}
	if len(client.deleted) != 0 || len(client.created) != 0 {
		t.Error("a clean run must not touch the destination index")
	}
}

func TestReindexRecreatesDestOnShortCount(t *testing.T) {
	client := &fakeTaskClient{statuses: [][]elastic.TaskStatus{
		{{Completed: true, Created: 4990}},
		{{Completed: true, Created: 5000}},
	}}
	r := &Reindexer{
		Client:      client,
		Source:      "properties_raw",
		Dest:        "properties",
		DestMapping: `{"mappings":{}}`,
		Retries:     2,
		sleep:       noSleep,
	}

	result, err := r.Run(context.Background(), 5000)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Created != 5000 {
		t.Errorf("Created = %d, want 5000", result.Created)
	}
	if client.started != 2 {
		t.Errorf("StartReindex called %d times, want 2", client.started)
	}
	if len(client.deleted) != 1 || client.deleted[0] != "properties" {
		t.Errorf("deleted = %v, want destination recreated once", client.deleted)
	}
	if len(client.created) != 1 || client.mappings[0] != `{"mappings":{}}` {
		t.Errorf("created = %v mappings = %v", client.created, client.mappings)
	}
}

func TestReindexExhaustsRetries(t *testing.T) {
	client := &fakeTaskClient{statuses: [][]elastic.TaskStatus{
		{{Completed: true, Created: 100}},
		{{Completed: true, Created: 100}},
		{{Completed: true, Created: 100}},
	}}
	r := &Reindexer{
		Client:  client,
		Source:  "properties_raw",
		Dest:    "properties",
		Retries: 2,
		sleep:   noSleep,
	}

	_, err := r.Run(context.Background(), 5000)
	if !errors.Is(err, model.ErrRetryExhausted) {
		t.Fatalf("err = %v, want ErrRetryExhausted", err)
	}
	// attempt 0 plus two retries
	if client.started != 3 {
		t.Errorf("StartReindex called %d times, want 3", client.started)
	}
	if len(client.deleted) != 2 {
		t.Errorf("destination recreated %d times, want 2", len(client.deleted))
	}
}

func TestReindexSkipsCountCheckWhenExpectedUnset(t *testing.T) {
	client := &fakeTaskClient{statuses: [][]elastic.TaskStatus{
		{{Completed: true, Created: 123}},
	}}
	r := &Reindexer{Client: client, Source: "properties_raw", Dest: "properties", sleep: noSleep}

	result, err := r.Run(context.Background(), 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Created != 123 || client.started != 1 {
		t.Errorf("created=%d starts=%d", result.Created, client.started)
	}
}

func TestReindexForwardsMaxDocsAndPollsStartedTask(t *testing.T) {
	client := &fakeTaskClient{statuses: [][]elastic.TaskStatus{
		{{Completed: false, Created: 50, Total: 100}, {Completed: true, Created: 100, Total: 100}},
	}}
	r := &Reindexer{
		Client:  client,
		Source:  "properties_raw",
		Dest:    "properties",
		MaxDocs: 100,
		sleep:   noSleep,
	}

	result, err := r.Run(context.Background(), 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Created != 100 {
		t.Errorf("Created = %d, want 100", result.Created)
	}
	if client.lastDocs != 100 {
		t.Errorf("StartReindex maxDocs = %d, want 100", client.lastDocs)
	}
	for i, id := range client.taskIDs {
		if id != "a" {
			t.Errorf("poll %d hit task %q, want the started task", i, id)
		}
	}
	if len(client.taskIDs) != 2 {
		t.Errorf("GetTask called %d times, want 2", len(client.taskIDs))
	}
}

func TestReindexPropagatesStartError(t *testing.T) {
	sentinel := errors.New("cluster unreachable")
	r := &Reindexer{Client: &fakeTaskClient{startErr: sentinel}, Dest: "properties", sleep: noSleep}

	_, err := r.Run(context.Background(), 5000)
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want start error", err)
	}
}
