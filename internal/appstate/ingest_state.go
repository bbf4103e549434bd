package appstate

import (
	"strings"
	"sync/atomic"
)

const (
	PhaseIdle      = "idle"
	PhaseLoading   = "loading"
	PhaseVerifying = "verifying"
	PhaseReindex   = "reindexing"
	PhaseDone      = "done"
	PhaseFailed    = "failed"
)

// IngestSnapshot is a point-in-time view of pipeline progress, read by the
// stats tool and the status command.
type IngestSnapshot struct {
	RunID     string
	Running   bool
	Phase     string
	Attempt   int64
	Attempted int64
	Decoded   int64
	Succeeded int64
	Failed    int64
	Reindexed int64
}

// IngestState tracks pipeline counters with atomics so the MCP server can
// read them without sharing locks with the pipeline.
type IngestState struct {
	runID   atomic.Value
	phase   atomic.Value
	running atomic.Bool

	attempt   atomic.Int64
	attempted atomic.Int64
	decoded   atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	reindexed atomic.Int64
}

func NewIngestState() *IngestState {
	s := &IngestState{}
	s.phase.Store(PhaseIdle)
	return s
}

func (s *IngestState) SetRunID(id string) {
	if s == nil {
		return
	}
	s.runID.Store(strings.TrimSpace(id))
}

func (s *IngestState) SetPhase(phase string) {
	if s == nil {
		return
	}
	s.phase.Store(phase)
}

func (s *IngestState) SetRunning(running bool) {
	if s == nil {
		return
	}
	s.running.Store(running)
}

func (s *IngestState) SetAttempt(n int64) {
	if s == nil {
		return
	}
	s.attempt.Store(n)
}

// ResetCounters zeroes the per-attempt counters; called before each reload so
// the snapshot reflects the attempt in flight rather than a running total.
func (s *IngestState) ResetCounters() {
	if s == nil {
		return
	}
	s.attempted.Store(0)
	s.decoded.Store(0)
	s.succeeded.Store(0)
	s.failed.Store(0)
}

func (s *IngestState) AddAttempted(delta int64) {
	if s == nil {
		return
	}
	s.attempted.Add(delta)
}

func (s *IngestState) AddDecoded(delta int64) {
	if s == nil {
		return
	}
	s.decoded.Add(delta)
}

func (s *IngestState) AddSucceeded(delta int64) {
	if s == nil {
		return
	}
	s.succeeded.Add(delta)
}

func (s *IngestState) AddFailed(delta int64) {
	if s == nil {
		return
	}
	s.failed.Add(delta)
}

func (s *IngestState) SetReindexed(n int64) {
	if s == nil {
		return
	}
	s.reindexed.Store(n)
}

func (s *IngestState) Snapshot() IngestSnapshot {
	if s == nil {
		return IngestSnapshot{Phase: PhaseIdle}
	}
	return IngestSnapshot{
		RunID:     loadString(&s.runID, ""),
		Running:   s.running.Load(),
		Phase:     loadString(&s.phase, PhaseIdle),
		Attempt:   s.attempt.Load(),
		Attempted: s.attempted.Load(),
		Decoded:   s.decoded.Load(),
		Succeeded: s.succeeded.Load(),
		Failed:    s.failed.Load(),
		Reindexed: s.reindexed.Load(),
	}
}

func loadString(value *atomic.Value, fallback string) string {
	raw := value.Load()
	cast, ok := raw.(string)
	if !ok {
		return fallback
	}
	return cast
}
