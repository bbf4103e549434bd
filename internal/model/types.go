package model

import (
	"fmt"
	"strings"
	"time"
)

// RawRecord is one decoded line from the source stream. The document body is
// kept as raw JSON and never interpreted; Line is the 1-based line number in
// the source and travels with the record through the bulk path so failures
// stay attributable to source lines.
type RawRecord struct {
	Line int
	Doc  []byte
}

// FailureRecord captures one failed document or batch. Line is zero when the
// failure could not be tied back to a source line (batch-level errors carry
// the document ID instead, when one was assigned).
type FailureRecord struct {
	Line   int    `json:"line_number,omitempty"`
	DocID  string `json:"doc_id,omitempty"`
	Type   string `json:"error_type"`
	Reason string `json:"reason"`
}

func (f FailureRecord) String() string {
	var b strings.Builder
	if f.Line > 0 {
		fmt.Fprintf(&b, "line %d: ", f.Line)
	} else if f.DocID != "" {
		fmt.Fprintf(&b, "doc %s: ", f.DocID)
	}
	fmt.Fprintf(&b, "%s: %s", f.Type, f.Reason)
	return b.String()
}

// LoadOutcome summarizes one load attempt. FinalCount is the live document
// count observed after the settle delay; ExpectedCount comes from the active
// dataset variant.
type LoadOutcome struct {
	SuccessCount  int
	ErrorCount    int
	Failures      []FailureRecord
	FinalCount    int64
	ExpectedCount int64
}

// Verified reports whether the attempt left the destination with exactly the
// expected number of documents.
func (o LoadOutcome) Verified() bool {
	return o.FinalCount == o.ExpectedCount
}

// ReindexResult is the terminal state of one server-side copy task.
type ReindexResult struct {
	TaskID  string
	Created int64
	Took    time.Duration
}

// SearchHit is one formatted property result returned by the search tool.
type SearchHit struct {
	Title         string      `json:"title"`
	Tax           interface{} `json:"tax"`
	Maintenance   interface{} `json:"maintenance"`
	Bathrooms     interface{} `json:"bathrooms"`
	Bedrooms      interface{} `json:"bedrooms"`
	SquareFootage interface{} `json:"square_footage"`
	HomePrice     interface{} `json:"home_price"`
	Features      interface{} `json:"features"`
}

// GeoPoint is a geocoded coordinate pair.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// RunRecord is one pipeline run as persisted in the run ledger.
type RunRecord struct {
	RunID        string
	Variant      string
	StartedAt    time.Time
	FinishedAt   time.Time
	Attempts     int
	SuccessCount int
	ErrorCount   int
	FinalCount   int64
	Reindexed    int64
	Succeeded    bool
}
