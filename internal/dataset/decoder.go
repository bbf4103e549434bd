package dataset

import (
	"bytes"
	"encoding/json"
	"log"

	"props2mcp/internal/model"
)

// Decoder turns raw lines into records, isolating decode failures per line.
// Blank lines are skipped silently: they count as neither records nor
// failures. The attempted/decoded counters feed final reporting.
type Decoder struct {
	Logger *log.Logger

	attempted int
	decoded   int
	failures  []model.FailureRecord
}

// Decode parses one line. The bool result is false when the line produced no
// record (blank, or malformed with a failure recorded).
func (d *Decoder) Decode(lineNo int, raw []byte) (model.RawRecord, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return model.RawRecord{}, false
	}
	d.attempted++

	if !json.Valid(trimmed) {
		d.failures = append(d.failures, model.FailureRecord{
			Line:   lineNo,
			Type:   "json_decode_error",
			Reason: "invalid JSON syntax",
		})
		return model.RawRecord{}, false
	}

	doc := make([]byte, len(trimmed))
	copy(doc, trimmed)
	d.decoded++
	if d.Logger != nil && d.decoded%1000 == 0 {
		d.Logger.Printf("decoded %d records (%d attempted)", d.decoded, d.attempted)
	}
	return model.RawRecord{Line: lineNo, Doc: doc}, true
}

// Attempted is the number of non-blank lines seen.
func (d *Decoder) Attempted() int { return d.attempted }

// Decoded is the number of lines that produced a record.
func (d *Decoder) Decoded() int { return d.decoded }

// Failures returns the decode failure records accumulated so far.
func (d *Decoder) Failures() []model.FailureRecord { return d.failures }
