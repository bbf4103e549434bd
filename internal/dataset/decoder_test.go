package dataset

import (
	"testing"
)

func TestDecodeValidLine(t *testing.T) {
	dec := &Decoder{}

	rec, ok := dec.Decode(1, []byte(`{"title":"2 bed condo"}`))
	if !ok {
		t.Fatal("expected valid JSON line to decode")
	}
	if rec.Line != 1 {
		t.Errorf("Line = %d, want 1", rec.Line)
	}
	if string(rec.Doc) != `{"title":"2 bed condo"}` {
		t.Errorf("Doc = %q", rec.Doc)
	}
	if dec.Attempted() != 1 || dec.Decoded() != 1 || len(dec.Failures()) != 0 {
		t.Errorf("counters = %d/%d/%d, want 1/1/0", dec.Attempted(), dec.Decoded(), len(dec.Failures()))
	}
}

func TestDecodeCopiesUnderlyingBytes(t *testing.T) {
	dec := &Decoder{}
	raw := []byte(`{"a":1}`)

	rec, ok := dec.Decode(1, raw)
	if !ok {
		t.Fatal("expected decode to succeed")
	}
	raw[2] = 'x' // scanner buffers get reused between lines
	if string(rec.Doc) != `{"a":1}` {
		t.Errorf("Doc mutated to %q", rec.Doc)
	}
}

func TestDecodeBlankLinesSkippedSilently(t *testing.T) {
	dec := &Decoder{}

	for _, raw := range [][]byte{nil, []byte(""), []byte("   "), []byte("\t")} {
		if _, ok := dec.Decode(1, raw); ok {
			t.Errorf("blank line %q produced a record", raw)
		}
	}
	if dec.Attempted() != 0 || len(dec.Failures()) != 0 {
		t.Errorf("blank lines counted: attempted=%d failures=%d", dec.Attempted(), len(dec.Failures()))
	}
}

func TestDecodeMalformedLineRecordsFailureAndContinues(t *testing.T) {
	dec := &Decoder{}

	if _, ok := dec.Decode(236, []byte(`{"ok":true}`)); !ok {
		t.Fatal("line 236 should decode")
	}
	if _, ok := dec.Decode(237, []byte(`{"broken": `)); ok {
		t.Fatal("malformed line 237 should not decode")
	}
	if _, ok := dec.Decode(238, []byte(`{"ok":true}`)); !ok {
		t.Fatal("line 238 should decode")
	}

	failures := dec.Failures()
	if len(failures) != 1 {
		t.Fatalf("failures = %d, want 1", len(failures))
	}
	f := failures[0]
	if f.Line != 237 {
		t.Errorf("failure line = %d, want 237", f.Line)
	}
	if f.Type != "json_decode_error" {
		t.Errorf("failure type = %q", f.Type)
	}
	if dec.Attempted() != 3 || dec.Decoded() != 2 {
		t.Errorf("attempted=%d decoded=%d, want 3/2", dec.Attempted(), dec.Decoded())
	}
}
