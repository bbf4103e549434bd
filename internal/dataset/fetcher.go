package dataset

import (
	"bufio"
	"context"
	"net/http"

	"props2mcp/internal/model"
)

// Source yields raw dataset lines in order with their 1-based line numbers.
// Blank lines are included; the decoder decides what to skip so the line
// numbering stays faithful to the source file.
type Source interface {
	EachLine(ctx context.Context, fn func(lineNo int, raw []byte) error) error
}

// maxLineBytes bounds a single NDJSON line. Property documents embed full
// page HTML, so the default bufio.Scanner limit is far too small.
const maxLineBytes = 16 << 20

// StreamSource reads the dataset over HTTP without materializing it. Every
// EachLine call performs a fresh download; retry-capable runs should use
// Materialize instead so each attempt replays identical input.
type StreamSource struct {
	URL    string
	Client *http.Client
}

func (s *StreamSource) EachLine(ctx context.Context, fn func(lineNo int, raw []byte) error) error {
	resp, err := s.open(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if err := fn(lineNo, scanner.Bytes()); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return &model.TransportError{URL: s.URL, Cause: err}
	}
	return nil
}

// Materialize downloads the dataset once into memory so the resulting source
// can be replayed across load attempts without re-downloading.
func (s *StreamSource) Materialize(ctx context.Context) (*MemorySource, error) {
	mem := &MemorySource{}
	err := s.EachLine(ctx, func(_ int, raw []byte) error {
		line := make([]byte, len(raw))
		copy(line, raw)
		mem.lines = append(mem.lines, line)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mem, nil
}

func (s *StreamSource) open(ctx context.Context) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, &model.TransportError{URL: s.URL, Cause: err}
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &model.TransportError{URL: s.URL, Cause: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, &model.TransportError{URL: s.URL, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

// MemorySource replays a materialized line set. Safe for repeated EachLine
// calls; the underlying lines are never mutated.
type MemorySource struct {
	lines [][]byte
}

// NewMemorySource wraps pre-split lines; used by tests and replay paths.
func NewMemorySource(lines [][]byte) *MemorySource {
	return &MemorySource{lines: lines}
}

func (m *MemorySource) Len() int { return len(m.lines) }

func (m *MemorySource) EachLine(ctx context.Context, fn func(lineNo int, raw []byte) error) error {
	for i, line := range m.lines {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(i+1, line); err != nil {
			return err
		}
	}
	return nil
}
