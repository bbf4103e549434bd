package ingest

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeCounter returns scripted counts in sequence, repeating the last.
type fakeCounter struct {
	counts []int64
	calls  int
	err    error
}

func (f *fakeCounter) Count(context.Context, string) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	i := f.calls
	if i >= len(f.counts) {
		i = len(f.counts) - 1
	}
	f.calls++
	return f.counts[i], nil
}

func TestVerifyExactMatch(t *testing.T) {
	counter := &fakeCounter{counts: []int64{5000}}
	v := &Verifier{Counter: counter, CloseThreshold: 100, sleep: noSleep}

	count, ok, err := v.Verify(context.Background(), "properties_raw", 5000)
	if err != nil || !ok {
		t.Fatalf("Verify = (%d, %t, %v), want match", count, ok, err)
	}
	if counter.calls != 1 {
		t.Errorf("Count called %d times, want 1", counter.calls)
	}
}

func TestVerifyCloseUnderRechecksOnce(t *testing.T) {
	counter := &fakeCounter{counts: []int64{4950, 5000}}
	var slept []time.Duration
	v := &Verifier{
		Counter:        counter,
		SettleDelay:    3 * time.Second,
		RecheckDelay:   10 * time.Second,
		CloseThreshold: 100,
		sleep: func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	}

	count, ok, err := v.Verify(context.Background(), "properties_raw", 5000)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok || count != 5000 {
		t.Errorf("Verify = (%d, %t), want (5000, true)", count, ok)
	}
	if counter.calls != 2 {
		t.Errorf("Count called %d times, want 2", counter.calls)
	}
	if len(slept) != 2 || slept[0] != 3*time.Second || slept[1] != 10*time.Second {
		t.Errorf("sleeps = %v", slept)
	}
}

func TestVerifyCloseUnderStillShortFails(t *testing.T) {
	counter := &fakeCounter{counts: []int64{4950, 4950}}
	v := &Verifier{Counter: counter, RecheckDelay: time.Second, CloseThreshold: 100, sleep: noSleep}

	count, ok, err := v.Verify(context.Background(), "properties_raw", 5000)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Error("expected verification failure")
	}
	if count != 4950 {
		t.Errorf("count = %d", count)
	}
	if counter.calls != 2 {
		t.Errorf("Count called %d times, want exactly 2 (one recheck)", counter.calls)
	}
}

func TestVerifyFarUnderFailsWithoutRecheck(t *testing.T) {
	counter := &fakeCounter{counts: []int64{3000}}
	v := &Verifier{Counter: counter, CloseThreshold: 100, sleep: noSleep}

	_, ok, err := v.Verify(context.Background(), "properties_raw", 5000)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Error("expected verification failure")
	}
	if counter.calls != 1 {
		t.Errorf("Count called %d times, want 1", counter.calls)
	}
}

func TestVerifyOverCountFailsWithoutRecheck(t *testing.T) {
	counter := &fakeCounter{counts: []int64{5010}}
	v := &Verifier{Counter: counter, CloseThreshold: 100, sleep: noSleep}

	count, ok, err := v.Verify(context.Background(), "properties_raw", 5000)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Error("an over-count is never a match")
	}
	if count != 5010 || counter.calls != 1 {
		t.Errorf("count=%d calls=%d", count, counter.calls)
	}
}

func TestVerifyPropagatesCountError(t *testing.T) {
	sentinel := errors.New("count unavailable")
	v := &Verifier{Counter: &fakeCounter{err: sentinel}, sleep: noSleep}

	_, _, err := v.Verify(context.Background(), "properties_raw", 5000)
	if !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want sentinel", err)
	}
}

func noSleep(context.Context, time.Duration) error { return nil }
