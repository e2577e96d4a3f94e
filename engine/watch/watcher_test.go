package watch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/itpwatch/itpwatch/engine/domain"
	"github.com/itpwatch/itpwatch/pkg/fn"
)

// fakeFetcher counts calls and can be scripted to fail first.
type fakeFetcher struct {
	mu       sync.Mutex
	calls    map[string]int
	failures int // fail this many calls per vehicle before succeeding
}

func newFakeFetcher(failures int) *fakeFetcher {
	return &fakeFetcher{calls: make(map[string]int), failures: failures}
}

func (f *fakeFetcher) Fetch(_ context.Context, req domain.LookupRequest) (domain.InspectionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.VIN]++
	if f.calls[req.VIN] <= f.failures {
		return domain.InspectionRecord{}, &domain.AggregatedError{
			VIN: req.VIN, Attempts: 3, Cause: domain.ErrTimeout,
		}
	}
	return domain.InspectionRecord{
		VIN:            req.VIN,
		Status:         domain.StatusValid,
		ExpirationDate: "2026-03-05",
		CheckedAt:      time.Now(),
	}, nil
}

func (f *fakeFetcher) callsFor(vin string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[vin]
}

func testConfig() Config {
	return Config{
		Interval: time.Hour,
		Retry:    fn.RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: time.Millisecond},
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func TestWatcherInitialRefreshAndSink(t *testing.T) {
	fetcher := newFakeFetcher(0)
	recs := make(chan domain.InspectionRecord, 4)
	w := New(testConfig(), fetcher, func(_ context.Context, r domain.InspectionRecord) {
		recs <- r
	})
	if err := w.Add(domain.LookupRequest{VIN: "wauzzz8k79a000000"}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { w.Run(ctx); close(done) }()

	select {
	case r := <-recs:
		if r.VIN != "WAUZZZ8K79A000000" || r.Status != domain.StatusValid {
			t.Fatalf("sink record = %+v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sink never received the first record")
	}

	if got, ok := w.Latest("WAUZZZ8K79A000000"); !ok || got.ExpirationDate != "2026-03-05" {
		t.Fatalf("Latest = %+v, %v", got, ok)
	}
	if snap := w.Snapshot(); len(snap) != 1 {
		t.Fatalf("Snapshot = %d records", len(snap))
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop on cancellation")
	}
}

func TestWatcherMetaRetry(t *testing.T) {
	// Two failures, third fetch succeeds: the meta-retry absorbs them within
	// one scheduled refresh.
	fetcher := newFakeFetcher(2)
	w := New(testConfig(), fetcher, nil)
	if err := w.Add(domain.LookupRequest{VIN: "VF1TESTVIN123"}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go w.Run(ctx)

	deadline := time.After(2 * time.Second)
	for {
		if _, ok := w.Latest("VF1TESTVIN123"); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("record never appeared despite meta-retry")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if got := fetcher.callsFor("VF1TESTVIN123"); got != 3 {
		t.Fatalf("fetch calls = %d, want 3", got)
	}
}

func TestWatcherKeepsPreviousRecordOnFailure(t *testing.T) {
	fetcher := newFakeFetcher(0)
	w := New(testConfig(), fetcher, nil)
	w.Add(domain.LookupRequest{VIN: "VF1TESTVIN123"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	deadline := time.After(2 * time.Second)
	for {
		if _, ok := w.Latest("VF1TESTVIN123"); ok {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first record never appeared")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// All further fetches fail; a forced check must not wipe the record.
	fetcher.mu.Lock()
	fetcher.failures = 1 << 30
	fetcher.mu.Unlock()

	if err := w.ForceCheck("VF1TESTVIN123"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	if _, ok := w.Latest("VF1TESTVIN123"); !ok {
		t.Fatal("previous record was dropped after a failed refresh")
	}
}

func TestForceCheckUnknownVehicle(t *testing.T) {
	w := New(testConfig(), newFakeFetcher(0), nil)
	if err := w.ForceCheck("NOPE123"); !errors.Is(err, ErrUnknownVehicle) {
		t.Fatalf("err = %v", err)
	}
}

func TestAddValidation(t *testing.T) {
	w := New(testConfig(), newFakeFetcher(0), nil)
	if err := w.Add(domain.LookupRequest{VIN: ""}); !errors.Is(err, domain.ErrEmptyVIN) {
		t.Fatalf("err = %v", err)
	}
	if err := w.Add(domain.LookupRequest{VIN: "VF1TESTVIN123"}); err != nil {
		t.Fatal(err)
	}
	// Duplicate registration is a no-op.
	if err := w.Add(domain.LookupRequest{VIN: "vf1testvin123"}); err != nil {
		t.Fatal(err)
	}
	w.mu.RLock()
	n := len(w.vehicles)
	w.mu.RUnlock()
	if n != 1 {
		t.Fatalf("registry size = %d", n)
	}
}
