// Package watch schedules periodic ITP lookups for a set of vehicles and
// keeps the latest record per vehicle. The registry lives here, with the
// scheduler, so the lookup engine itself stays stateless per call. Only the
// latest fetch is retained; there is no history.
package watch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/itpwatch/itpwatch/engine/domain"
	"github.com/itpwatch/itpwatch/engine/result"
	"github.com/itpwatch/itpwatch/pkg/fn"
)

// DefaultInterval is the refresh cadence. ITP status changes on the scale of
// months; hours-scale polling is already generous.
const DefaultInterval = 6 * time.Hour

// Fetcher runs one lookup. Implemented by lookup.Checker.
type Fetcher interface {
	Fetch(ctx context.Context, req domain.LookupRequest) (domain.InspectionRecord, error)
}

// Sink receives every successfully fetched record.
type Sink func(ctx context.Context, rec domain.InspectionRecord)

// Config configures a Watcher.
type Config struct {
	Interval time.Duration
	// Retry wraps each scheduled fetch; the lookup engine already retries
	// internally, this is the scheduler's own meta-retry.
	Retry   fn.RetryOpts
	Logger  *slog.Logger
	Metrics *Metrics
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = fn.FixedRetry
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics()
	}
	return c
}

// entry is one registered vehicle.
type entry struct {
	req    domain.LookupRequest
	kick   chan struct{}
	latest *domain.InspectionRecord
	// lastErr is the most recent terminal failure; cleared on success.
	lastErr error
}

// Watcher owns the vehicle registry and the refresh loops.
type Watcher struct {
	cfg     Config
	fetcher Fetcher
	sink    Sink

	mu       sync.RWMutex
	vehicles map[string]*entry
}

// ErrUnknownVehicle is returned for operations on an unregistered VIN.
var ErrUnknownVehicle = errors.New("vehicle not registered")

// New creates a Watcher. sink may be nil.
func New(cfg Config, fetcher Fetcher, sink Sink) *Watcher {
	return &Watcher{
		cfg:      cfg.withDefaults(),
		fetcher:  fetcher,
		sink:     sink,
		vehicles: make(map[string]*entry),
	}
}

// Add registers a vehicle. Its refresh loop starts on the next Run; adding
// after Run has started is not supported.
func (w *Watcher) Add(req domain.LookupRequest) error {
	vin := domain.NormalizeVIN(req.VIN)
	if err := domain.ValidateVIN(vin); err != nil {
		return err
	}
	req.VIN = vin
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, dup := w.vehicles[vin]; dup {
		return nil
	}
	w.vehicles[vin] = &entry{req: req, kick: make(chan struct{}, 1)}
	return nil
}

// Latest returns the most recent record for a vehicle, if any fetch has
// succeeded yet.
func (w *Watcher) Latest(vin string) (domain.InspectionRecord, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	e, ok := w.vehicles[domain.NormalizeVIN(vin)]
	if !ok || e.latest == nil {
		return domain.InspectionRecord{}, false
	}
	return *e.latest, true
}

// Snapshot returns the latest record of every vehicle that has one.
func (w *Watcher) Snapshot() []domain.InspectionRecord {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]domain.InspectionRecord, 0, len(w.vehicles))
	for _, e := range w.vehicles {
		if e.latest != nil {
			out = append(out, *e.latest)
		}
	}
	return out
}

// ForceCheck triggers an immediate refresh for one vehicle, the manual
// check-now path. Non-blocking; a refresh already in flight absorbs it.
func (w *Watcher) ForceCheck(vin string) error {
	w.mu.RLock()
	e, ok := w.vehicles[domain.NormalizeVIN(vin)]
	w.mu.RUnlock()
	if !ok {
		return ErrUnknownVehicle
	}
	select {
	case e.kick <- struct{}{}:
	default:
	}
	return nil
}

// Run refreshes every registered vehicle once, then keeps them fresh until
// ctx is cancelled. Vehicles refresh independently and never serialize
// against each other.
func (w *Watcher) Run(ctx context.Context) {
	w.mu.RLock()
	entries := make([]*entry, 0, len(w.vehicles))
	for _, e := range w.vehicles {
		entries = append(entries, e)
	}
	w.mu.RUnlock()

	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()
			w.loop(ctx, e)
		}(e)
	}
	wg.Wait()
}

func (w *Watcher) loop(ctx context.Context, e *entry) {
	w.refresh(ctx, e)
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-e.kick:
		}
		w.refresh(ctx, e)
	}
}

// refresh runs one scheduled fetch with the meta-retry policy and records
// the outcome. A failure keeps the previous record in place.
func (w *Watcher) refresh(ctx context.Context, e *entry) {
	start := time.Now()
	res := fn.Retry(ctx, w.cfg.Retry, func(ctx context.Context) fn.Result[domain.InspectionRecord] {
		return fn.FromPair(w.fetcher.Fetch(ctx, e.req))
	})
	rec, err := res.Unwrap()
	w.cfg.Metrics.observeDuration(time.Since(start))

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.mu.Lock()
		e.lastErr = err
		w.mu.Unlock()
		w.cfg.Metrics.countLookup(outcomeOf(err))
		w.cfg.Logger.Error("scheduled itp check failed", "vin", e.req.VIN, "err", err)
		return
	}

	w.mu.Lock()
	e.latest = &rec
	e.lastErr = nil
	w.mu.Unlock()

	w.cfg.Metrics.countLookup(string(rec.Status))
	if days, ok := result.DaysUntil(rec.ExpirationDate, time.Now()); ok {
		w.cfg.Metrics.setDaysLeft(rec.VIN, days)
	}
	w.cfg.Logger.Info("itp record refreshed",
		"vin", rec.VIN, "status", rec.Status, "expires", rec.ExpirationDate)

	if w.sink != nil {
		w.sink(ctx, rec)
	}
}

// outcomeOf labels a failed refresh for metrics.
func outcomeOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrCaptchaRejected):
		return "captcha_rejected"
	case errors.Is(err, domain.ErrCaptchaInvalidFormat):
		return "captcha_unreadable"
	case errors.Is(err, domain.ErrOCRBackend), errors.Is(err, domain.ErrOCRUnavailable):
		return "ocr_error"
	case errors.Is(err, domain.ErrTimeout):
		return "timeout"
	default:
		return "error"
	}
}
