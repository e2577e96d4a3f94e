// Package lookup orchestrates one ITP status check: fresh portal session,
// challenge download, bounded OCR retries, form submission, and result
// classification. Retry happens at two nested levels — OCR sub-attempts on
// the same image inside an attempt, and whole attempts with a fresh challenge
// outside — because an illegible image needs a re-fetch, not just a re-read.
package lookup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/itpwatch/itpwatch/engine/captcha"
	"github.com/itpwatch/itpwatch/engine/domain"
	"github.com/itpwatch/itpwatch/engine/portal"
	"github.com/itpwatch/itpwatch/engine/result"
)

// rejectionPhrase is the portal's answer when the submitted code was wrong.
// Matching is case-insensitive over the raw result HTML.
const rejectionPhrase = "codul de verificare a fost copiat incorect"

const (
	// DefaultMaxAttempts bounds full session/challenge/submit cycles.
	DefaultMaxAttempts = 3
	// DefaultMaxSolves bounds OCR calls on one challenge image.
	DefaultMaxSolves = 3
	// DefaultRetryDelay spaces consecutive attempts so retries do not hammer
	// the portal. Fixed, not exponential: three bounded attempts are cheap.
	DefaultRetryDelay = 2 * time.Second
)

// Config configures a Checker.
type Config struct {
	MaxAttempts int
	MaxSolves   int
	RetryDelay  time.Duration
	Logger      *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.MaxSolves <= 0 {
		c.MaxSolves = DefaultMaxSolves
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// SolverFactory builds a solver for the API key carried by a request.
type SolverFactory func(apiKey string) captcha.Solver

// Checker runs lookups. It holds no per-lookup state; concurrent Fetch calls
// for different vehicles are independent.
type Checker struct {
	cfg      Config
	sessions portal.Factory
	solvers  SolverFactory
	parser   *result.Parser
	sleep    func(ctx context.Context, d time.Duration) error
}

// New creates a Checker. A nil solvers factory defaults to the hosted
// OCR.Space backend keyed per request.
func New(cfg Config, sessions portal.Factory, solvers SolverFactory) *Checker {
	cfg = cfg.withDefaults()
	if sessions == nil {
		sessions = portal.NewFactory(portal.Config{})
	}
	if solvers == nil {
		solvers = func(apiKey string) captcha.Solver {
			return captcha.NewOCRSpace(apiKey)
		}
	}
	return &Checker{
		cfg:      cfg,
		sessions: sessions,
		solvers:  solvers,
		parser:   &result.Parser{Logger: cfg.Logger},
		sleep:    sleepCtx,
	}
}

// Fetch retrieves the current ITP status for one vehicle. It returns a
// complete record or, after exhausting all attempts, an AggregatedError
// carrying the last proximate cause. It never returns a partial record.
func (c *Checker) Fetch(ctx context.Context, req domain.LookupRequest) (domain.InspectionRecord, error) {
	vin := domain.NormalizeVIN(req.VIN)
	if err := domain.ValidateVIN(vin); err != nil {
		return domain.InspectionRecord{}, err
	}

	ctx, span := otel.Tracer("itpwatch/lookup").Start(ctx, "itp.fetch",
		trace.WithAttributes(attribute.String("vehicle.vin", vin)))
	defer span.End()

	solver := c.solvers(req.OCRAPIKey)

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := c.sleep(ctx, c.cfg.RetryDelay); err != nil {
				return domain.InspectionRecord{}, err
			}
		}

		html, err := c.attempt(ctx, vin, solver)
		if err != nil {
			if ctx.Err() != nil {
				return domain.InspectionRecord{}, ctx.Err()
			}
			lastErr = err
			c.cfg.Logger.Warn("itp attempt failed",
				"vin", vin, "attempt", attempt, "err", err)
			continue
		}

		rec := c.parser.Parse(vin, html)
		c.cfg.Logger.Info("itp lookup complete",
			"vin", vin, "status", rec.Status, "expires", rec.ExpirationDate,
			"attempts", attempt)
		return rec, nil
	}

	return domain.InspectionRecord{}, &domain.AggregatedError{
		VIN:      vin,
		Attempts: c.cfg.MaxAttempts,
		Cause:    lastErr,
	}
}

// attempt runs one full session cycle and returns the accepted result HTML.
func (c *Checker) attempt(ctx context.Context, vin string, solver captcha.Solver) (string, error) {
	sess, err := c.sessions()
	if err != nil {
		return "", domain.NewLookupError("session", err)
	}

	html, err := sess.LoadLandingPage(ctx)
	if err != nil {
		return "", domain.NewLookupError("landing", err)
	}
	ch, err := sess.ExtractChallenge(html)
	if err != nil {
		return "", domain.NewLookupError("extract", err)
	}
	img, err := sess.DownloadChallengeImage(ctx, ch)
	if err != nil {
		return "", domain.NewLookupError("download", err)
	}

	// Inner loop: re-read the same image. The image is only re-fetched on the
	// next outer attempt, in case it is genuinely illegible.
	code, err := c.solve(ctx, solver, img)
	if err != nil {
		return "", err
	}

	resHTML, err := sess.Submit(ctx, vin, code)
	if err != nil {
		return "", domain.NewLookupError("submit", err)
	}
	if strings.Contains(strings.ToLower(resHTML), rejectionPhrase) {
		return "", domain.NewLookupError("verify", domain.ErrCaptchaRejected)
	}
	return resHTML, nil
}

// solve runs bounded OCR sub-attempts against one challenge image.
func (c *Checker) solve(ctx context.Context, solver captcha.Solver, img []byte) (string, error) {
	var lastErr error
	for sub := 1; sub <= c.cfg.MaxSolves; sub++ {
		code, err := solver.Solve(ctx, img)
		if err == nil {
			return code, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		lastErr = err
		c.cfg.Logger.Debug("captcha solve failed", "sub_attempt", sub, "err", err)
	}
	return "", domain.NewLookupError("solve", fmt.Errorf("%d ocr attempts: %w", c.cfg.MaxSolves, lastErr))
}

// sleepCtx waits for d unless the context is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsTerminal reports whether err is the orchestrator's terminal failure, as
// opposed to input validation rejections or caller cancellation.
func IsTerminal(err error) bool {
	var agg *domain.AggregatedError
	return errors.As(err, &agg)
}
