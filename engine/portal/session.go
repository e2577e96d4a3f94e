// Package portal drives one interaction with the RAR public ITP page: load
// the landing page, pull down its challenge image, submit the search form.
// The page is not an API; extraction is regex over the served HTML, robust to
// attribute ordering but intentionally specific to this one portal.
package portal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/itpwatch/itpwatch/engine/captcha"
	"github.com/itpwatch/itpwatch/engine/domain"
)

// DefaultBaseURL is the portal's search page.
const DefaultBaseURL = "https://prog.rarom.ro/rarpol/rarpol.asp"

// DefaultCodeField is the form field carrying the solved challenge code. The
// portal has renamed it across revisions, so it stays configurable.
const DefaultCodeField = "verif_cod"

// DefaultUserAgent identifies the checker to the portal.
const DefaultUserAgent = "Mozilla/5.0 (compatible; itpwatch/1.0)"

// imgTagRe finds the challenge image placeholder regardless of attribute
// order; srcAttrRe pulls the source path out of the matched tag.
var (
	imgTagRe  = regexp.MustCompile(`(?is)<img\b[^>]*\bid\s*=\s*["']?imgVerf["']?[^>]*>`)
	srcAttrRe = regexp.MustCompile(`(?is)\bsrc\s*=\s*["']([^"'>\s]+)["']?`)
)

// Challenge locates one single-use CAPTCHA image. It is created per attempt
// and never reused: the portal invalidates it on every page load.
type Challenge struct {
	// SourceURL is the absolute image URL, resolved against the landing page.
	SourceURL string
}

// Config configures portal sessions.
type Config struct {
	BaseURL   string
	CodeField string
	UserAgent string
	Timeout   time.Duration
	// Limiter spaces requests across all sessions sharing this config.
	Limiter *rate.Limiter
	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.CodeField == "" {
		c.CodeField = DefaultCodeField
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Limiter == nil {
		c.Limiter = rate.NewLimiter(rate.Every(500*time.Millisecond), 3)
	}
	if c.Transport == nil {
		c.Transport = otelhttp.NewTransport(http.DefaultTransport)
	}
	return c
}

// Session is one logical interaction with the portal. Each session carries
// its own cookie jar, so abandoning it drops all associated state.
type Session struct {
	cfg    Config
	base   *url.URL
	client *http.Client
}

// NewSession creates a fresh session. Sessions are single-attempt: create one,
// run load/extract/download/submit in order, discard it.
func NewSession(cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	jar, _ := cookiejar.New(nil)
	return &Session{
		cfg:  cfg,
		base: base,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Jar:       jar,
			Transport: cfg.Transport,
		},
	}, nil
}

// Factory mints fresh sessions sharing one config (and its rate limiter).
type Factory func() (*Session, error)

// NewFactory returns a session factory for the given config.
func NewFactory(cfg Config) Factory {
	cfg = cfg.withDefaults()
	return func() (*Session, error) { return NewSession(cfg) }
}

// LoadLandingPage fetches the search page HTML.
func (s *Session) LoadLandingPage(ctx context.Context) (string, error) {
	body, err := s.get(ctx, s.cfg.BaseURL, "")
	if err != nil {
		return "", fmt.Errorf("landing page: %w", err)
	}
	return string(body), nil
}

// ExtractChallenge locates the challenge image in the landing HTML. A missing
// placeholder means the page layout changed out from under us.
func (s *Session) ExtractChallenge(html string) (Challenge, error) {
	tag := imgTagRe.FindString(html)
	if tag == "" {
		return Challenge{}, fmt.Errorf("%w: challenge image #imgVerf", domain.ErrPageStructureChanged)
	}
	m := srcAttrRe.FindStringSubmatch(tag)
	if m == nil {
		return Challenge{}, fmt.Errorf("%w: challenge image has no src", domain.ErrPageStructureChanged)
	}
	ref, err := url.Parse(m[1])
	if err != nil {
		return Challenge{}, fmt.Errorf("%w: challenge src %q", domain.ErrPageStructureChanged, m[1])
	}
	return Challenge{SourceURL: s.base.ResolveReference(ref).String()}, nil
}

// DownloadChallengeImage fetches the image bytes. The portal's image endpoint
// is referer-sensitive, so the landing page URL is sent along.
func (s *Session) DownloadChallengeImage(ctx context.Context, ch Challenge) ([]byte, error) {
	body, err := s.get(ctx, ch.SourceURL, s.cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("challenge image: %w", err)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty challenge image", domain.ErrPageStructureChanged)
	}
	return body, nil
}

// Submit posts the search form and returns the raw result HTML. Response
// classification (captcha accepted or not) is the caller's job.
func (s *Session) Submit(ctx context.Context, vin, code string) (string, error) {
	form := url.Values{
		"serie_civ": {""},
		"nr_id":     {domain.NormalizeVIN(vin)},
		"trimite":   {"Caută"},
		"from_url":  {""},
		"id":        {""},
	}
	form.Set(s.cfg.CodeField, captcha.SanitizeDigits(code))

	if err := s.cfg.Limiter.Wait(ctx); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", s.cfg.UserAgent)
	req.Header.Set("Referer", s.cfg.BaseURL)
	req.Header.Set("Origin", s.base.Scheme+"://"+s.base.Host)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit: %w", classify(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("submit: %w: %d", domain.ErrHTTPStatus, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("submit: read body: %w", err)
	}
	return string(body), nil
}

func (s *Session) get(ctx context.Context, rawURL, referer string) ([]byte, error) {
	if err := s.cfg.Limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", s.cfg.UserAgent)
	if referer != "" {
		req.Header.Set("Referer", referer)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %d from %s", domain.ErrHTTPStatus, resp.StatusCode, rawURL)
	}
	return io.ReadAll(resp.Body)
}

// classify maps transport errors onto the failure taxonomy.
func classify(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) && ue.Timeout() {
		return fmt.Errorf("%w: %s", domain.ErrTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", domain.ErrTimeout, err)
	}
	return err
}
