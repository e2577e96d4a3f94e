package captcha

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/itpwatch/itpwatch/engine/domain"
)

// DefaultOCRSpaceURL is the hosted OCR endpoint.
const DefaultOCRSpaceURL = "https://api.ocr.space/parse/image"

// demoAPIKey is OCR.Space's public free-tier key, used when no key is configured.
const demoAPIKey = "helloworld"

// OCRSpace solves challenges through the OCR.Space HTTP API.
type OCRSpace struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// OCRSpaceOption configures an OCRSpace solver.
type OCRSpaceOption func(*OCRSpace)

// WithEndpoint overrides the API endpoint, mainly for tests.
func WithEndpoint(u string) OCRSpaceOption {
	return func(o *OCRSpace) { o.endpoint = u }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) OCRSpaceOption {
	return func(o *OCRSpace) { o.client = c }
}

// NewOCRSpace creates a hosted solver. An empty apiKey falls back to the
// public demo tier.
func NewOCRSpace(apiKey string, opts ...OCRSpaceOption) *OCRSpace {
	o := &OCRSpace{
		endpoint: DefaultOCRSpaceURL,
		apiKey:   apiKey,
		client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.apiKey == "" {
		o.apiKey = demoAPIKey
	}
	return o
}

// ocrResponse is the OCR.Space parse response, reduced to what we read.
type ocrResponse struct {
	ParsedResults []struct {
		ParsedText string `json:"ParsedText"`
	} `json:"ParsedResults"`
	IsErroredOnProcessing bool            `json:"IsErroredOnProcessing"`
	ErrorMessage          json.RawMessage `json:"ErrorMessage"` // string or []string
}

// Solve implements Solver. One outbound call, no internal retries.
func (o *OCRSpace) Solve(ctx context.Context, image []byte) (string, error) {
	if len(image) == 0 {
		return "", fmt.Errorf("%w: empty image", domain.ErrCaptchaInvalidFormat)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "captcha.png")
	if err != nil {
		return "", fmt.Errorf("build form: %w", err)
	}
	if _, err := fw.Write(image); err != nil {
		return "", fmt.Errorf("build form: %w", err)
	}
	mw.WriteField("apikey", o.apiKey)
	mw.WriteField("language", "eng")
	mw.WriteField("OCREngine", "2")
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := o.client.Do(req)
	if err != nil {
		// Timeouts and refused connections alike: the backend is unreachable.
		return "", fmt.Errorf("%w: %s", domain.ErrOCRUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %s", domain.ErrOCRUnavailable, err)
	}

	var parsed ocrResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("%w: non-JSON response (status %d)", domain.ErrOCRBackend, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK || parsed.IsErroredOnProcessing {
		return "", fmt.Errorf("%w: %s", domain.ErrOCRBackend, errorMessage(parsed.ErrorMessage))
	}
	if len(parsed.ParsedResults) == 0 {
		return "", fmt.Errorf("%w: no parsed results", domain.ErrOCRBackend)
	}

	return ValidateCode(parsed.ParsedResults[0].ParsedText)
}

// errorMessage flattens the API's ErrorMessage field, which drifts between a
// plain string and an array of strings.
func errorMessage(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "unknown error"
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 {
		return strings.Join(list, "; ")
	}
	return string(raw)
}
