package commands

import (
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/itpwatch/itpwatch/engine/lookup"
	"github.com/itpwatch/itpwatch/engine/portal"
)

var (
	ocrAPIKey string
	portalURL string
	codeField string
	timeout   time.Duration
	logJSON   bool
)

// Execute runs the itpwatch CLI.
func Execute() error {
	root := &cobra.Command{
		Use:           "itpwatch",
		Short:         "Romanian ITP (periodic technical inspection) status checker",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			var handler slog.Handler
			if logJSON {
				handler = slog.NewJSONHandler(os.Stderr, nil)
			} else {
				handler = slog.NewTextHandler(os.Stderr, nil)
			}
			slog.SetDefault(slog.New(handler))
		},
	}

	root.PersistentFlags().StringVar(&ocrAPIKey, "ocr-key", envOr("ITPWATCH_OCR_KEY", ""),
		"OCR.Space API key (empty uses the free demo tier)")
	root.PersistentFlags().StringVar(&portalURL, "portal-url", envOr("ITPWATCH_PORTAL_URL", portal.DefaultBaseURL),
		"RAR portal search page URL")
	root.PersistentFlags().StringVar(&codeField, "code-field", envOr("ITPWATCH_CODE_FIELD", portal.DefaultCodeField),
		"form field name for the captcha code (portal-revision dependent)")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second,
		"per-request portal timeout")
	root.PersistentFlags().BoolVar(&logJSON, "log-json", false, "log JSON instead of text")

	root.AddCommand(checkCmd(), watchCmd())
	return root.Execute()
}

// newChecker builds the lookup engine from the shared flags.
func newChecker() *lookup.Checker {
	sessions := portal.NewFactory(portal.Config{
		BaseURL:   portalURL,
		CodeField: codeField,
		Timeout:   timeout,
		Limiter:   rate.NewLimiter(rate.Every(time.Second), 2),
	})
	return lookup.New(lookup.Config{Logger: slog.Default()}, sessions, nil)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
