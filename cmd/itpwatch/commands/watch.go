package commands

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/itpwatch/itpwatch/engine/domain"
	"github.com/itpwatch/itpwatch/engine/watch"
	"github.com/itpwatch/itpwatch/pkg/bus"
)

func watchCmd() *cobra.Command {
	var (
		vins        []string
		interval    time.Duration
		natsURL     string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep ITP status fresh for a set of vehicles",
		Long: `Periodically refreshes ITP status for every --vin, publishes each record
to NATS (when --nats-url is set), serves Prometheus metrics, and accepts
manual refresh triggers on the itp.check.<VIN> subject.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(vins) == 0 {
				return fmt.Errorf("at least one --vin is required")
			}
			return runWatch(cmd.Context(), vins, interval, natsURL, metricsAddr)
		},
	}

	cmd.Flags().StringArrayVar(&vins, "vin", nil, "vehicle identifier (repeatable)")
	cmd.Flags().DurationVar(&interval, "interval", watch.DefaultInterval, "refresh cadence")
	cmd.Flags().StringVar(&natsURL, "nats-url", envOr("ITPWATCH_NATS_URL", ""),
		"NATS server URL for record publishing and check-now triggers (empty disables)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9464", "Prometheus metrics listen address")
	return cmd
}

func runWatch(ctx context.Context, vins []string, interval time.Duration, natsURL, metricsAddr string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	logger := slog.Default()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	var sink watch.Sink
	var nc *nats.Conn
	if natsURL != "" {
		var err error
		nc, err = nats.Connect(natsURL, nats.Name("itpwatch"))
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer nc.Drain()
		sink = func(ctx context.Context, rec domain.InspectionRecord) {
			if err := bus.Publish(ctx, nc, bus.RecordSubject(rec.VIN), rec); err != nil {
				logger.Error("publish record", "vin", rec.VIN, "err", err)
			}
		}
	}

	w := watch.New(watch.Config{
		Interval: interval,
		Logger:   logger,
		Metrics:  watch.NewMetrics(reg),
	}, newChecker(), sink)

	for _, vin := range vins {
		if err := w.Add(domain.LookupRequest{VIN: vin, OCRAPIKey: ocrAPIKey}); err != nil {
			return fmt.Errorf("register %q: %w", vin, err)
		}
	}

	if nc != nil {
		sub, err := bus.Subscribe(nc, bus.CheckSubjectAll(), func(_ context.Context, req bus.CheckRequest) {
			if err := w.ForceCheck(req.VIN); err != nil {
				logger.Warn("check-now ignored", "vin", req.VIN, "err", err)
			}
		})
		if err != nil {
			return fmt.Errorf("subscribe check-now: %w", err)
		}
		defer sub.Unsubscribe()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok\n"))
	})
	srv := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server", "err", err)
		}
	}()

	logger.Info("itpwatch running", "vehicles", len(vins), "interval", interval)
	w.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
