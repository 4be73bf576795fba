// Package app wires the webhook server's dependencies together and owns its
// lifecycle.
package app

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/shopfakt/internal/dedup"
	"github.com/xenking/shopfakt/internal/handler"
	"github.com/xenking/shopfakt/internal/infakt"
	"github.com/xenking/shopfakt/internal/invoice"
	"github.com/xenking/shopfakt/pkg/health"
	"github.com/xenking/shopfakt/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	taxCfg, err := cfg.Tax.Build()
	if err != nil {
		return errors.Wrap(err, "build tax config")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	apiHost := strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(cfg.InFakt.Host, "https://"), "http://"), "/")
	healthSvc.AddReadinessCheck("infakt", 5*time.Second, func(ctx context.Context) error {
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(apiHost, "443"))
		if err != nil {
			return errors.Wrap(err, "dial accounting API")
		}
		return conn.Close()
	})
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Accounting API client and duplicate-delivery filter.
	client := infakt.New(infakt.Config{
		APIKey:  cfg.InFakt.APIKey,
		Host:    cfg.InFakt.Host,
		Timeout: cfg.InFakt.Timeout,
	}, lg.Named("infakt"))

	dd := dedup.New(cfg.Dedup.Capacity, cfg.Dedup.FPR, cfg.Dedup.RecentSize)

	// Webhook handler.
	h, err := handler.New(handler.Config{
		WebhookSecret: []byte(cfg.WebhookSecret),
		Tax:           taxCfg,
		Invoice: invoice.Config{
			Series:        cfg.Invoice.Series,
			PaymentMethod: cfg.Invoice.PaymentMethod,
			DueDays:       cfg.Invoice.DueDays,
		},
		MarkPaid:         cfg.InFakt.MarkPaid,
		AsyncCorrections: cfg.InFakt.AsyncCorrections,
		PollAttempts:     cfg.InFakt.PollAttempts,
		PollInterval:     cfg.InFakt.PollInterval,
	}, client, dd, m.MeterProvider())
	if err != nil {
		return errors.Wrap(err, "create handler")
	}

	// Mux: health endpoints + webhook routes on one server.
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	h.Routes(mux)

	instrumented := otelhttp.NewHandler(mux, "shopfakt.webhook",
		otelhttp.WithTracerProvider(m.TracerProvider()),
		otelhttp.WithMeterProvider(m.MeterProvider()),
	)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(instrumented,
			httpmiddleware.Recovery(),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.LogRequests(),
		),
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})

	// Graceful shutdown: flag not-ready, drain, then stop accepting.
	g.Go(func() error {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})

	return g.Wait()
}
