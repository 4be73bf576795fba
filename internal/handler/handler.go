// Package handler implements the inbound webhook HTTP surface: signature
// verification, duplicate suppression, order parsing, and forwarding to the
// accounting API.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/xenking/shopfakt/internal/dedup"
	"github.com/xenking/shopfakt/internal/infakt"
	"github.com/xenking/shopfakt/internal/invoice"
	"github.com/xenking/shopfakt/internal/taxline"
)

// InvoiceAPI is the accounting-API client surface the handler depends on.
type InvoiceAPI interface {
	CreateInvoice(ctx context.Context, body []byte) (*infakt.Invoice, error)
	FindInvoice(ctx context.Context, externalID string) (*infakt.Invoice, error)
	CreateCorrection(ctx context.Context, invoiceID int64, body []byte) (*infakt.Invoice, error)
	CreateCorrectionAsync(ctx context.Context, body []byte) (*infakt.Task, error)
	MarkPaid(ctx context.Context, uuid string) error
	WaitTask(ctx context.Context, taskID string, attempts int, interval time.Duration) error
}

// Config holds the handler's business configuration. It is built once at
// startup; the handler never reads process environment.
type Config struct {
	// WebhookSecret is the shared secret for webhook signature verification.
	WebhookSecret []byte
	// Tax configures the tax-line builder.
	Tax taxline.Config
	// Invoice configures invoice-level fields (series, payment terms).
	Invoice invoice.Config
	// MarkPaid controls whether issued invoices are flagged paid right away.
	MarkPaid bool
	// AsyncCorrections routes refund corrections through the async endpoint
	// with bounded status polling instead of the synchronous one.
	AsyncCorrections bool
	// PollAttempts and PollInterval bound the async task polling.
	PollAttempts int
	PollInterval time.Duration
}

// Handler serves the webhook routes.
type Handler struct {
	cfg    Config
	api    InvoiceAPI
	dedup  *dedup.Deduplicator
	issued metric.Int64Counter
	dupes  metric.Int64Counter
	failed metric.Int64Counter
}

// New constructs a Handler. mp may be nil, in which case metrics are no-ops.
func New(cfg Config, api InvoiceAPI, dd *dedup.Deduplicator, mp metric.MeterProvider) (*Handler, error) {
	if len(cfg.WebhookSecret) == 0 {
		return nil, errors.New("webhook secret is required")
	}
	if mp == nil {
		mp = noop.NewMeterProvider()
	}
	meter := mp.Meter("shopfakt.webhook")

	issued, err := meter.Int64Counter("shopfakt.invoices.issued",
		metric.WithDescription("Invoices and corrections issued to the accounting API"))
	if err != nil {
		return nil, errors.Wrap(err, "create issued counter")
	}
	dupes, err := meter.Int64Counter("shopfakt.deliveries.duplicate",
		metric.WithDescription("Webhook deliveries suppressed as duplicates"))
	if err != nil {
		return nil, errors.Wrap(err, "create duplicate counter")
	}
	failed, err := meter.Int64Counter("shopfakt.deliveries.failed",
		metric.WithDescription("Webhook deliveries that ended in an error response"))
	if err != nil {
		return nil, errors.Wrap(err, "create failed counter")
	}

	return &Handler{
		cfg:    cfg,
		api:    api,
		dedup:  dd,
		issued: issued,
		dupes:  dupes,
		failed: failed,
	}, nil
}

// Routes registers the webhook endpoints on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /", h.Healthcheck)
	mux.HandleFunc("POST /webhook/orders/create", h.OrdersCreate)
	mux.HandleFunc("POST /webhook/refunds/create", h.RefundsCreate)
}

// Healthcheck answers the upstream platform's endpoint probe.
func (h *Handler) Healthcheck(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
