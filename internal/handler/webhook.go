package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/shopfakt/internal/domain/order"
	"github.com/xenking/shopfakt/internal/infakt"
	"github.com/xenking/shopfakt/internal/invoice"
	"github.com/xenking/shopfakt/internal/taxline"
)

// maxBodySize bounds webhook request bodies. Order payloads are a few
// kilobytes; 1 MiB leaves generous headroom.
const maxBodySize = 1 << 20

// OrdersCreate handles an order-creation webhook: verify, dedup, parse,
// build tax lines, issue the invoice, and optionally mark it paid.
//
// Validation failures answer 500 on purpose: the upstream platform redelivers
// on server errors, and at-least-once redelivery is the accepted recovery
// path. The delivery key is marked only once the invoice exists, so a failed
// delivery stays eligible for redelivery. Duplicate deliveries answer 200
// without touching the accounting API.
func (h *Handler) OrdersCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lg := zctx.From(ctx)

	o, key, ok := h.acceptDelivery(w, r, "orders/create")
	if !ok {
		return
	}

	services, err := taxline.Build(o, h.cfg.Tax)
	if err != nil {
		lg.Error("build tax lines", zap.Int64("order_id", o.ID), zap.Error(err))
		h.fail(ctx, w, "orders/create")
		return
	}

	body := invoice.BuildRequest(o, services, h.cfg.Invoice).Encode()
	inv, err := h.api.CreateInvoice(ctx, body)
	if err != nil {
		lg.Error("create invoice", zap.Int64("order_id", o.ID), zap.Error(err))
		h.fail(ctx, w, "orders/create")
		return
	}
	h.dedup.Mark(key)

	lg.Info("invoice issued",
		zap.Int64("order_id", o.ID),
		zap.String("invoice_uuid", inv.UUID),
		zap.Int64("invoice_id", inv.ID),
	)
	h.issued.Add(ctx, 1, h.topicAttr("orders/create"))

	if h.cfg.MarkPaid {
		// The invoice already exists; a mark-paid failure must not trigger
		// redelivery, or the redelivered webhook would create a second one.
		if err := h.api.MarkPaid(ctx, invoiceRef(inv)); err != nil {
			lg.Error("mark invoice paid", zap.Int64("order_id", o.ID), zap.Error(err))
		}
	}

	w.WriteHeader(http.StatusOK)
}

// RefundsCreate handles a refund webhook by issuing a correction with
// negated quantities against the original invoice, via the synchronous or
// asynchronous endpoint depending on configuration.
func (h *Handler) RefundsCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lg := zctx.From(ctx)

	o, key, ok := h.acceptDelivery(w, r, "refunds/create")
	if !ok {
		return
	}

	services, err := taxline.Build(o, h.cfg.Tax)
	if err != nil {
		lg.Error("build tax lines", zap.Int64("order_id", o.ID), zap.Error(err))
		h.fail(ctx, w, "refunds/create")
		return
	}

	body := invoice.BuildCorrection(o, services, h.cfg.Invoice).Encode()

	if h.cfg.AsyncCorrections {
		task, err := h.api.CreateCorrectionAsync(ctx, body)
		if err != nil {
			lg.Error("create async correction", zap.Int64("order_id", o.ID), zap.Error(err))
			h.fail(ctx, w, "refunds/create")
			return
		}
		err = h.api.WaitTask(ctx, task.ID, h.cfg.PollAttempts, h.cfg.PollInterval)
		switch {
		case errors.Is(err, infakt.ErrTaskPending):
			// The correction was accepted and may still complete; answering
			// an error here would redeliver and duplicate it.
			lg.Warn("correction task still pending", zap.Int64("order_id", o.ID), zap.String("task_id", task.ID))
		case err != nil:
			// The task failed server-side, so no correction exists yet; the
			// key stays unmarked and redelivery retries.
			lg.Error("correction task failed", zap.Int64("order_id", o.ID), zap.String("task_id", task.ID), zap.Error(err))
			h.fail(ctx, w, "refunds/create")
			return
		}
	} else {
		orig, err := h.api.FindInvoice(ctx, o.Name)
		if err != nil {
			lg.Error("find original invoice", zap.Int64("order_id", o.ID), zap.String("external_id", o.Name), zap.Error(err))
			h.fail(ctx, w, "refunds/create")
			return
		}
		inv, err := h.api.CreateCorrection(ctx, orig.ID, body)
		if err != nil {
			lg.Error("create correction", zap.Int64("order_id", o.ID), zap.Int64("invoice_id", orig.ID), zap.Error(err))
			h.fail(ctx, w, "refunds/create")
			return
		}
		lg.Info("correction issued", zap.Int64("order_id", o.ID), zap.String("invoice_uuid", inv.UUID))
	}
	h.dedup.Mark(key)

	h.issued.Add(ctx, 1, h.topicAttr("refunds/create"))
	w.WriteHeader(http.StatusOK)
}

// acceptDelivery runs the steps shared by every webhook route: read the raw
// body, verify its signature, parse the order, and suppress duplicate
// deliveries. It writes the response itself when the delivery is not
// actionable and reports ok=false. The returned key identifies the delivery;
// the caller marks it in the deduplicator only after the accounting-API
// effect is in place, so a failed delivery is processed again on redelivery.
func (h *Handler) acceptDelivery(w http.ResponseWriter, r *http.Request, topic string) (o *order.Order, key string, ok bool) {
	ctx := r.Context()
	lg := zctx.From(ctx)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		lg.Error("read webhook body", zap.Error(err))
		h.fail(ctx, w, topic)
		return nil, "", false
	}

	if !VerifySignature(h.cfg.WebhookSecret, body, r.Header.Get(HeaderSignature)) {
		lg.Warn("invalid webhook signature", zap.String("topic", topic))
		http.Error(w, "invalid HMAC signature", http.StatusUnauthorized)
		return nil, "", false
	}

	o, err = order.Parse(body)
	if err != nil {
		var vErr *order.ValidationError
		if errors.As(err, &vErr) {
			lg.Error("order validation failed", zap.String("field", vErr.Field), zap.Error(err))
		} else {
			lg.Error("parse order", zap.Error(err))
		}
		h.fail(ctx, w, topic)
		return nil, "", false
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int64("shopfakt.order.id", o.ID),
		attribute.String("shopfakt.webhook.topic", topic),
	)

	key = deliveryKey(topic, r.Header.Get(HeaderWebhookID), o.ID)
	if h.dedup.Seen(key) {
		lg.Info("duplicate delivery suppressed", zap.Int64("order_id", o.ID), zap.String("topic", topic))
		h.dupes.Add(ctx, 1, h.topicAttr(topic))
		w.WriteHeader(http.StatusOK)
		return nil, "", false
	}

	return o, key, true
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, topic string) {
	h.failed.Add(ctx, 1, h.topicAttr(topic))
	http.Error(w, "webhook processing failed", http.StatusInternalServerError)
}

func (h *Handler) topicAttr(topic string) metric.AddOption {
	return metric.WithAttributes(attribute.String("topic", topic))
}

// deliveryKey identifies one delivery for deduplication. The webhook id alone
// would suffice, but including the topic and order id keeps distinct events
// apart even when the upstream omits the header.
func deliveryKey(topic, webhookID string, orderID int64) string {
	return fmt.Sprintf("%s:%s:%d", topic, webhookID, orderID)
}

// invoiceRef picks the identifier the async endpoints address invoices by.
func invoiceRef(inv *infakt.Invoice) string {
	if inv.UUID != "" {
		return inv.UUID
	}
	return fmt.Sprintf("%d", inv.ID)
}
