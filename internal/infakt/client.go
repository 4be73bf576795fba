// Package infakt is the HTTP client for the inFakt accounting API.
//
// Creation calls are not idempotent on the API side, so the client applies a
// bounded timeout and never retries them; redelivery handling belongs to the
// webhook layer.
package infakt

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// Config holds the client settings.
type Config struct {
	// APIKey is sent as the X-inFakt-ApiKey header.
	APIKey string
	// Host is the API host, e.g. "api.infakt.pl". HTTPS is assumed unless
	// an explicit http:// prefix is given; trailing slashes are stripped.
	Host string
	// Timeout bounds every request end to end.
	Timeout time.Duration
}

// Client talks to the inFakt v3 API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	lg      *zap.Logger
}

// New creates a Client. Outbound requests are traced via otelhttp.
func New(cfg Config, lg *zap.Logger) *Client {
	scheme := "https"
	if strings.HasPrefix(cfg.Host, "http://") {
		scheme = "http"
	}
	host := strings.TrimPrefix(cfg.Host, "https://")
	host = strings.TrimPrefix(host, "http://")
	host = strings.TrimSuffix(host, "/")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL: scheme + "://" + host,
		apiKey:  cfg.APIKey,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		lg: lg,
	}
}

// APIError is a non-2xx response from the accounting API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("infakt API error: status %d, body: %s", e.Status, e.Body)
}

// Invoice is the subset of the invoice-creation response the service needs.
type Invoice struct {
	ID     int64
	UUID   string
	Number string
}

// Task is an asynchronous operation handle returned by the async endpoints.
type Task struct {
	ID     string
	Status string
}

// Task statuses reported by the status endpoint.
const (
	TaskProcessing = "processing"
	TaskDone       = "done"
	TaskError      = "error"
)

// CreateInvoice issues a VAT invoice. body must be a fully encoded invoice
// payload; the call is made exactly once.
func (c *Client) CreateInvoice(ctx context.Context, body []byte) (*Invoice, error) {
	resp, err := c.post(ctx, "/api/v3/invoices.json", body)
	if err != nil {
		return nil, errors.Wrap(err, "create invoice")
	}
	inv, err := parseInvoice(resp)
	if err != nil {
		return nil, errors.Wrap(err, "parse create invoice response")
	}
	return inv, nil
}

// FindInvoice looks up an issued invoice by its external id (the order
// name stamped at creation). It returns ErrInvoiceNotFound when no invoice
// matches.
func (c *Client) FindInvoice(ctx context.Context, externalID string) (*Invoice, error) {
	path := "/api/v3/invoices.json?q[external_id_eq]=" + url.QueryEscape(externalID)
	resp, err := c.get(ctx, path)
	if err != nil {
		return nil, errors.Wrapf(err, "find invoice %s", externalID)
	}
	inv, err := parseInvoiceList(resp)
	if err != nil {
		return nil, errors.Wrap(err, "parse invoice list response")
	}
	if inv == nil {
		return nil, errors.Wrapf(ErrInvoiceNotFound, "external id %s", externalID)
	}
	return inv, nil
}

// CreateCorrection issues a correction against an existing invoice
// synchronously.
func (c *Client) CreateCorrection(ctx context.Context, invoiceID int64, body []byte) (*Invoice, error) {
	path := fmt.Sprintf("/api/v3/invoices/%d/corrections.json", invoiceID)
	resp, err := c.post(ctx, path, body)
	if err != nil {
		return nil, errors.Wrapf(err, "create correction for invoice %d", invoiceID)
	}
	inv, err := parseInvoice(resp)
	if err != nil {
		return nil, errors.Wrap(err, "parse create correction response")
	}
	return inv, nil
}

// CreateCorrectionAsync submits a correction document to the async invoice
// endpoint and returns the task handle to poll.
func (c *Client) CreateCorrectionAsync(ctx context.Context, body []byte) (*Task, error) {
	resp, err := c.post(ctx, "/api/v3/async/invoices.json", body)
	if err != nil {
		return nil, errors.Wrap(err, "create async correction")
	}
	task, err := parseTask(resp)
	if err != nil {
		return nil, errors.Wrap(err, "parse async correction response")
	}
	return task, nil
}

// MarkPaid flags an issued invoice as paid via the async endpoint. The API
// responds 201 on acceptance.
func (c *Client) MarkPaid(ctx context.Context, uuid string) error {
	path := fmt.Sprintf("/api/v3/async/invoices/%s/paid.json", uuid)
	if _, err := c.post(ctx, path, nil); err != nil {
		return errors.Wrapf(err, "mark invoice %s paid", uuid)
	}
	return nil
}

// TaskStatus fetches the current status of an async task.
func (c *Client) TaskStatus(ctx context.Context, taskID string) (*Task, error) {
	path := fmt.Sprintf("/api/v3/async/invoice-tasks/%s/status.json", taskID)
	resp, err := c.get(ctx, path)
	if err != nil {
		return nil, errors.Wrapf(err, "task %s status", taskID)
	}
	task, err := parseTask(resp)
	if err != nil {
		return nil, errors.Wrap(err, "parse task status response")
	}
	if task.ID == "" {
		task.ID = taskID
	}
	return task, nil
}

// WaitTask polls an async task a fixed number of attempts, sleeping interval
// between polls. It returns nil once the task reports done, an error when the
// task reports failure, and ErrTaskPending when attempts are exhausted while
// the task is still processing.
func (c *Client) WaitTask(ctx context.Context, taskID string, attempts int, interval time.Duration) error {
	for i := range attempts {
		task, err := c.TaskStatus(ctx, taskID)
		if err != nil {
			return err
		}

		switch task.Status {
		case TaskDone:
			return nil
		case TaskError:
			return errors.Errorf("task %s failed", taskID)
		}

		c.lg.Debug("task still processing",
			zap.String("task_id", taskID),
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", attempts),
		)

		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
	return ErrTaskPending
}

// ErrTaskPending means polling attempts ran out while the async task was
// still processing. The task may yet complete on the API side.
var ErrTaskPending = errors.New("async task still pending after polling")

// ErrInvoiceNotFound means no issued invoice matches the lookup.
var ErrInvoiceNotFound = errors.New("invoice not found")

func (c *Client) post(ctx context.Context, path string, body []byte) ([]byte, error) {
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	url := c.baseURL + path

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, errors.Wrap(err, "create request")
	}
	req.Header.Set("X-inFakt-ApiKey", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "execute request")
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.lg.Error("infakt request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", respBody),
		)
		return nil, &APIError{Status: resp.StatusCode, Body: string(respBody)}
	}

	return respBody, nil
}

// parseInvoice extracts the fields the service cares about from an invoice
// response document.
func parseInvoice(data []byte) (*Invoice, error) {
	var inv Invoice
	if err := decodeInvoice(jx.DecodeBytes(data), &inv); err != nil {
		return nil, err
	}
	if inv.ID == 0 && inv.UUID == "" {
		return nil, errors.New("response carries no invoice identifier")
	}
	return &inv, nil
}

// parseInvoiceList extracts the first invoice from a list response
// ({"metainfo": ..., "entities": [...]}), or nil when the list is empty.
func parseInvoiceList(data []byte) (*Invoice, error) {
	var found *Invoice
	d := jx.DecodeBytes(data)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		if key != "entities" {
			return d.Skip()
		}
		return d.Arr(func(d *jx.Decoder) error {
			var inv Invoice
			if err := decodeInvoice(d, &inv); err != nil {
				return err
			}
			if found == nil {
				found = &inv
			}
			return nil
		})
	}); err != nil {
		return nil, err
	}
	return found, nil
}

func decodeInvoice(d *jx.Decoder, inv *Invoice) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			v, err := d.Int64()
			if err != nil {
				return err
			}
			inv.ID = v
		case "uuid":
			v, err := d.Str()
			if err != nil {
				return err
			}
			inv.UUID = v
		case "number":
			if d.Next() == jx.Null {
				return d.Null()
			}
			v, err := d.Str()
			if err != nil {
				return err
			}
			inv.Number = v
		default:
			return d.Skip()
		}
		return nil
	})
}

// parseTask extracts an async task handle from a response document.
func parseTask(data []byte) (*Task, error) {
	var task Task
	d := jx.DecodeBytes(data)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "invoice_task_reference_number", "task_reference_number", "id":
			switch d.Next() {
			case jx.Number:
				v, err := d.Int64()
				if err != nil {
					return err
				}
				task.ID = fmt.Sprintf("%d", v)
			default:
				v, err := d.Str()
				if err != nil {
					return err
				}
				task.ID = v
			}
		case "status", "processing_status":
			v, err := d.Str()
			if err != nil {
				return err
			}
			task.Status = v
		default:
			return d.Skip()
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &task, nil
}
