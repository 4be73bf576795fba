// Command send-webhook delivers a local order JSON file to a running
// webhook server with a valid signature, for development and smoke testing:
//
//	send-webhook -file order.json -secret $SHOPFAKT_WEBHOOK_SECRET \
//	    -url http://localhost:8080 -topic orders/create
package main

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

func main() {
	var (
		file   string
		url    string
		secret string
		topic  string
	)

	flag.StringVar(&file, "file", "", "path to the order JSON payload")
	flag.StringVar(&url, "url", "http://localhost:8080", "webhook server base URL")
	flag.StringVar(&secret, "secret", "", "webhook shared secret (or SHOPFAKT_WEBHOOK_SECRET env)")
	flag.StringVar(&topic, "topic", "orders/create", "webhook topic: orders/create or refunds/create")
	flag.Parse()

	if secret == "" {
		secret = os.Getenv("SHOPFAKT_WEBHOOK_SECRET")
	}
	if file == "" || secret == "" {
		slog.Error("both -file and a webhook secret are required")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, file, url, secret, topic); err != nil {
		slog.Error("delivery failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, file, url, secret, topic string) error {
	body, err := os.ReadFile(file)
	if err != nil {
		return errors.Wrapf(err, "read %s", file)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	webhookID := uuid.New().String()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url+"/webhook/"+topic, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Hmac-Sha256", signature)
	req.Header.Set("X-Shopify-Webhook-Id", webhookID)
	req.Header.Set("X-Shopify-Topic", topic)

	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrap(err, "execute request")
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	slog.Info("delivered",
		slog.String("topic", topic),
		slog.String("webhook_id", webhookID),
		slog.Int("status", resp.StatusCode),
		slog.String("body", string(respBody)),
	)

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("server answered %d", resp.StatusCode)
	}
	return nil
}
