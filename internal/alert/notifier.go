// Package alert delivers integrity alerts to configured webhook endpoints.
package alert

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tracevault/tracevault/internal/ledger"
)

// MetricsRecorder is an optional callback for recording delivery outcomes.
type MetricsRecorder func(success bool)

// Event is the payload posted to alert endpoints when chain verification
// finds violations.
type Event struct {
	Type       string             `json:"type"`
	Timestamp  time.Time          `json:"timestamp"`
	RunID      string             `json:"run_id"`
	From       int64              `json:"from"`
	To         int64              `json:"to"`
	Entries    int64              `json:"entries"`
	Violations []ledger.Violation `json:"violations"`
}

// EventIntegrityViolation is the type carried by alerts for failed
// verification runs.
const EventIntegrityViolation = "audit.integrity_violation"

// Notifier posts integrity events to a fixed set of endpoints. Endpoints
// come from configuration, not a subscription store, so a compromised
// database cannot silence alerts about itself.
type Notifier struct {
	urls       []string
	secret     string
	httpClient *http.Client
	onMetrics  MetricsRecorder
	logger     *zap.Logger
}

// NewNotifier creates a Notifier for the given endpoint URLs. The secret
// signs each payload; endpoints verify the X-TraceVault-Signature header.
func NewNotifier(urls []string, secret string, logger *zap.Logger) *Notifier {
	return &Notifier{
		urls:       urls,
		secret:     secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// SetMetricsRecorder configures the metrics callback.
func (n *Notifier) SetMetricsRecorder(fn MetricsRecorder) {
	n.onMetrics = fn
}

// Notify fans out an integrity event built from the report to every
// configured endpoint. Reports that are valid are ignored.
func (n *Notifier) Notify(ctx context.Context, report *ledger.Report) {
	if report == nil || report.Valid {
		return
	}

	event := Event{
		Type:       EventIntegrityViolation,
		Timestamp:  time.Now().UTC(),
		RunID:      report.RunID.String(),
		From:       report.From,
		To:         report.To,
		Entries:    report.Entries,
		Violations: report.Violations,
	}

	for _, url := range n.urls {
		go n.deliver(ctx, url, event)
	}
}

// deliver sends the event to a single endpoint with retries.
func (n *Notifier) deliver(ctx context.Context, url string, event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		n.logger.Error("alert: marshal event", zap.Error(err))
		return
	}

	signature := signPayload(body, n.secret)

	// Retry with exponential backoff: 1s, then 5s.
	backoff := []time.Duration{1 * time.Second, 5 * time.Second}

	for attempt := 1; attempt <= 3; attempt++ {
		if attempt > 1 {
			time.Sleep(backoff[attempt-2])
		}

		success, errMsg := n.doDelivery(ctx, url, body, signature)

		if n.onMetrics != nil {
			n.onMetrics(success)
		}

		if success {
			n.logger.Info("alert: delivered",
				zap.String("url", url),
				zap.String("run_id", event.RunID),
			)
			return
		}

		n.logger.Warn("alert: delivery failed",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.String("error", errMsg),
		)
	}
}

// doDelivery performs a single HTTP POST delivery.
func (n *Notifier) doDelivery(ctx context.Context, url string, body []byte, signature string) (bool, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, err.Error()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-TraceVault-Signature", signature)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return false, err.Error()
	}
	defer resp.Body.Close()
	io.ReadAll(io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return true, ""
	}
	return false, fmt.Sprintf("HTTP %d", resp.StatusCode)
}

// signPayload computes an HMAC-SHA256 signature.
func signPayload(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
