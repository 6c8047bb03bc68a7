// Package dispatcher delivers review-ready and export notifications to
// tenant-configured Slack incoming webhooks.
//
// Every outbound notification:
//  1. Validates the webhook URL (HTTPS, allowlisted host).
//  2. Serialises the message as JSON.
//  3. POSTs it with a 10s timeout.
//
// Payloads carry counts and issue keys only, never ticket text.
package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/ashish-frozo/frozo-zendesk/internal/fault"
)

// Message is one Slack webhook payload.
type Message struct {
	Text   string                   `json:"text"`
	Blocks []map[string]interface{} `json:"blocks,omitempty"`
}

// SlackNotifier delivers notification payloads to tenant webhook URLs.
type SlackNotifier struct {
	allowedHosts map[string]struct{}
	logger       *zap.Logger
	client       *http.Client
}

// NewSlackNotifier creates a SlackNotifier with a default 10s timeout.
// allowedHosts is the closed set of webhook hosts deliveries may target.
func NewSlackNotifier(allowedHosts []string, logger *zap.Logger) *SlackNotifier {
	hosts := make(map[string]struct{}, len(allowedHosts))
	for _, h := range allowedHosts {
		hosts[h] = struct{}{}
	}
	return &SlackNotifier{
		allowedHosts: hosts,
		logger:       logger,
		client:       &http.Client{Timeout: 10 * time.Second},
	}
}

// ValidateURL rejects webhook URLs that are not HTTPS or whose host is not
// allowlisted. Config writes and deliveries both go through it.
func (n *SlackNotifier) ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fault.Wrap(fault.CodeInternal, fault.CategoryInvalid, err, "invalid webhook URL")
	}
	if u.Scheme != "https" {
		return fault.New(fault.CodeInternal, fault.CategoryInvalid, "webhook URL must be https")
	}
	if _, ok := n.allowedHosts[u.Hostname()]; !ok {
		return fault.New(fault.CodeInternal, fault.CategoryInvalid,
			fmt.Sprintf("webhook host %q is not allowlisted", u.Hostname()))
	}
	return nil
}

// Dispatch sends one message to the given webhook URL.
func (n *SlackNotifier) Dispatch(ctx context.Context, webhookURL string, msg Message) error {
	if err := n.ValidateURL(webhookURL); err != nil {
		return err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("slack delivery failed",
			zap.String("url", webhookURL),
			zap.Error(err),
		)
		return fmt.Errorf("slack delivery to %s failed: %w", webhookURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		n.logger.Warn("slack non-2xx response",
			zap.String("url", webhookURL),
			zap.Int("status", resp.StatusCode),
		)
		return fmt.Errorf("slack delivery to %s failed: HTTP %d", webhookURL, resp.StatusCode)
	}

	n.logger.Info("slack notification delivered",
		zap.String("url", webhookURL),
		zap.Int("status", resp.StatusCode),
	)
	return nil
}
