package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/moatsec/moat/pkg/httputil"
	"github.com/moatsec/moat/pkg/threat"
)

// WebhookNotifier posts threat verdicts to an external collaborator.
// Failures are the caller's problem to log; delivery is best-effort.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier builds a notifier for the given endpoint.
func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{url: url, client: httputil.FastClient()}
}

type webhookPayload struct {
	Identity string         `json:"identity"`
	Verdict  threat.Verdict `json:"verdict"`
}

// Notify posts the verdict as JSON.
func (n *WebhookNotifier) Notify(ctx context.Context, identity string, v threat.Verdict) error {
	body, err := json.Marshal(webhookPayload{Identity: identity, Verdict: v})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer httputil.DrainAndClose(resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
