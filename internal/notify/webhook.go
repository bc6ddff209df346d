package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/alanyoungcy/tradekeeper/internal/crypto"
)

// WebhookSender posts the raw Message as JSON. When a secret is set the
// body is signed with crypto.WebhookSigner headers.
type WebhookSender struct {
	url    string
	signer *crypto.WebhookSigner
	client *http.Client
}

func NewWebhookSender(url, secret string) *WebhookSender {
	w := &WebhookSender{url: url, client: newHTTPClient()}
	if secret != "" {
		w.signer = crypto.NewWebhookSigner(secret)
	}
	return w
}

func (w *WebhookSender) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}
	var headers map[string]string
	if w.signer != nil {
		headers = w.signer.Headers(body)
	}
	if err := postBody(ctx, w.client, w.url, body, headers); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}

func (w *WebhookSender) Name() string { return "webhook" }
