package notify

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Embed colours per event.
var discordColors = map[string]int{
	"order_executed":   0x2ecc71,
	"alert_triggered":  0xf1c40f,
	"keeper_attention": 0xe74c3c,
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color,omitempty"`
	Timestamp   string `json:"timestamp"`
}

// DiscordSender posts an embed to a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL, client: newHTTPClient()}
}

func (d *DiscordSender) Send(ctx context.Context, msg Message) error {
	payload := map[string]any{
		"embeds": []discordEmbed{{
			Title:       msg.Title,
			Description: msg.Body,
			Color:       discordColors[msg.Event],
			Timestamp:   msg.At.Format(time.RFC3339),
		}},
	}
	// Discord answers 204 on success.
	if err := postJSON(ctx, d.client, d.webhookURL, payload, nil); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

func (d *DiscordSender) Name() string { return "discord" }
