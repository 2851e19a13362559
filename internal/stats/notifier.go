package stats

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// Notifier envia alertas para canais externos.
type Notifier interface {
	Notify(ctx context.Context, msg AlertMessage) error
}

type AlertMessage struct {
	Title    string
	Text     string
	Severity string
}

// WebhookNotifier posta no formato de incoming webhook do Slack.
type WebhookNotifier struct {
	url    string
	client *http.Client
}

// NewWebhookNotifier devolve nil quando a URL não foi configurada.
func NewWebhookNotifier(url string) Notifier {
	if url == "" {
		return nil
	}
	return &WebhookNotifier{url: url, client: &http.Client{Timeout: 5 * time.Second}}
}

func (n *WebhookNotifier) Notify(ctx context.Context, msg AlertMessage) error {
	body, err := json.Marshal(map[string]any{"text": formatMessage(msg)})
	if err != nil {
		return err
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
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errors.New("webhook recusou o alerta")
	}
	return nil
}

func formatMessage(msg AlertMessage) string {
	emoji := ":information_source:"
	switch msg.Severity {
	case "warning":
		emoji = ":warning:"
	case "critical":
		emoji = ":rotating_light:"
	}
	if msg.Title != "" {
		return emoji + " *" + msg.Title + "*\n" + msg.Text
	}
	return emoji + " " + msg.Text
}
