// internal/notify/notify.go
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"panel-sync-service/internal/config"
	"panel-sync-service/internal/settings"

	"gopkg.in/gomail.v2"
)

// Notifier delivers run-completion notifications. Delivery is
// fire-and-forget from the orchestrator's point of view: a failed webhook
// or email never affects run status.
type Notifier struct {
	cfg      *config.Config
	settings *settings.Store
	client   *http.Client
}

func NewNotifier(cfg *config.Config, s *settings.Store) *Notifier {
	return &Notifier{
		cfg:      cfg,
		settings: s,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

// CompletionEvent is the webhook payload for a finished run.
type CompletionEvent struct {
	Event       string         `json:"event"`
	Status      string         `json:"status"`
	Targets     map[string]any `json:"targets"`
	CompletedAt time.Time      `json:"completed_at"`
}

// SyncCompleted dispatches the webhook and, when SMTP is configured, an
// email summary. Meant to be called in its own goroutine.
func (n *Notifier) SyncCompleted(ctx context.Context, event CompletionEvent) {
	if url := n.settings.GetDefault(settings.KeySyncWebhookURL, ""); url != "" {
		if err := n.postWebhook(ctx, url, event); err != nil {
			log.Printf("❌ [NOTIFY] webhook delivery failed: %v", err)
		}
	}
	if n.cfg.SMTPHost != "" && n.cfg.NotifyEmail != "" {
		if err := n.sendEmail(ctx, event); err != nil {
			log.Printf("❌ [NOTIFY] email delivery failed: %v", err)
		}
	}
}

// postWebhook POSTs the event with exponential backoff: 1s, 2s, 4s.
func (n *Notifier) postWebhook(ctx context.Context, url string, event CompletionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
				log.Printf("✅ [NOTIFY] webhook delivered (status %d)", resp.StatusCode)
				return nil
			}
			err = fmt.Errorf("webhook returned status %d", resp.StatusCode)
		}

		delay := time.Duration(1<<attempt) * time.Second
		log.Printf("❌ [NOTIFY] [ATTEMPT %d] webhook failed: %v → retrying in %v", attempt+1, err, delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("webhook delivery cancelled: %w", ctx.Err())
		}
	}
	return fmt.Errorf("webhook delivery failed after 3 attempts")
}

func (n *Notifier) sendEmail(ctx context.Context, event CompletionEvent) error {
	subject := fmt.Sprintf("Panel sync %s", event.Status)
	body := fmt.Sprintf(
		"<p>A panel synchronization run finished with status <b>%s</b> at %s.</p>",
		event.Status, event.CompletedAt.Format(time.RFC3339),
	)

	m := gomail.NewMessage()
	m.SetHeader("From", fmt.Sprintf("%s <%s>", n.cfg.SMTPFromName, n.cfg.SMTPFrom))
	m.SetHeader("To", n.cfg.NotifyEmail)
	m.SetHeader("Subject", subject)
	m.SetBody("text/html", body)

	dialer := gomail.NewDialer(n.cfg.SMTPHost, n.cfg.SMTPPort, n.cfg.SMTPUser, n.cfg.SMTPPass)

	for attempt := 0; attempt < 3; attempt++ {
		if err := dialer.DialAndSend(m); err != nil {
			delay := time.Duration(1<<attempt) * time.Second
			log.Printf("❌ [NOTIFY] [ATTEMPT %d] email failed: %v → retrying in %v", attempt+1, err, delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("email send cancelled: %w", ctx.Err())
			}
			continue
		}
		log.Printf("✅ [NOTIFY] email sent to %s", n.cfg.NotifyEmail)
		return nil
	}
	return fmt.Errorf("failed to send email after 3 attempts")
}
