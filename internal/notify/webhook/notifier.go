// Package webhook posts run reports to a chat incoming-webhook URL using the
// Slack message layout (text plus one attachment).
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/JakeFAU/price-harvester/internal/crawler"
)

const defaultTimeout = 10 * time.Second

// Config configures the webhook.
type Config struct {
	URL      string
	Channel  string
	Username string
	Timeout  time.Duration
}

// Notifier posts reports to the webhook.
type Notifier struct {
	cfg    Config
	client *http.Client
}

type attachment struct {
	Title     string          `json:"title"`
	TitleLink string          `json:"title_link,omitempty"`
	Text      string          `json:"text,omitempty"`
	Fields    []crawler.Field `json:"fields,omitempty"`
}

type message struct {
	Channel     string       `json:"channel,omitempty"`
	Username    string       `json:"username,omitempty"`
	Text        string       `json:"text"`
	Attachments []attachment `json:"attachments,omitempty"`
}

// New creates a Notifier. A nil client gets one with cfg.Timeout.
func New(cfg Config, client *http.Client) (*Notifier, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Notifier{cfg: cfg, client: client}, nil
}

// Report posts r. Any non-2xx answer is an error.
func (n *Notifier) Report(ctx context.Context, r crawler.Report) error {
	body, err := json.Marshal(message{
		Channel:  n.cfg.Channel,
		Username: n.cfg.Username,
		Text:     r.Text,
		Attachments: []attachment{{
			Title:     r.Title,
			TitleLink: r.TitleLink,
			Text:      r.Description,
			Fields:    r.Fields,
		}},
	})
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post report: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("post report: status %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}
