// Package notify tells the hiring team when a candidate shares contact details.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/spigell/hr-assistant/internal/logger"
)

const defaultTimeout = 10 * time.Second

// Summary is the hand-off payload for a candidate who reached CONTACT.
type Summary struct {
	CandidateID string    `json:"candidate_id"`
	ChatID      string    `json:"chat_id,omitempty"`
	Name        string    `json:"name"`
	Job         string    `json:"job"`
	Phone       string    `json:"phone,omitempty"`
	WeChat      string    `json:"wechat,omitempty"`
	Overall     *float64  `json:"overall,omitempty"`
	Summary     string    `json:"summary,omitempty"`
	Source      string    `json:"source"`
	CapturedAt  time.Time `json:"captured_at"`
}

type Notifier interface {
	NotifyHR(ctx context.Context, s Summary) error
}

type Config struct {
	WebhookURL string        `mapstructure:"webhook-url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	// TokenFile holds an optional bearer token for the webhook.
	TokenFile string `mapstructure:"token-file"`
}

// Webhook posts summaries as JSON to an HTTP endpoint.
type Webhook struct {
	client *resty.Client
	url    string
	logger *zap.Logger
}

func NewWebhook(url, token string, timeout time.Duration, log *zap.Logger) (*Webhook, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("webhook url is required")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}

	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})
	if token = strings.TrimSpace(token); token != "" {
		client.SetAuthToken(token)
	}

	return &Webhook{client: client, url: url, logger: log}, nil
}

func (w *Webhook) NotifyHR(ctx context.Context, s Summary) error {
	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(s).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("notify hr: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("notify hr: bad status: %s", resp.Status())
	}

	w.logger.Info("hr notified",
		append(logger.CandidateFields(s.CandidateID, s.ChatID, s.Name), zap.Int("status", resp.StatusCode()))...,
	)
	return nil
}

// Log writes summaries to the application log. It is used when no webhook is configured.
type Log struct {
	logger *zap.Logger
}

func NewLog(log *zap.Logger) *Log {
	if log == nil {
		log = zap.NewNop()
	}
	return &Log{logger: log}
}

func (l *Log) NotifyHR(_ context.Context, s Summary) error {
	fields := logger.CandidateFields(s.CandidateID, s.ChatID, s.Name)
	fields = append(fields,
		zap.String("job", s.Job),
		zap.String("phone", s.Phone),
		zap.String("wechat", s.WeChat),
		zap.String("source", s.Source),
	)
	if s.Overall != nil {
		fields = append(fields, zap.Float64("overall", *s.Overall))
	}
	l.logger.Info("candidate shared contact details", fields...)
	return nil
}

// New picks the webhook notifier when a url is configured.
func New(cfg Config, token string, log *zap.Logger) (Notifier, error) {
	if strings.TrimSpace(cfg.WebhookURL) == "" {
		return NewLog(log), nil
	}
	return NewWebhook(cfg.WebhookURL, token, cfg.Timeout, log)
}
