package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/kjannette/pvpc-backend/internal/models"
	"github.com/kjannette/pvpc-backend/internal/resilience"
)

// Sender posts operator alerts to a Slack or Discord webhook.
// Without a URL it only logs.
type Sender struct {
	webhookURL string
	appName    string
	httpClient *http.Client
	exec       *resilience.Executor
	retry      resilience.Options
	log        zerolog.Logger
}

func NewSender(webhookURL, appName string, log zerolog.Logger) *Sender {
	if appName == "" {
		appName = "PVPC-Backend"
	}
	return &Sender{
		webhookURL: webhookURL,
		appName:    appName,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		exec:       resilience.NewExecutor("webhook", resilience.BreakerSettings{}, log, nil),
		retry: resilience.Options{
			MaxRetries: 2,
			BaseDelay:  1 * time.Second,
			MaxDelay:   5 * time.Second,
			MaxJitter:  250 * time.Millisecond,
		},
		log: log,
	}
}

func (s *Sender) Send(ctx context.Context, msg string) {
	formatted := fmt.Sprintf("[%s] %s", s.appName, msg)
	s.log.Info().Str("alert", msg).Msg("notification")

	if s.webhookURL == "" {
		return
	}

	body, err := json.Marshal(s.formatPayload(formatted))
	if err != nil {
		s.log.Error().Err(err).Msg("marshal notification")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := resilience.DoHTTP(ctx, s.exec, s.httpClient, s.retry, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		s.log.Error().Err(err).Msg("notification failed after retries")
		return
	}
	resp.Body.Close()
}

// FallbackApplied reports the outcome of a fallback attempt. Its signature
// matches scheduler.Config.OnFallback.
func (s *Sender) FallbackApplied(ctx context.Context, day time.Time, saved int, err error) {
	if err != nil {
		s.Send(ctx, fmt.Sprintf("No prices for %s and fallback failed: %v", models.DayKey(day), err))
		return
	}
	s.Send(ctx, fmt.Sprintf("Prices for %s unavailable upstream, %d hours copied from the latest stored day", models.DayKey(day), saved))
}

// BreakerChanged alerts when a circuit opens. It runs inside the breaker's
// state-change hook, so the post happens on its own goroutine.
func (s *Sender) BreakerChanged(name, from, to string) {
	if to != "OPEN" {
		return
	}
	go s.Send(context.Background(), fmt.Sprintf("Circuit %s opened (was %s), upstream calls are failing fast", name, from))
}

func (s *Sender) formatPayload(msg string) map[string]string {
	if strings.Contains(s.webhookURL, "discord") {
		return map[string]string{
			"content":  msg,
			"username": s.appName,
		}
	}
	return map[string]string{
		"text":     fmt.Sprintf("`%s`", msg),
		"username": s.appName,
	}
}

func (s *Sender) Enabled() bool {
	return s.webhookURL != ""
}
