// Package transport delivers follow-up messages for deferred responses.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Mindburn-Labs/chatops/pkg/dispatcher"
	"github.com/Mindburn-Labs/chatops/pkg/retry"
)

const flagEphemeral = 1 << 6

// Component types and button styles of the platform's message format.
const (
	componentActionRow = 1
	componentButton    = 2
)

var buttonStyles = map[dispatcher.ButtonStyle]int{
	dispatcher.StylePrimary:   1,
	dispatcher.StyleSecondary: 2,
	dispatcher.StyleDanger:    4,
}

type webhookButton struct {
	Type     int    `json:"type"`
	Style    int    `json:"style"`
	Label    string `json:"label"`
	CustomID string `json:"custom_id"`
}

type webhookRow struct {
	Type       int             `json:"type"`
	Components []webhookButton `json:"components"`
}

// WebhookMessage is the platform payload for a message.
type WebhookMessage struct {
	Content    string       `json:"content"`
	Flags      int          `json:"flags,omitempty"`
	Components []webhookRow `json:"components,omitempty"`
}

// EncodeMessage converts a message into the platform payload. Buttons are
// packed five to a row.
func EncodeMessage(msg *dispatcher.Message) WebhookMessage {
	out := WebhookMessage{Content: msg.Content}
	if msg.Ephemeral {
		out.Flags = flagEphemeral
	}
	for i := 0; i < len(msg.Components); i += 5 {
		row := webhookRow{Type: componentActionRow}
		for _, b := range msg.Components[i:min(i+5, len(msg.Components))] {
			style, ok := buttonStyles[b.Style]
			if !ok {
				style = buttonStyles[dispatcher.StyleSecondary]
			}
			row.Components = append(row.Components, webhookButton{
				Type: componentButton, Style: style, Label: b.Label, CustomID: b.CustomID,
			})
		}
		out.Components = append(out.Components, row)
	}
	return out
}

// WebhookSender posts follow-ups to {baseURL}/webhooks/{applicationID}/{token}.
type WebhookSender struct {
	baseURL       string
	applicationID string
	http          *http.Client
	logger        *slog.Logger
	policy        retry.Policy
	sleep         func(ctx context.Context, d time.Duration) error
	rnd           func() float64
}

type WebhookOption func(*WebhookSender)

func WithHTTPClient(hc *http.Client) WebhookOption {
	return func(s *WebhookSender) { s.http = hc }
}

func WithLogger(l *slog.Logger) WebhookOption {
	return func(s *WebhookSender) { s.logger = l }
}

// WithRetryPolicy sets the attempt budget and backoff for follow-up posts.
func WithRetryPolicy(p retry.Policy) WebhookOption {
	return func(s *WebhookSender) { s.policy = p }
}

func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) WebhookOption {
	return func(s *WebhookSender) { s.sleep = sleep }
}

func WithRand(fn func() float64) WebhookOption {
	return func(s *WebhookSender) { s.rnd = fn }
}

func NewWebhookSender(baseURL, applicationID string, opts ...WebhookOption) *WebhookSender {
	s := &WebhookSender{
		baseURL:       strings.TrimRight(baseURL, "/"),
		applicationID: applicationID,
		http:          &http.Client{Timeout: 15 * time.Second},
		logger:        slog.Default().With("component", "transport"),
		policy:        retry.DefaultPolicy(),
		sleep:         retry.Sleep,
		rnd:           rand.Float64,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *WebhookSender) SendFollowUp(ctx context.Context, in *dispatcher.Interaction, msg *dispatcher.Message) error {
	if in.Token == "" {
		return fmt.Errorf("transport: interaction %s has no follow-up token", in.ID)
	}
	body, err := json.Marshal(EncodeMessage(msg))
	if err != nil {
		return fmt.Errorf("transport: encode follow-up: %w", err)
	}

	endpoint := fmt.Sprintf("%s/webhooks/%s/%s", s.baseURL, url.PathEscape(s.applicationID), url.PathEscape(in.Token))
	const op = "post follow-up"
	attempts := max(s.policy.MaxRetries, 1)
	var last error
	for attempt := 0; attempt < attempts; attempt++ {
		err := s.post(ctx, endpoint, body)
		if err == nil {
			s.logger.DebugContext(ctx, "follow-up sent", "interaction_id", in.ID, "attempt", attempt+1)
			return nil
		}
		last = err
		if !retry.IsRetryable(ctx, err) {
			return fmt.Errorf("transport: %w", &retry.TerminalError{Op: op, Err: err})
		}
		if attempt == attempts-1 {
			break
		}
		delay := s.policy.WaitFor(attempt, err, s.rnd)
		s.logger.WarnContext(ctx, "follow-up failed, retrying",
			"interaction_id", in.ID,
			"attempt", attempt+1,
			"max_attempts", attempts,
			"status", retry.StatusCode(err),
			"delay", delay,
			"error", err,
		)
		if err := s.sleep(ctx, delay); err != nil {
			return fmt.Errorf("transport: %w", &retry.TerminalError{Op: op, Err: errors.Join(err, last)})
		}
	}
	return fmt.Errorf("transport: %w", &retry.ExhaustedError{Op: op, Attempts: attempts, Last: last})
}

func (s *WebhookSender) post(ctx context.Context, endpoint string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return retry.NewStatusError(resp, strings.TrimSpace(string(data)), time.Now())
	}
	return nil
}
