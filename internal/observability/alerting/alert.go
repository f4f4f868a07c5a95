// Package alerting routes operator-visible warnings (bridge messages that
// never arrive, plans dropped with funds parked in escrow) to one or more
// notification channels.
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	xerrors "github.com/kapilsinha/privadex/internal/errors"
	"github.com/kapilsinha/privadex/pkg/logger"
)

// Event describes one condition worth an operator's attention.
type Event struct {
	Code       xerrors.Code      `json:"code"`
	Message    string            `json:"message"`
	Severity   xerrors.Severity  `json:"severity"`
	PlanID     string            `json:"plan_id,omitempty"`
	StepID     string            `json:"step_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Notifier delivers events over one channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, event Event) error
}

// Dispatcher fans events out to every configured notifier.
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// Fanout delivers to all notifiers and joins their failures.
type Fanout struct {
	notifiers []Notifier
}

// NewFanout builds a dispatcher over the given notifiers.
func NewFanout(notifiers ...Notifier) *Fanout {
	out := &Fanout{}
	for _, n := range notifiers {
		if n != nil {
			out.notifiers = append(out.notifiers, n)
		}
	}
	return out
}

// Notify implements Dispatcher.
func (f *Fanout) Notify(ctx context.Context, event Event) error {
	if f == nil {
		return nil
	}
	var errs []error
	for _, n := range f.notifiers {
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("notifier %s: %w", n.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes events to the audit log. Always available, so even a
// bare deployment records its warnings.
type LogNotifier struct{}

// Name implements Notifier.
func (LogNotifier) Name() string { return "log" }

// Notify implements Notifier.
func (LogNotifier) Notify(_ context.Context, event Event) error {
	logger.Audit().Warn("operator alert",
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("plan_id", event.PlanID),
		slog.String("step_id", event.StepID),
		slog.String("message", event.Message),
	)
	return nil
}

// WebhookNotifier posts events as JSON to an operator endpoint.
type WebhookNotifier struct {
	URL    string
	Client *http.Client
}

// Name implements Notifier.
func (w *WebhookNotifier) Name() string { return "webhook" }

// Notify implements Notifier.
func (w *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if w.URL == "" {
		return errors.New("webhook URL not configured")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	client := w.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}
