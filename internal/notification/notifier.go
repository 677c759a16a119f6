// Package notification delivers filter triggers to an external chat
// service. Delivery is best-effort: a failed send leaves the persisted
// trigger with notified=false and is never retried.
package notification

import (
	"context"
	"log"

	"crypto-screenerv1/internal/model"
)

// Notifier is the interface for notification backends.
type Notifier interface {
	// NotifyTrigger delivers one filter match.
	NotifyTrigger(ctx context.Context, t *model.Trigger) error

	// NotifyTest sends a connectivity-check message.
	NotifyTest(ctx context.Context) error
}

// LogNotifier logs triggers instead of sending them. Used when Telegram
// credentials are not configured.
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) NotifyTrigger(ctx context.Context, t *model.Trigger) error {
	log.Printf("[notify] trigger: filter=%q symbol=%s market=%s at=%d", t.FilterName, t.Symbol, t.Market, t.TriggeredAt)
	return nil
}

func (n *LogNotifier) NotifyTest(ctx context.Context) error {
	log.Printf("[notify] test notification")
	return nil
}
