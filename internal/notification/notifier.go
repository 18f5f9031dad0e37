// Package notification informs users about movements on their wallet. The
// delivery channel (SMS, push) is behind the Notifier interface; the default
// implementation only logs.
package notification

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event names attached to notifications.
const (
	EventTransferSent     = "transfer.sent"
	EventTransferReceived = "transfer.received"
	EventCashIn           = "cash.in"
	EventCashOutRequested = "cash.out.requested"
	EventCashOutCompleted = "cash.out.completed"
	EventCashOutExpired   = "cash.out.expired"
	EventTopup            = "topup"
	EventBillPaid         = "bill.paid"
)

// Notifier delivers a notification to a user. Implementations must not
// block the calling operation; failures are logged, never surfaced.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, event, message string)
}

// LogNotifier writes notifications to the application log.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Notify(_ context.Context, userID uuid.UUID, event, message string) {
	zap.L().Info("notification",
		zap.String("user_id", userID.String()),
		zap.String("event", event),
		zap.String("message", message))
}
