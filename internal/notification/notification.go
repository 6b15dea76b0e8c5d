package notification

import (
	"context"
	"log/slog"
	"time"
)

const (
	// KindWithdrawal is emitted after a committed card withdrawal.
	KindWithdrawal = "withdrawal"
	// KindIncomingPayment is emitted after a committed incoming payment.
	KindIncomingPayment = "incoming_payment"
)

// Message describes a committed balance change.
type Message struct {
	Kind       string    `json:"kind"`
	CardNumber string    `json:"card_number"`
	Currency   string    `json:"currency"`
	Amount     string    `json:"amount"`
	Balance    string    `json:"balance"`
	Sender     string    `json:"sender,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier is a stub implementation that writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger. Card numbers are masked.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		"kind", message.Kind,
		"card", MaskCard(message.CardNumber),
		"currency", message.Currency,
		"amount", message.Amount,
	)
	return nil
}

// MaskCard keeps the last four digits of a card number.
func MaskCard(number string) string {
	if len(number) <= 4 {
		return number
	}
	masked := make([]byte, len(number))
	for i := range masked {
		masked[i] = '*'
	}
	copy(masked[len(number)-4:], number[len(number)-4:])
	return string(masked)
}
