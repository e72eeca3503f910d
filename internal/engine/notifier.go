package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/pvelab/graphtrader/internal/logger"
)

// LogNotifier satisfies Notifier by writing messages to the session log.
// It stands in wherever no push channel is configured, so strategies with a
// send_message node keep working in backtests.
type LogNotifier struct {
	log *logger.Logger
}

var _ Notifier = (*LogNotifier)(nil)

func NewLogNotifier(log *logger.Logger) *LogNotifier {
	if log == nil {
		log = logger.NewNopLogger()
	}

	return &LogNotifier{log: log}
}

func (n *LogNotifier) Send(_ context.Context, chatID, text string) error {
	n.log.Info("strategy message",
		zap.String("chat", chatID),
		zap.String("text", text))

	return nil
}
