package sender

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// LogSender writes messages to the logger instead of delivering them. It
// serves both channels when no provider is configured.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (l *LogSender) SendEmail(ctx context.Context, to, subject, body string) (SendResult, error) {
	l.logger.Info("email (log sender)", zap.String("to", to), zap.String("subject", subject))
	return SendResult{MessageID: fmt.Sprintf("log-%d", time.Now().UnixNano()), SentAt: time.Now()}, nil
}

func (l *LogSender) SendSMS(ctx context.Context, to, msg string) (SendResult, error) {
	l.logger.Info("sms (log sender)", zap.String("to", to), zap.Int("length", len(msg)))
	return SendResult{MessageID: fmt.Sprintf("log-%d", time.Now().UnixNano()), SentAt: time.Now()}, nil
}
