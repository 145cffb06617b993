package receiver

import "go.uber.org/zap"

// LogHost is a Host that writes inbound messages and errors to a logger. The
// daemon uses it when no chat frontend is attached.
type LogHost struct {
	logger *zap.Logger
}

func NewLogHost(logger *zap.Logger) *LogHost {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogHost{logger: logger}
}

func (h *LogHost) OnInboundMessage(sender, body string, timestamp int64) {
	h.logger.Info("inbound message",
		zap.String("sender", sender),
		zap.Int("length", len(body)),
		zap.Int64("timestamp", timestamp),
	)
}

func (h *LogHost) OnError(msg string) {
	h.logger.Error("receive error", zap.String("error", msg))
}
