// Package logsink is the dry-run publisher: messages are logged instead of sent.
package logsink

import (
	"context"

	"go.uber.org/zap"

	"github.com/vshulcz/hostmqtt/internal/domain"
	"github.com/vshulcz/hostmqtt/internal/ports"
)

type Sink struct {
	log *zap.Logger
}

var _ ports.Publisher = (*Sink)(nil)

func New(logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{log: logger}
}

// Publish always succeeds.
func (s *Sink) Publish(_ context.Context, topic string, payload []byte, qos domain.QoS) error {
	s.log.Info("dry run publish",
		zap.String("topic", topic),
		zap.Uint8("qos", uint8(qos)),
		zap.ByteString("payload", payload))
	return nil
}
