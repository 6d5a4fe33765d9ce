package ports

import (
	"context"

	"github.com/vshulcz/hostmqtt/internal/domain"
)

// Sampler produces one reading per metric on demand. A failure wraps domain.ErrUnavailable.
type Sampler interface {
	Sample(ctx context.Context, m domain.Metric) (float64, error)
}

// Publisher delivers a payload to a broker topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, qos domain.QoS) error
}
