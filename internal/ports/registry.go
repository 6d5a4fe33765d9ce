package ports

import (
	"context"

	"github.com/vshulcz/hostmqtt/internal/domain"
)

// RegistrationStore records which host metrics have completed discovery registration.
// MarkRegistered must be durable before it returns nil.
type RegistrationStore interface {
	IsRegistered(ctx context.Context, host domain.Host, m domain.Metric) (bool, error)
	MarkRegistered(ctx context.Context, host domain.Host, m domain.Metric) error
}
