// Package discovery publishes one-time sensor registrations for the enabled metrics.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/vshulcz/hostmqtt/internal/domain"
	"github.com/vshulcz/hostmqtt/internal/ports"
)

// Coordinator is the only writer of registration state.
type Coordinator struct {
	store  ports.RegistrationStore
	pub    ports.Publisher
	prefix string
	log    *zap.Logger
}

func New(store ports.RegistrationStore, pub ports.Publisher, topicPrefix string, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{store: store, pub: pub, prefix: topicPrefix, log: logger}
}

// RunSweep registers every enabled metric that is not registered yet and returns
// how many registrations were published and recorded. A metric whose publish or persistence
// fails stays unregistered and is retried by the next sweep; the sweep carries on
// with the remaining metrics and reports the failures together.
func (c *Coordinator) RunSweep(ctx context.Context, enabled []domain.Metric, host domain.Host) (int, error) {
	var (
		registered int
		errs       error
	)
	for _, m := range enabled {
		if err := ctx.Err(); err != nil {
			return registered, multierr.Append(errs, err)
		}
		ok, err := c.register(ctx, m, host)
		if ok {
			registered++
		}
		errs = multierr.Append(errs, err)
	}
	return registered, errs
}

// register reports whether m went from unregistered to registered.
func (c *Coordinator) register(ctx context.Context, m domain.Metric, host domain.Host) (bool, error) {
	log := c.log.With(zap.Stringer("metric", m), zap.String("host", string(host)))

	done, err := c.store.IsRegistered(ctx, host, m)
	if err != nil {
		log.Warn("registration state unreadable, skipping", zap.Error(err))
		return false, fmt.Errorf("%s: %w", m, err)
	}
	if done {
		log.Debug("already registered")
		return false, nil
	}

	d, err := domain.Describe(m, host, c.prefix)
	if err != nil {
		return false, err
	}
	body, err := json.Marshal(d)
	if err != nil {
		return false, fmt.Errorf("%s: encode descriptor: %w", m, err)
	}

	if err := c.pub.Publish(ctx, d.Topic, body, domain.AtMostOnce); err != nil {
		log.Warn("registration publish failed", zap.String("topic", d.Topic), zap.Error(err))
		return false, fmt.Errorf("%s: %w", m, err)
	}
	if err := c.store.MarkRegistered(ctx, host, m); err != nil {
		log.Error("registration not recorded, will resend", zap.Error(err))
		return false, fmt.Errorf("%s: %w", m, err)
	}
	log.Info("registered", zap.String("topic", d.Topic))
	return true, nil
}
