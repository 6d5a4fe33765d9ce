// Package agent runs one publish cycle: discovery sweep, sampling, state publish.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/vshulcz/hostmqtt/internal/config"
	"github.com/vshulcz/hostmqtt/internal/domain"
	"github.com/vshulcz/hostmqtt/internal/ports"
	"github.com/vshulcz/hostmqtt/internal/services/discovery"
)

// Report summarizes a finished cycle.
type Report struct {
	Registered int
	SweepErr   error
	Fields     int
	Topic      string
}

// Service owns the collaborators of one cycle. It is not safe for concurrent cycles.
type Service struct {
	sampler ports.Sampler
	pub     ports.Publisher
	sweep   *discovery.Coordinator
	host    domain.Host
	prefix  string
	enabled []domain.Metric
	log     *zap.Logger
	now     func() time.Time
}

// New wires together the agent configuration, sampler, publisher and registration store.
func New(cfg config.AgentConfig, host domain.Host, s ports.Sampler, p ports.Publisher,
	store ports.RegistrationStore, logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		sampler: s,
		pub:     p,
		sweep:   discovery.New(store, p, cfg.Broker.TopicPrefix, logger.Named("discovery")),
		host:    host,
		prefix:  cfg.Broker.TopicPrefix,
		enabled: cfg.Enabled(),
		log:     logger,
		now:     time.Now,
	}
}

// RunCycle completes the discovery sweep before sampling, so a new metric's
// registration always precedes its first state value. Sweep failures are reported
// in the Report and retried by the next cycle; only a failed state publish fails the cycle.
func (s *Service) RunCycle(ctx context.Context) (Report, error) {
	var rep Report
	rep.Registered, rep.SweepErr = s.sweep.RunSweep(ctx, s.enabled, s.host)
	if rep.SweepErr != nil {
		s.log.Warn("discovery sweep incomplete", zap.Int("registered", rep.Registered), zap.Error(rep.SweepErr))
	}

	payload := s.BuildPayload(ctx, s.enabled)
	rep.Fields = payload.Len()
	body, err := json.Marshal(payload)
	if err != nil {
		return rep, fmt.Errorf("encode state: %w", err)
	}

	rep.Topic = domain.StateTopic(s.prefix, s.host)
	if err := s.pub.Publish(ctx, rep.Topic, body, domain.AtMostOnce); err != nil {
		return rep, fmt.Errorf("state publish: %w", err)
	}
	s.log.Info("state published",
		zap.String("topic", rep.Topic),
		zap.Int("fields", rep.Fields),
		zap.Int("registered", rep.Registered))
	return rep, nil
}

// BuildPayload samples every enabled metric. A metric that cannot be sampled is
// logged and left out of the payload.
func (s *Service) BuildPayload(ctx context.Context, enabled []domain.Metric) domain.StatePayload {
	var p domain.StatePayload
	for _, m := range enabled {
		v, err := s.sampler.Sample(ctx, m)
		if err != nil {
			s.log.Warn("sample failed", zap.Stringer("metric", m), zap.Error(err))
			continue
		}
		r := domain.Reading{SampledAt: s.now(), Metric: m, Value: v}
		if err := p.Set(r); err != nil {
			s.log.Warn("reading dropped", zap.Stringer("metric", m), zap.Error(err))
			continue
		}
		s.log.Debug("sampled", zap.Stringer("metric", m), zap.Float64("value", v))
	}
	return p
}

// Enabled returns the metrics this service samples, in catalog order.
func (s *Service) Enabled() []domain.Metric {
	return append([]domain.Metric(nil), s.enabled...)
}
