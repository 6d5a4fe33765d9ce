// Package mqtt publishes discovery and state messages to an MQTT broker.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vshulcz/hostmqtt/internal/config"
	"github.com/vshulcz/hostmqtt/internal/domain"
	"github.com/vshulcz/hostmqtt/internal/ports"
)

const quiesceMillis = 250

var errTimeout = errors.New("timed out")

// client is the subset of paho.Client the publisher drives.
type client interface {
	Connect() paho.Token
	Publish(topic string, qos byte, retained bool, payload any) paho.Token
	Disconnect(quiesce uint)
}

var newClient = func(o *paho.ClientOptions) client { return paho.NewClient(o) }

// Publisher holds one broker connection for the lifetime of a cycle.
type Publisher struct {
	c       client
	timeout time.Duration
	log     *zap.Logger
}

var _ ports.Publisher = (*Publisher)(nil)

// New connects to the broker described by cfg. The connection is not retried:
// a broker that cannot be reached fails the cycle.
func New(ctx context.Context, cfg config.BrokerConfig, host domain.Host, logger *zap.Logger) (*Publisher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := options(cfg, host)
	c := newClient(opts)

	logger.Debug("connecting to broker",
		zap.String("broker", opts.Servers[0].String()),
		zap.String("client_id", opts.ClientID))
	if err := wait(ctx, c.Connect(), cfg.Timeout); err != nil {
		return nil, fmt.Errorf("%w: connect %s: %w", domain.ErrPublish, opts.Servers[0], err)
	}
	return &Publisher{c: c, timeout: cfg.Timeout, log: logger}, nil
}

func options(cfg config.BrokerConfig, host domain.Host) *paho.ClientOptions {
	o := paho.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port)).
		SetClientID(ClientID(host)).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectTimeout(cfg.Timeout).
		SetWriteTimeout(cfg.Timeout)
	if cfg.User != "" {
		o.SetUsername(cfg.User)
		o.SetPassword(cfg.Password)
	}
	return o
}

// ClientID is `<host>-<16 hex chars>`, unique per process.
func ClientID(host domain.Host) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return string(host) + "-" + hex[len(hex)-16:]
}

// Publish sends one message and waits for the broker acknowledgement that qos implies.
func (p *Publisher) Publish(ctx context.Context, topic string, payload []byte, qos domain.QoS) error {
	if err := wait(ctx, p.c.Publish(topic, byte(qos), false, payload), p.timeout); err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrPublish, topic, err)
	}
	p.log.Debug("published", zap.String("topic", topic), zap.ByteString("payload", payload))
	return nil
}

// Close disconnects after letting in-flight work drain.
func (p *Publisher) Close() {
	p.c.Disconnect(quiesceMillis)
}

func wait(ctx context.Context, tok paho.Token, timeout time.Duration) error {
	var expire <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expire = t.C
	}
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-expire:
		return errTimeout
	}
}
