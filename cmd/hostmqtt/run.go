package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/vshulcz/hostmqtt/internal/adapters/publisher/logsink"
	"github.com/vshulcz/hostmqtt/internal/adapters/publisher/mqtt"
	"github.com/vshulcz/hostmqtt/internal/adapters/registry/file"
	"github.com/vshulcz/hostmqtt/internal/adapters/registry/memory"
	"github.com/vshulcz/hostmqtt/internal/adapters/registry/postgres"
	"github.com/vshulcz/hostmqtt/internal/adapters/sampler/host"
	"github.com/vshulcz/hostmqtt/internal/config"
	"github.com/vshulcz/hostmqtt/internal/domain"
	"github.com/vshulcz/hostmqtt/internal/ports"
	agentsvc "github.com/vshulcz/hostmqtt/internal/services/agent"
	"github.com/vshulcz/hostmqtt/pkg/util"
)

const (
	cmdPrintPayload = "print-payload"
	cmdVersion      = "version"
)

// Set with -ldflags "-X main.buildVersion=...".
var (
	buildVersion string
	buildDate    string
	buildCommit  string
)

type publisher interface {
	ports.Publisher
	Close()
}

// deps are the process boundaries run reaches through.
type deps struct {
	hostname  func() (string, error)
	logger    func(debug bool) (*zap.Logger, error)
	sampler   func(diskPath string) ports.Sampler
	connect   func(ctx context.Context, cfg config.BrokerConfig, h domain.Host, l *zap.Logger) (publisher, error)
	openStore func(ctx context.Context, cfg config.AgentConfig) (ports.RegistrationStore, func() error, error)
}

func defaultDeps() deps {
	return deps{
		hostname: os.Hostname,
		logger: func(debug bool) (*zap.Logger, error) {
			if debug {
				return zap.NewDevelopment()
			}
			return zap.NewProduction()
		},
		sampler: func(diskPath string) ports.Sampler { return host.New(diskPath) },
		connect: func(ctx context.Context, cfg config.BrokerConfig, h domain.Host, l *zap.Logger) (publisher, error) {
			return mqtt.New(ctx, cfg, h, l)
		},
		openStore: openStore,
	}
}

func openStore(ctx context.Context, cfg config.AgentConfig) (ports.RegistrationStore, func() error, error) {
	if cfg.StateDSN != "" {
		st, err := postgres.Open(ctx, cfg.StateDSN)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	}
	st, err := file.Open(cfg.File)
	if err != nil {
		return nil, nil, err
	}
	return st, func() error { return nil }, nil
}

func run(ctx context.Context, args []string, out io.Writer, d deps) (retErr error) {
	cmd := ""
	if len(args) > 0 {
		switch args[0] {
		case cmdVersion:
			return util.WriteBuildInfo(out, buildVersion, buildDate, buildCommit)
		case cmdPrintPayload:
			cmd, args = args[0], args[1:]
		}
	}

	cfg, err := config.LoadAgentConfig(args, out)
	if err != nil {
		return err
	}
	logger, err := d.logger(cfg.Debug)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	hostname, err := d.hostname()
	if err != nil {
		return fmt.Errorf("%w: hostname: %w", domain.ErrConfiguration, err)
	}
	h, err := domain.HostFromHostname(hostname)
	if err != nil {
		return err
	}
	smp := d.sampler(cfg.DiskPath)

	if cmd == cmdPrintPayload {
		svc := agentsvc.New(cfg, h, smp, logsink.New(logger), memory.New(), logger)
		body, err := json.MarshalIndent(svc.BuildPayload(ctx, svc.Enabled()), "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(body))
		return err
	}

	logger.Info("cycle starting",
		zap.String("host", string(h)),
		zap.String("broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port)),
		zap.Stringers("metrics", cfg.Enabled()),
		zap.Bool("dry_run", cfg.DryRun))

	store, closeStore, err := d.openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { retErr = multierr.Append(retErr, closeStore()) }()

	var pub ports.Publisher
	if cfg.DryRun {
		seeded, err := memory.Seed(ctx, store, h, cfg.Enabled())
		if err != nil {
			return err
		}
		store = seeded
		pub = logsink.New(logger)
	} else {
		conn, err := d.connect(ctx, cfg.Broker, h, logger)
		if err != nil {
			return err
		}
		defer conn.Close()
		pub = conn
	}

	rep, err := agentsvc.New(cfg, h, smp, pub, store, logger).RunCycle(ctx)
	if err != nil {
		return err
	}
	logger.Debug("cycle done",
		zap.Int("registered", rep.Registered),
		zap.Int("fields", rep.Fields),
		zap.NamedError("sweep", rep.SweepErr))
	return nil
}
