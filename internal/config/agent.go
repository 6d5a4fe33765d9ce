// Package config loads the agent configuration from a YAML file, the environment and CLI flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vshulcz/hostmqtt/internal/domain"
)

const (
	defaultConfigFile = "config.yaml"
	defaultBrokerPort = 1883
	defaultTimeout    = 10
	defaultDiskPath   = "/"
)

// BrokerConfig is the `broker` section of the config file.
type BrokerConfig struct {
	Host        string        `yaml:"mqtt_broker"`
	User        string        `yaml:"mqtt_user"`
	Password    string        `yaml:"mqtt_password"`
	TopicPrefix string        `yaml:"mqtt_topic_prefix"`
	Port        int           `yaml:"mqtt_port"`
	Timeout     time.Duration `yaml:"-"`
}

// AgentConfig is the validated, read-only configuration of one agent run.
type AgentConfig struct {
	File     string
	StateDSN string
	DiskPath string
	Broker   BrokerConfig
	DryRun   bool
	Debug    bool

	facets map[domain.Metric]bool
}

// Enabled returns the metrics switched on in the facets section, in catalog order.
func (c AgentConfig) Enabled() []domain.Metric {
	out := make([]domain.Metric, 0, len(c.facets))
	for _, m := range domain.Catalog {
		if c.facets[m] {
			out = append(out, m)
		}
	}
	return out
}

// IsEnabled reports whether m is switched on.
func (c AgentConfig) IsEnabled(m domain.Metric) bool {
	return c.facets[m]
}

type fileConfig struct {
	Broker   *BrokerConfig   `yaml:"broker"`
	Facets   map[string]bool `yaml:"facets"`
	Sampling struct {
		DiskPath string `yaml:"disk_path"`
	} `yaml:"sampling"`
}

// ENV > CLI > file > defaults
func LoadAgentConfig(args []string, out io.Writer) (AgentConfig, error) {
	if out == nil {
		out = io.Discard
	}

	fs := flag.NewFlagSet("hostmqtt", flag.ContinueOnError)
	fs.SetOutput(out)

	var fileOpt string
	var dsnOpt string
	var dryRunOpt bool
	var verboseOpt bool
	var timeoutOpt int

	fs.StringVar(&fileOpt, "c", "", fmt.Sprintf("config file, default: %s", defaultConfigFile))
	fs.StringVar(&dsnOpt, "s", "", "Postgres DSN for the registration store, default: state section of the config file")
	fs.BoolVar(&dryRunOpt, "n", false, "dry run: log messages instead of publishing them")
	fs.BoolVar(&verboseOpt, "v", false, "debug logging")
	fs.IntVar(&timeoutOpt, "t", 0, fmt.Sprintf("broker timeout in seconds, default: %d", defaultTimeout))

	if err := fs.Parse(args); err != nil {
		return AgentConfig{}, err
	}

	path := resolveString("CONFIG_FILE", fileOpt, "", defaultConfigFile)
	fc, err := readFile(path)
	if err != nil {
		return AgentConfig{}, err
	}

	broker := *fc.Broker
	broker.Host = resolveString("MQTT_BROKER", "", broker.Host, "")
	broker.User = resolveString("MQTT_USER", "", broker.User, "")
	broker.Password = resolveString("MQTT_PASSWORD", "", broker.Password, "")
	broker.TopicPrefix = resolveString("MQTT_TOPIC_PREFIX", "", broker.TopicPrefix, "")
	if broker.Port, err = resolveInt("MQTT_PORT", 0, broker.Port, defaultBrokerPort); err != nil {
		return AgentConfig{}, err
	}
	if broker.Timeout, err = resolveSeconds("MQTT_TIMEOUT", timeoutOpt, defaultTimeout); err != nil {
		return AgentConfig{}, err
	}
	if err := validateBroker(broker); err != nil {
		return AgentConfig{}, err
	}

	facets, err := parseFacets(fc.Facets)
	if err != nil {
		return AgentConfig{}, err
	}

	levelOpt := ""
	if verboseOpt {
		levelOpt = "debug"
	}
	level := resolveString("LOG_LEVEL", levelOpt, "", "info")

	return AgentConfig{
		File:     path,
		StateDSN: resolveString("STATE_DSN", dsnOpt, "", ""),
		DiskPath: resolveString("DISK_PATH", "", fc.Sampling.DiskPath, defaultDiskPath),
		Broker:   broker,
		DryRun:   resolveBool("DRY_RUN", dryRunOpt),
		Debug:    strings.EqualFold(level, "debug"),
		facets:   facets,
	}, nil
}

func readFile(path string) (fileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("%w: read %s: %w", domain.ErrConfiguration, path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fileConfig{}, fmt.Errorf("%w: parse %s: %w", domain.ErrConfiguration, path, err)
	}
	// A valid config file has two compulsory sections.
	if fc.Broker == nil || fc.Facets == nil {
		return fileConfig{}, fmt.Errorf("%w: %s needs both broker and facets sections", domain.ErrConfiguration, path)
	}
	return fc, nil
}

func validateBroker(b BrokerConfig) error {
	var errs []error
	if strings.TrimSpace(b.Host) == "" {
		errs = append(errs, errors.New("broker.mqtt_broker is empty"))
	}
	if strings.TrimSpace(b.TopicPrefix) == "" {
		errs = append(errs, errors.New("broker.mqtt_topic_prefix is empty"))
	}
	if b.Port <= 0 || b.Port > 65535 {
		errs = append(errs, fmt.Errorf("broker.mqtt_port out of range: %d", b.Port))
	}
	if b.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("broker timeout must be > 0, got %v", b.Timeout))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", domain.ErrConfiguration, errors.Join(errs...))
	}
	return nil
}

func parseFacets(raw map[string]bool) (map[domain.Metric]bool, error) {
	facets := make(map[domain.Metric]bool, len(raw))
	for key, on := range raw {
		m, err := domain.ParseMetric(key)
		if err != nil {
			return nil, fmt.Errorf("%w: facets: %w", domain.ErrConfiguration, err)
		}
		facets[m] = on
	}
	return facets, nil
}
