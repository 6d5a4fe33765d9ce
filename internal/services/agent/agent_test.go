package agent

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vshulcz/hostmqtt/internal/adapters/registry/memory"
	"github.com/vshulcz/hostmqtt/internal/config"
	"github.com/vshulcz/hostmqtt/internal/domain"
)

type fakeSampler struct {
	values map[domain.Metric]float64
	calls  []domain.Metric
}

func (f *fakeSampler) Sample(_ context.Context, m domain.Metric) (float64, error) {
	f.calls = append(f.calls, m)
	v, ok := f.values[m]
	if !ok {
		return 0, domain.ErrUnavailable
	}
	return v, nil
}

type message struct {
	topic   string
	payload string
}

type fakePublisher struct {
	mu       sync.Mutex
	sent     []message
	failFrom string
}

func (p *fakePublisher) Publish(_ context.Context, topic string, payload []byte, _ domain.QoS) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failFrom != "" && strings.HasPrefix(topic, p.failFrom) {
		return domain.ErrPublish
	}
	p.sent = append(p.sent, message{topic, string(payload)})
	return nil
}

func loadConfig(t *testing.T, facets ...string) config.AgentConfig {
	t.Helper()
	var b strings.Builder
	b.WriteString("broker:\n  mqtt_broker: localhost\n  mqtt_topic_prefix: rpi\nfacets:\n")
	for _, f := range facets {
		b.WriteString("  " + f + ": true\n")
	}
	b.WriteString("  disk_usage: false\n")
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.LoadAgentConfig([]string{"-c", path}, nil)
	if err != nil {
		t.Fatalf("LoadAgentConfig: %v", err)
	}
	return cfg
}

var allValues = map[domain.Metric]float64{
	domain.CPULoad:           12.5,
	domain.CPUTemperature:    48.3,
	domain.CPUVoltage:        1.2,
	domain.MemoryUtilization: 40,
	domain.Uptime:            3661,
}

func TestRunCycle_FreshStore(t *testing.T) {
	cfg := loadConfig(t, "cpu_load", "uptime")
	st := memory.New()
	pub := &fakePublisher{}
	svc := New(cfg, "pi", &fakeSampler{values: allValues}, pub, st, nil)

	rep, err := svc.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if rep.Registered != 2 || rep.SweepErr != nil || rep.Fields != 2 || rep.Topic != "rpi/pi/state" {
		t.Fatalf("report = %+v", rep)
	}
	if len(pub.sent) != 3 {
		t.Fatalf("publishes = %d, want 3", len(pub.sent))
	}
	for i, want := range []string{
		"homeassistant/sensor/rpi/pi_cpu_load/config",
		"homeassistant/sensor/rpi/pi_uptime/config",
		"rpi/pi/state",
	} {
		if pub.sent[i].topic != want {
			t.Fatalf("publish %d topic = %q, want %q", i, pub.sent[i].topic, want)
		}
	}
	if got, want := pub.sent[2].payload, `{"cpu_load":12.5,"uptime":"0:01:01.01"}`; got != want {
		t.Fatalf("state = %s, want %s", got, want)
	}
	for _, m := range []domain.Metric{domain.CPULoad, domain.Uptime} {
		if ok, _ := st.IsRegistered(context.Background(), "pi", m); !ok {
			t.Fatalf("%s not registered", m)
		}
	}
}

func TestRunCycle_AlreadyRegistered(t *testing.T) {
	cfg := loadConfig(t, "cpu_temperature")
	st := memory.New()
	_ = st.MarkRegistered(context.Background(), "pi", domain.CPUTemperature)
	pub := &fakePublisher{}

	rep, err := New(cfg, "pi", &fakeSampler{values: allValues}, pub, st, nil).RunCycle(context.Background())
	if err != nil || rep.Registered != 0 {
		t.Fatalf("RunCycle = %+v,%v", rep, err)
	}
	if len(pub.sent) != 1 || pub.sent[0].payload != `{"cpu_temp":48.3}` {
		t.Fatalf("sent = %+v", pub.sent)
	}
}

func TestRunCycle_SweepFailureDoesNotFailCycle(t *testing.T) {
	cfg := loadConfig(t, "cpu_load")
	pub := &fakePublisher{failFrom: "homeassistant/"}
	st := memory.New()

	rep, err := New(cfg, "pi", &fakeSampler{values: allValues}, pub, st, nil).RunCycle(context.Background())
	if err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if !errors.Is(rep.SweepErr, domain.ErrPublish) || rep.Registered != 0 {
		t.Fatalf("report = %+v", rep)
	}
	if st.Len() != 0 {
		t.Fatal("failed registration must not be recorded")
	}
	if len(pub.sent) != 1 || pub.sent[0].topic != "rpi/pi/state" {
		t.Fatalf("sent = %+v", pub.sent)
	}
}

func TestRunCycle_StatePublishFailure(t *testing.T) {
	cfg := loadConfig(t, "cpu_load")
	pub := &fakePublisher{failFrom: "rpi/"}

	_, err := New(cfg, "pi", &fakeSampler{values: allValues}, pub, memory.New(), nil).RunCycle(context.Background())
	if !errors.Is(err, domain.ErrPublish) {
		t.Fatalf("err = %v, want ErrPublish", err)
	}
}

func TestBuildPayload_GracefulDegradation(t *testing.T) {
	cfg := loadConfig(t, "cpu_load", "cpu_temperature", "clock_speed", "memory_utilization")
	core, logs := observer.New(zap.WarnLevel)
	smp := &fakeSampler{values: allValues}
	svc := New(cfg, "pi", smp, &fakePublisher{}, memory.New(), zap.New(core))

	p := svc.BuildPayload(context.Background(), svc.Enabled())
	if p.Len() != 3 || p.ClockSpeed != nil {
		t.Fatalf("payload = %+v", p)
	}
	b, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	if want := `{"cpu_load":12.5,"cpu_temp":48.3,"memory_utilization":40}`; string(b) != want {
		t.Fatalf("json = %s, want %s", b, want)
	}
	if len(smp.calls) != 4 {
		t.Fatalf("sampler calls = %v", smp.calls)
	}
	if n := logs.FilterMessage("sample failed").Len(); n != 1 {
		t.Fatalf("warnings = %d, want 1", n)
	}
}

func TestBuildPayload_NothingEnabled(t *testing.T) {
	cfg := loadConfig(t)
	svc := New(cfg, "pi", &fakeSampler{}, &fakePublisher{}, memory.New(), nil)
	if p := svc.BuildPayload(context.Background(), svc.Enabled()); p.Len() != 0 {
		t.Fatalf("payload = %+v", p)
	}
}
