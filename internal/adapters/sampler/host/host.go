// Package host samples CPU, memory, disk and uptime readings of the local machine
// through gopsutil and the Raspberry Pi firmware tool vcgencmd.
package host

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	pshost "github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/vshulcz/hostmqtt/internal/domain"
	"github.com/vshulcz/hostmqtt/internal/ports"
)

const firmwareTool = "vcgencmd"

// runner executes a command and returns its stdout.
type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// probes are the gopsutil calls the sampler depends on.
type probes struct {
	loadAvg func(ctx context.Context) (*load.AvgStat, error)
	cpus    func(ctx context.Context, logical bool) (int, error)
	cpuInfo func(ctx context.Context) ([]cpu.InfoStat, error)
	vmem    func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	swap    func(ctx context.Context) (*mem.SwapMemoryStat, error)
	usage   func(ctx context.Context, path string) (*disk.UsageStat, error)
	uptime  func(ctx context.Context) (uint64, error)
	sensors func(ctx context.Context) ([]pshost.TemperatureStat, error)
}

// Sampler reads one metric at a time. It holds no state between calls.
type Sampler struct {
	diskPath string
	run      runner
	p        probes
}

var _ ports.Sampler = (*Sampler)(nil)

// New returns a Sampler that reports disk usage for the filesystem mounted at diskPath.
func New(diskPath string) *Sampler {
	if diskPath == "" {
		diskPath = "/"
	}
	return &Sampler{
		diskPath: diskPath,
		run:      execRun,
		p: probes{
			loadAvg: load.AvgWithContext,
			cpus:    cpu.CountsWithContext,
			cpuInfo: cpu.InfoWithContext,
			vmem:    mem.VirtualMemoryWithContext,
			swap:    mem.SwapMemoryWithContext,
			usage:   disk.UsageWithContext,
			uptime:  pshost.UptimeWithContext,
			sensors: pshost.SensorsTemperaturesWithContext,
		},
	}
}

// Sample returns the current value of m rounded to two decimals.
// Uptime is returned in whole seconds.
func (s *Sampler) Sample(ctx context.Context, m domain.Metric) (float64, error) {
	var (
		v   float64
		err error
	)
	switch m {
	case domain.CPULoad:
		v, err = s.cpuLoad(ctx)
	case domain.CPUTemperature:
		v, err = s.temperature(ctx)
	case domain.DiskUsage:
		v, err = s.diskUsage(ctx)
	case domain.CPUVoltage:
		v, err = s.firmware(ctx, "V", "measure_volts", "core")
	case domain.SwapUsage:
		v, err = s.swapUsage(ctx)
	case domain.MemoryUtilization:
		v, err = s.memUsage(ctx)
	case domain.ClockSpeed:
		v, err = s.clockSpeed(ctx)
	case domain.Uptime:
		var up uint64
		up, err = s.p.uptime(ctx)
		v = float64(up)
	default:
		return 0, fmt.Errorf("sample %d: %w", m, domain.ErrUnknownMetric)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", domain.ErrUnavailable, m, err)
	}
	return domain.Round2(v), nil
}

func (s *Sampler) cpuLoad(ctx context.Context) (float64, error) {
	avg, err := s.p.loadAvg(ctx)
	if err != nil {
		return 0, err
	}
	n, err := s.p.cpus(ctx, true)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("no logical cpus reported")
	}
	return avg.Load1 / float64(n) * 100, nil
}

func (s *Sampler) temperature(ctx context.Context) (float64, error) {
	v, err := s.firmware(ctx, "'C", "measure_temp")
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, exec.ErrNotFound) {
		return 0, err
	}

	stats, serr := s.p.sensors(ctx)
	best, found := 0.0, false
	for _, st := range stats {
		if !cpuSensor(st.SensorKey) {
			continue
		}
		if !found || st.Temperature > best {
			best, found = st.Temperature, true
		}
	}
	if !found {
		return 0, errors.Join(err, serr, errors.New("no cpu temperature sensor"))
	}
	return best, nil
}

func cpuSensor(key string) bool {
	key = strings.ToLower(key)
	for _, hint := range []string{"cpu", "soc", "coretemp", "k10temp", "package", "x86_pkg"} {
		if strings.Contains(key, hint) {
			return true
		}
	}
	return false
}

func (s *Sampler) clockSpeed(ctx context.Context) (float64, error) {
	hz, err := s.firmware(ctx, "", "measure_clock", "arm")
	if err == nil {
		return hz / 1e9, nil
	}
	if !errors.Is(err, exec.ErrNotFound) {
		return 0, err
	}

	info, ierr := s.p.cpuInfo(ctx)
	if ierr != nil || len(info) == 0 || info[0].Mhz <= 0 {
		return 0, errors.Join(err, ierr, errors.New("no cpu frequency reported"))
	}
	return info[0].Mhz / 1000, nil
}

func (s *Sampler) diskUsage(ctx context.Context) (float64, error) {
	u, err := s.p.usage(ctx, s.diskPath)
	if err != nil {
		return 0, err
	}
	if u.Total == 0 {
		return 0, fmt.Errorf("%s reports zero size", s.diskPath)
	}
	return float64(u.Used) / float64(u.Total) * 100, nil
}

func (s *Sampler) swapUsage(ctx context.Context) (float64, error) {
	sw, err := s.p.swap(ctx)
	if err != nil {
		return 0, err
	}
	return sw.UsedPercent, nil
}

func (s *Sampler) memUsage(ctx context.Context) (float64, error) {
	vm, err := s.p.vmem(ctx)
	if err != nil {
		return 0, err
	}
	return vm.UsedPercent, nil
}

// firmware runs `vcgencmd <args>` and parses a `name=<number><unit>` reply.
func (s *Sampler) firmware(ctx context.Context, unit string, args ...string) (float64, error) {
	out, err := s.run(ctx, firmwareTool, args...)
	if err != nil {
		return 0, err
	}
	return parseReply(string(out), unit)
}

func parseReply(out, unit string) (float64, error) {
	line := strings.TrimSpace(out)
	_, val, ok := strings.Cut(line, "=")
	if !ok {
		return 0, fmt.Errorf("unexpected %s output %q", firmwareTool, line)
	}
	val = strings.TrimSuffix(strings.TrimSpace(val), unit)
	v, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected %s output %q: %w", firmwareTool, line, err)
	}
	return v, nil
}

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s %s: %w (stderr: %s)",
			name, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}
