package domain

import (
	"fmt"
	"math"
	"time"
)

// QoS is the MQTT delivery guarantee requested from the transport.
type QoS byte

// AtMostOnce is the only level the agent requests.
const AtMostOnce QoS = 0

// Reading is one successful sample of a metric.
type Reading struct {
	SampledAt time.Time
	Metric    Metric
	Value     float64
}

// StatePayload is the per-cycle report. Fields are omitted when the metric is
// disabled or could not be sampled.
type StatePayload struct {
	CPULoad           *float64 `json:"cpu_load,omitempty"`
	CPUTemp           *float64 `json:"cpu_temp,omitempty"`
	DiskUsage         *float64 `json:"disk_usage,omitempty"`
	CPUVoltage        *float64 `json:"cpu_voltage,omitempty"`
	SwapUsage         *float64 `json:"swap_usage,omitempty"`
	MemoryUtilization *float64 `json:"memory_utilization,omitempty"`
	ClockSpeed        *float64 `json:"clock_speed,omitempty"`
	Uptime            *string  `json:"uptime,omitempty"`
}

// Set stores r in the field matching its metric. Uptime readings are seconds.
func (p *StatePayload) Set(r Reading) error {
	v := r.Value
	switch r.Metric {
	case CPULoad:
		p.CPULoad = &v
	case CPUTemperature:
		p.CPUTemp = &v
	case DiskUsage:
		p.DiskUsage = &v
	case CPUVoltage:
		p.CPUVoltage = &v
	case SwapUsage:
		p.SwapUsage = &v
	case MemoryUtilization:
		p.MemoryUtilization = &v
	case ClockSpeed:
		p.ClockSpeed = &v
	case Uptime:
		s := FormatUptime(time.Duration(v * float64(time.Second)))
		p.Uptime = &s
	default:
		return fmt.Errorf("%w: %s", ErrUnknownMetric, r.Metric)
	}
	return nil
}

// Len reports how many fields are populated.
func (p *StatePayload) Len() int {
	n := 0
	for _, set := range []bool{
		p.CPULoad != nil, p.CPUTemp != nil, p.DiskUsage != nil, p.CPUVoltage != nil,
		p.SwapUsage != nil, p.MemoryUtilization != nil, p.ClockSpeed != nil, p.Uptime != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

// FormatUptime renders d as D:HH:MM.SS.
func FormatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	days := secs / 86400
	hours := (secs % 86400) / 3600
	mins := (secs % 3600) / 60
	return fmt.Sprintf("%d:%02d:%02d.%02d", days, hours, mins, secs%60)
}

// Round2 rounds v to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
