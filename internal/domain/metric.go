// Package domain holds the metric catalog and the value types exchanged between the agent services and adapters.
package domain

import (
	"fmt"
	"strings"
)

// Metric identifies one entry of the closed metric catalog.
type Metric uint8

const (
	CPULoad Metric = iota
	CPUTemperature
	DiskUsage
	CPUVoltage
	SwapUsage
	MemoryUtilization
	ClockSpeed
	Uptime

	metricCount
)

// Catalog lists every metric the agent understands, in payload order.
var Catalog = [metricCount]Metric{
	CPULoad,
	CPUTemperature,
	DiskUsage,
	CPUVoltage,
	SwapUsage,
	MemoryUtilization,
	ClockSpeed,
	Uptime,
}

// catalogEntry holds the fixed per-metric facts used by discovery and the state payload.
type catalogEntry struct {
	id         string
	stateField string
	valueField string
	title      string
	icon       string
	unit       string
	tempUnit   string
}

var catalog = [metricCount]catalogEntry{
	CPULoad:           {id: "cpu_load", stateField: "cpu_load", valueField: "cpu_load", title: "CPU Usage", icon: "mdi:speedometer", unit: "%"},
	CPUTemperature:    {id: "cpu_temperature", stateField: "cpu_temp", valueField: "cpu_temp", title: "CPU Temperature", icon: "hass:thermometer", unit: "°C", tempUnit: "C"},
	DiskUsage:         {id: "disk_usage", stateField: "disk_usage", valueField: "disk_usage", title: "Disk Usage", icon: "mdi:harddisk", unit: "%"},
	CPUVoltage:        {id: "cpu_voltage", stateField: "cpu_voltage", valueField: "cpu_voltage", title: "CPU Voltage", icon: "mdi:speedometer", unit: "V"},
	SwapUsage:         {id: "swap_usage", stateField: "swap_usage", valueField: "swap_utilization", title: "Disk Swap", icon: "mdi:harddisk", unit: "%"},
	MemoryUtilization: {id: "memory_utilization", stateField: "memory_utilization", valueField: "memory_utilization", title: "Memory Usage", icon: "mdi:memory", unit: "%"},
	ClockSpeed:        {id: "clock_speed", stateField: "clock_speed", valueField: "clock_speed", title: "CPU Clock Speed", icon: "mdi:speedometer", unit: "GHz"},
	Uptime:            {id: "uptime", stateField: "uptime", valueField: "uptime", title: "Uptime", icon: "mdi:timer", unit: "days"},
}

// ParseMetric maps a configuration identifier such as "cpu_load" to its catalog entry.
func ParseMetric(s string) (Metric, error) {
	id := strings.ToLower(strings.TrimSpace(s))
	for m, e := range catalog {
		if e.id == id {
			return Metric(m), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMetric, s)
}

// Valid reports whether m belongs to the catalog.
func (m Metric) Valid() bool {
	return m < metricCount
}

// String returns the configuration identifier, e.g. "cpu_temperature".
func (m Metric) String() string {
	if !m.Valid() {
		return fmt.Sprintf("metric(%d)", uint8(m))
	}
	return catalog[m].id
}

// StateField is the key the metric occupies in the state payload.
func (m Metric) StateField() string {
	if !m.Valid() {
		return ""
	}
	return catalog[m].stateField
}
