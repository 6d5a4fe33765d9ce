package domain

import (
	"fmt"
	"strings"
)

// Host is the short machine name used to namespace topics and registration keys.
type Host string

// HostFromHostname keeps the label before the first dot of a hostname.
func HostFromHostname(hostname string) (Host, error) {
	short, _, _ := strings.Cut(strings.TrimSpace(hostname), ".")
	if short == "" {
		return "", fmt.Errorf("%w: empty hostname", ErrConfiguration)
	}
	return Host(short), nil
}

// StateTopic is where the per-cycle state payload is published.
func StateTopic(prefix string, host Host) string {
	return prefix + "/" + string(host) + "/state"
}

// ConfigTopic is the discovery topic for one metric of one host.
func ConfigTopic(prefix string, host Host, m Metric) string {
	return "homeassistant/sensor/" + prefix + "/" + UniqueID(host, m) + "/config"
}

// UniqueID is the platform-wide identity of a host metric sensor.
func UniqueID(host Host, m Metric) string {
	return string(host) + "_" + m.String()
}

// StateKey is the key under which a registration is persisted in the state section.
func StateKey(host Host, m Metric) string {
	return UniqueID(host, m) + "_configured"
}
