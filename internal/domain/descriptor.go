package domain

import "fmt"

// Descriptor is the discovery registration message for one host metric.
type Descriptor struct {
	StateTopic      string `json:"state_topic"`
	UniqueID        string `json:"unique_id"`
	Icon            string `json:"icon"`
	Name            string `json:"name"`
	TemperatureUnit string `json:"temperature_unit,omitempty"`
	Unit            string `json:"unit_of_measurement"`
	ValueTemplate   string `json:"value_template"`

	// Topic is where the descriptor itself is published; it is not part of the message.
	Topic string `json:"-"`
}

// Describe builds the discovery descriptor of m for host under the given topic prefix.
func Describe(m Metric, host Host, prefix string) (Descriptor, error) {
	if !m.Valid() {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownMetric, m)
	}
	e := catalog[m]
	return Descriptor{
		Topic:           ConfigTopic(prefix, host, m),
		StateTopic:      StateTopic(prefix, host),
		UniqueID:        UniqueID(host, m),
		Icon:            e.icon,
		Name:            string(host) + " " + e.title,
		TemperatureUnit: e.tempUnit,
		Unit:            e.unit,
		ValueTemplate:   "{{ value_json." + e.valueField + "}}",
	}, nil
}
