package domain

import "errors"

var (
	// ErrUnavailable marks a metric that could not be sampled this cycle.
	ErrUnavailable = errors.New("metric unavailable")
	// ErrPublish indicates the transport could not deliver a message.
	ErrPublish = errors.New("publish failed")
	// ErrPersistence indicates a registration could not be durably recorded.
	ErrPersistence = errors.New("registration not persisted")
	// ErrConfiguration marks an invalid or incomplete configuration.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrUnknownMetric is returned for identifiers outside the catalog.
	ErrUnknownMetric = errors.New("unknown metric")
)
