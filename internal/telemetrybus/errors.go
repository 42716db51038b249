package telemetrybus

import "errors"

var (
	errBusClosed          = errors.New("telemetrybus: bus is closed")
	errSubscriberExists   = errors.New("telemetrybus: subscriber already exists")
	errSubscriberNotFound = errors.New("telemetrybus: subscriber not found")
)
