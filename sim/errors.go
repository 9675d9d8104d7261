package sim

import "errors"

var (
	// ErrActionInFlight is returned when an agent is asked to start a second action
	// before the first one completed.
	ErrActionInFlight = errors.New("action already in flight")

	// ErrUnknownAgent is returned for agent ids the simulation does not own.
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrInvalidAction is returned when an action or direction cannot be parsed.
	ErrInvalidAction = errors.New("invalid action")

	// ErrCommandMismatch is returned when a decision does not cover exactly the
	// perceived agents, once each.
	ErrCommandMismatch = errors.New("commands do not match perceptions")

	// ErrInvalidConfig wraps configuration validation failures.
	ErrInvalidConfig = errors.New("invalid config")
)
