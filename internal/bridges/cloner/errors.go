package cloner

import (
	"errors"
	"fmt"
)

// Errors returned by the bridge for bad MQTT input.
var (
	ErrUnknownCommand = errors.New("cloner: unknown command")
	ErrInvalidPayload = errors.New("cloner: invalid command payload")
)

// commandError tags an input error with its ack kind.
type commandError struct {
	kind string
	err  error
}

func (e *commandError) Error() string { return e.err.Error() }
func (e *commandError) Unwrap() error { return e.err }

func invalidCommand(command string) error {
	return &commandError{kind: ErrKindInvalidCommand, err: fmt.Errorf("%w: %q", ErrUnknownCommand, command)}
}

func invalidPayload(err error) error {
	return &commandError{kind: ErrKindInvalidPayload, err: fmt.Errorf("%w: %w", ErrInvalidPayload, err)}
}
