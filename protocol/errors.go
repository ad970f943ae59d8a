package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyCommand     = errors.New("Command is empty")
	ErrMalformedCommand = errors.New("Command is malformed")
	ErrUnknownCommand   = errors.New("Unknown command could not be parsed")
	ErrInvalidField     = errors.New("Command field cannot be serialised")
	ErrInvalidEncoding  = errors.New("Value is not valid UTF-8")
	ErrDigestSize       = errors.New("Digest has an unexpected size")
)

// ParseError describes a token sequence that does not match the layout of
// the command it was parsed as.
type ParseError struct {
	// Err is ErrMalformedCommand or ErrUnknownCommand
	Err error

	Expected string
	Found    string
	Position int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: expected %s at token %d, found %q",
		e.Err, e.Expected, e.Position, e.Found)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func malformed(expected, found string, position int) *ParseError {
	return &ParseError{
		Err:      ErrMalformedCommand,
		Expected: expected,
		Found:    found,
		Position: position,
	}
}

// SigningError is returned when a credential signature cannot be computed.
type SigningError struct {
	// Field names the credential being processed
	Field string
	Err   error
}

func (e *SigningError) Error() string {
	return fmt.Sprintf("Failed to sign %s: %v", e.Field, e.Err)
}

func (e *SigningError) Unwrap() error {
	return e.Err
}
