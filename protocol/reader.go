package protocol

import (
	"bufio"
	"errors"
	"fmt"
)

// MaxLineLength bounds a single command line, terminator excluded.
const MaxLineLength = 64 * 1024

var ErrLineTooLong = errors.New("Command line is too long")

// ReadCommand reads one line from r and parses it as a command.
//
// A malformed line is consumed in full before the error is returned, so the
// caller can log it and carry on reading. I/O errors, including io.EOF, are
// returned unwrapped.
func ReadCommand(r *bufio.Reader) (Command, error) {
	line, err := ReadLine(r)
	if err != nil {
		return nil, err
	}

	cmd, err := Parse(Tokenize(string(line)))
	if err != nil {
		return nil, fmt.Errorf("Failed to parse '%s': %w", string(line), err)
	}

	return cmd, nil
}

// ReadLine reads a single line from r without its terminator. The returned
// slice is a copy, it stays valid after further reads. Lines longer than
// MaxLineLength are discarded and ErrLineTooLong is returned.
func ReadLine(r *bufio.Reader) ([]byte, error) {
	var (
		line    []byte
		tooLong bool
	)

	for {
		chunk, more, err := r.ReadLine()
		if err != nil {
			return nil, err
		}

		if !tooLong {
			// chunk points into r's buffer, the line has to outlive the next read
			line = append(line, chunk...)
			if len(line) > MaxLineLength {
				tooLong = true
				line = nil
			}
		}

		if !more {
			break
		}
	}

	if tooLong {
		return nil, ErrLineTooLong
	}

	return line, nil
}
