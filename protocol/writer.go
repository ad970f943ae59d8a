package protocol

import (
	"io"
)

var Terminal = []byte("\n")

// WriteCommand serialises cmd and writes it to w as a single line, in one
// Write call.
func WriteCommand(w io.Writer, cmd Command) error {
	s, err := cmd.Serialize()
	if err != nil {
		return err
	}

	b := append([]byte(s), Terminal...)
	_, err = w.Write(b)
	return err
}

// WriteCommands writes each command in turn, stopping at the first error.
func WriteCommands(w io.Writer, cmds ...Command) error {
	for _, cmd := range cmds {
		if err := WriteCommand(w, cmd); err != nil {
			return err
		}
	}

	return nil
}
