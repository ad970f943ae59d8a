package protocol

import (
	"fmt"
	"strings"
)

type Verb string

const (
	VerbSession      Verb = "SESSION"
	VerbSubscribe    Verb = "SUBSCRIBE"
	VerbUnsubscribe  Verb = "UNSUBSCRIBE"
	VerbSubscribed   Verb = "SUBSCRIBED"
	VerbUnsubscribed Verb = "UNSUBSCRIBED"
)

type Family string

const (
	FamilySession   Family = "SESSION"
	FamilySubscribe Family = "SUBSCRIBE"
)

const (
	// Delimiter separates the tokens of a command line
	Delimiter = "|"

	// EndMarker is the final token of every command
	EndMarker = "END"

	ActionCreate  = "CREATE"
	TargetService = "SERVICE"
)

// Command is one line of the protocol. The set of implementations is closed,
// callers can switch over the concrete types exhaustively.
type Command interface {
	Verb() Verb
	Family() Family

	// Payload returns the variant specific auxiliary data, if any.
	Payload() (string, bool)

	// Serialize returns the canonical wire form, without a line terminator.
	Serialize() (string, error)

	command()
}

var (
	_ Command = (*CreateSessionCommand)(nil)
	_ Command = (*CreateSessionRequest)(nil)
	_ Command = (*SubscribeCommand)(nil)
	_ Command = (*UnsubscribeCommand)(nil)
	_ Command = (*SubscribedCommand)(nil)
	_ Command = (*UnsubscribedCommand)(nil)
)

// Parse dispatches tokens to the parser of the command named by the first
// token.
//
// UNSUBSCRIBE is always treated as a client request here. Use
// ParseUnsubscribedCommand directly to accept it as a legacy spelling of
// UNSUBSCRIBED.
func Parse(tokens []string) (Command, error) {
	if isEmpty(tokens) {
		return nil, ErrEmptyCommand
	}

	var (
		cmd Command
		err error
	)

	// Assign through the concrete types so a failed parse yields a nil
	// Command rather than a typed nil pointer.
	switch Verb(tokens[0]) {
	case VerbSession:
		var c *CreateSessionRequest
		if c, err = ParseCreateSessionRequest(tokens); err == nil {
			cmd = c
		}

	case VerbSubscribe:
		var c *SubscribeCommand
		if c, err = ParseSubscribeCommand(tokens); err == nil {
			cmd = c
		}

	case VerbUnsubscribe:
		var c *UnsubscribeCommand
		if c, err = ParseUnsubscribeCommand(tokens); err == nil {
			cmd = c
		}

	case VerbSubscribed:
		var c *SubscribedCommand
		if c, err = ParseSubscribedCommand(tokens); err == nil {
			cmd = c
		}

	case VerbUnsubscribed:
		var c *UnsubscribedCommand
		if c, err = ParseUnsubscribedCommand(tokens); err == nil {
			cmd = c
		}

	default:
		err = &ParseError{
			Err:      ErrUnknownCommand,
			Expected: "a known verb",
			Found:    tokens[0],
			Position: 0,
		}
	}

	return cmd, err
}

// Tokenize splits a single protocol line into its tokens. A trailing line
// terminator is removed first.
func Tokenize(line string) []string {
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")

	return strings.Split(line, Delimiter)
}

func isEmpty(tokens []string) bool {
	return len(tokens) == 0 || (len(tokens) == 1 && tokens[0] == "")
}

// join builds a command line from tokens, appending the end marker.
func join(tokens ...string) string {
	return strings.Join(append(tokens, EndMarker), Delimiter)
}

// field marks a variable position in a token layout.
const field = ""

// checkLayout validates tokens against layout. layout[0] is ignored, callers
// check the verb themselves. Positions holding field must be non-empty.
func checkLayout(tokens []string, layout []string) error {
	for i, want := range layout {
		if i == 0 {
			continue
		}

		if i >= len(tokens) {
			return malformed(describe(want), "nothing", i)
		}

		if want == field {
			if tokens[i] == "" {
				return malformed("a non-empty value", "", i)
			}
			continue
		}

		if tokens[i] != want {
			return malformed(want, tokens[i], i)
		}
	}

	if len(tokens) > len(layout) {
		return malformed(fmt.Sprintf("%d tokens", len(layout)), tokens[len(layout)], len(layout))
	}

	return nil
}

// checkVerb validates tokens[0] against the accepted spellings.
func checkVerb(tokens []string, accepted ...Verb) (Verb, error) {
	for _, verb := range accepted {
		if Verb(tokens[0]) == verb {
			return verb, nil
		}
	}

	return "", malformed(string(accepted[0]), tokens[0], 0)
}

func describe(want string) string {
	if want == field {
		return "a value"
	}

	return want
}

// validField reports an error if value cannot be carried as a single token.
func validField(name, value string) error {
	if value == "" {
		return fmt.Errorf("%s is empty: %w", name, ErrInvalidField)
	}

	if strings.ContainsAny(value, Delimiter+"\r\n") {
		return fmt.Errorf("%s %q contains a delimiter or line break: %w", name, value, ErrInvalidField)
	}

	return nil
}
