package protocol

import "strings"

// All subscription commands share the same layout:
//
//   <VERB>|SERVICE|<service>|END

// legacyVerbs lists alternative spellings accepted when parsing a specific
// command. Some devices acknowledge an unsubscribe by echoing UNSUBSCRIBE
// rather than sending UNSUBSCRIBED; serialising always uses the canonical verb.
// Parse cannot tell the two apart, so a client receiving UNSUBSCRIBE gets an
// UnsubscribeCommand and has to treat it as the acknowledgement itself.
var legacyVerbs = map[Verb][]Verb{
	VerbUnsubscribed: {VerbUnsubscribe},
}

func serviceLayout(verb Verb) []string {
	return []string{string(verb), TargetService, field, EndMarker}
}

func parseService(tokens []string, verb Verb) (string, error) {
	if isEmpty(tokens) {
		return "", ErrEmptyCommand
	}

	accepted := append([]Verb{verb}, legacyVerbs[verb]...)
	if _, err := checkVerb(tokens, accepted...); err != nil {
		return "", err
	}

	if err := checkLayout(tokens, serviceLayout(verb)); err != nil {
		return "", err
	}

	if strings.ContainsAny(tokens[2], Delimiter+"\r\n") {
		return "", malformed("a service name", tokens[2], 2)
	}

	return tokens[2], nil
}

func serializeService(verb Verb, service string) string {
	return join(string(verb), TargetService, service)
}

// SubscribeCommand asks the device to start sending updates for a service.
type SubscribeCommand struct {
	service string
}

func NewSubscribeCommand(service string) (*SubscribeCommand, error) {
	if err := validField("service", service); err != nil {
		return nil, err
	}

	return &SubscribeCommand{service: service}, nil
}

func ParseSubscribeCommand(tokens []string) (*SubscribeCommand, error) {
	service, err := parseService(tokens, VerbSubscribe)
	if err != nil {
		return nil, err
	}

	return &SubscribeCommand{service: service}, nil
}

func (c *SubscribeCommand) Service() string { return c.service }
func (c *SubscribeCommand) Verb() Verb { return VerbSubscribe }
func (c *SubscribeCommand) Family() Family { return FamilySubscribe }
func (c *SubscribeCommand) Payload() (string, bool) { return c.service, true }

func (c *SubscribeCommand) Serialize() (string, error) {
	return serializeService(VerbSubscribe, c.service), nil
}

func (c *SubscribeCommand) command() {}

// UnsubscribeCommand asks the device to stop sending updates for a service.
type UnsubscribeCommand struct {
	service string
}

func NewUnsubscribeCommand(service string) (*UnsubscribeCommand, error) {
	if err := validField("service", service); err != nil {
		return nil, err
	}

	return &UnsubscribeCommand{service: service}, nil
}

func ParseUnsubscribeCommand(tokens []string) (*UnsubscribeCommand, error) {
	service, err := parseService(tokens, VerbUnsubscribe)
	if err != nil {
		return nil, err
	}

	return &UnsubscribeCommand{service: service}, nil
}

func (c *UnsubscribeCommand) Service() string { return c.service }
func (c *UnsubscribeCommand) Verb() Verb { return VerbUnsubscribe }
func (c *UnsubscribeCommand) Family() Family { return FamilySubscribe }
func (c *UnsubscribeCommand) Payload() (string, bool) { return c.service, true }

func (c *UnsubscribeCommand) Serialize() (string, error) {
	return serializeService(VerbUnsubscribe, c.service), nil
}

func (c *UnsubscribeCommand) command() {}

// SubscribedCommand is the device acknowledging a subscription.
type SubscribedCommand struct {
	service string
}

func NewSubscribedCommand(service string) (*SubscribedCommand, error) {
	if err := validField("service", service); err != nil {
		return nil, err
	}

	return &SubscribedCommand{service: service}, nil
}

func ParseSubscribedCommand(tokens []string) (*SubscribedCommand, error) {
	service, err := parseService(tokens, VerbSubscribed)
	if err != nil {
		return nil, err
	}

	return &SubscribedCommand{service: service}, nil
}

func (c *SubscribedCommand) Service() string { return c.service }
func (c *SubscribedCommand) Verb() Verb { return VerbSubscribed }
func (c *SubscribedCommand) Family() Family { return FamilySubscribe }
func (c *SubscribedCommand) Payload() (string, bool) { return c.service, true }

func (c *SubscribedCommand) Serialize() (string, error) {
	return serializeService(VerbSubscribed, c.service), nil
}

func (c *SubscribedCommand) command() {}

// UnsubscribedCommand is the device acknowledging an unsubscribe.
//
// It also parses from UNSUBSCRIBE, see legacyVerbs.
type UnsubscribedCommand struct {
	service string
}

func NewUnsubscribedCommand(service string) (*UnsubscribedCommand, error) {
	if err := validField("service", service); err != nil {
		return nil, err
	}

	return &UnsubscribedCommand{service: service}, nil
}

func ParseUnsubscribedCommand(tokens []string) (*UnsubscribedCommand, error) {
	service, err := parseService(tokens, VerbUnsubscribed)
	if err != nil {
		return nil, err
	}

	return &UnsubscribedCommand{service: service}, nil
}

func (c *UnsubscribedCommand) Service() string { return c.service }
func (c *UnsubscribedCommand) Verb() Verb { return VerbUnsubscribed }
func (c *UnsubscribedCommand) Family() Family { return FamilySubscribe }
func (c *UnsubscribedCommand) Payload() (string, bool) { return c.service, true }

func (c *UnsubscribedCommand) Serialize() (string, error) {
	return serializeService(VerbUnsubscribed, c.service), nil
}

func (c *UnsubscribedCommand) command() {}
