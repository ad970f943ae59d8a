package protocol

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	appKeyAppID       = "app_id"
	appKeyConsumerKey = "consumer_key"
	appKeySecret      = "secret"
)

// CreateSessionCommand asks the device to open an authenticated session.
// It is only ever sent by clients, so there is no parser for it; the device
// side reads the same line as a CreateSessionRequest.
//
//   SESSION|CREATE|app_id=...&consumer_key=...&secret=<hmac>|My App|END
//
// The consumer secret is only used to sign the consumer key, it is never
// written to the wire.
type CreateSessionCommand struct {
	appID       string
	consumerKey string
	secret      string
	name        string
}

func NewCreateSessionCommand(appID, consumerKey, secret, name string) *CreateSessionCommand {
	return &CreateSessionCommand{
		appID:       appID,
		consumerKey: consumerKey,
		secret:      secret,
		name:        name,
	}
}

func (c *CreateSessionCommand) AppID() string { return c.appID }
func (c *CreateSessionCommand) ConsumerKey() string { return c.consumerKey }
func (c *CreateSessionCommand) Name() string { return c.name }

func (c *CreateSessionCommand) Verb() Verb { return VerbSession }
func (c *CreateSessionCommand) Family() Family { return FamilySession }

// Payload is always empty. The signed app key is only available through
// SignedAppKey.
func (c *CreateSessionCommand) Payload() (string, bool) { return "", false }

// SignedAppKey returns the form encoded credentials, in the order the device
// expects them:
//
//   app_id=<appID>&consumer_key=<consumerKey>&secret=<HMAC-SHA1(secret, consumerKey)>
//
// The device rejects an app key without an app id or consumer key, so both
// are required here too.
func (c *CreateSessionCommand) SignedAppKey() (string, error) {
	if c.appID == "" {
		return "", fmt.Errorf("%s is empty: %w", appKeyAppID, ErrInvalidField)
	}

	if c.consumerKey == "" {
		return "", fmt.Errorf("%s is empty: %w", appKeyConsumerKey, ErrInvalidField)
	}

	signature, err := Sign(c.secret, c.consumerKey)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(appKeyAppID + "=")
	b.WriteString(formEncode(c.appID))
	b.WriteString("&" + appKeyConsumerKey + "=")
	b.WriteString(formEncode(c.consumerKey))
	b.WriteString("&" + appKeySecret + "=")
	b.WriteString(formEncode(signature))

	return b.String(), nil
}

func (c *CreateSessionCommand) Serialize() (string, error) {
	if err := validField("name", c.name); err != nil {
		return "", err
	}

	appKey, err := c.SignedAppKey()
	if err != nil {
		return "", err
	}

	return join(string(VerbSession), ActionCreate, appKey, c.name), nil
}

func (c *CreateSessionCommand) command() {}

// CreateSessionRequest is a SESSION|CREATE line as received by the device.
type CreateSessionRequest struct {
	appKey string

	appID       string
	consumerKey string
	signature   string
	name        string
}

var createSessionLayout = []string{string(VerbSession), ActionCreate, field, field, EndMarker}

func ParseCreateSessionRequest(tokens []string) (*CreateSessionRequest, error) {
	if isEmpty(tokens) {
		return nil, ErrEmptyCommand
	}

	if _, err := checkVerb(tokens, VerbSession); err != nil {
		return nil, err
	}

	if err := checkLayout(tokens, createSessionLayout); err != nil {
		return nil, err
	}

	values, err := url.ParseQuery(tokens[2])
	if err != nil {
		return nil, &ParseError{
			Err:      ErrMalformedCommand,
			Expected: "a form encoded app key",
			Found:    tokens[2],
			Position: 2,
		}
	}

	req := &CreateSessionRequest{
		appKey:      tokens[2],
		appID:       values.Get(appKeyAppID),
		consumerKey: values.Get(appKeyConsumerKey),
		signature:   values.Get(appKeySecret),
		name:        tokens[3],
	}

	for _, key := range []string{appKeyAppID, appKeyConsumerKey, appKeySecret} {
		if values.Get(key) == "" {
			return nil, malformed(fmt.Sprintf("an app key with %s", key), tokens[2], 2)
		}
	}

	return req, nil
}

func (r *CreateSessionRequest) AppID() string { return r.appID }
func (r *CreateSessionRequest) ConsumerKey() string { return r.consumerKey }
func (r *CreateSessionRequest) Signature() string { return r.signature }
func (r *CreateSessionRequest) Name() string { return r.name }

func (r *CreateSessionRequest) Verb() Verb { return VerbSession }
func (r *CreateSessionRequest) Family() Family { return FamilySession }
func (r *CreateSessionRequest) Payload() (string, bool) { return "", false }

// Verify reports whether the request was signed with secret.
func (r *CreateSessionRequest) Verify(secret string) bool {
	return VerifySignature(secret, r.consumerKey, r.signature)
}

func (r *CreateSessionRequest) Serialize() (string, error) {
	return join(string(VerbSession), ActionCreate, r.appKey, r.name), nil
}

func (r *CreateSessionRequest) command() {}
