package transport

import "github.com/luma/ycommand/protocol"

// Keyring looks up the consumer secret for a consumer key.
type Keyring interface {
	Secret(consumerKey string) (string, bool)
}

// StaticKeyring maps consumer keys to consumer secrets.
type StaticKeyring map[string]string

func (k StaticKeyring) Secret(consumerKey string) (string, bool) {
	secret, ok := k[consumerKey]
	return secret, ok
}

// SessionKey identifies a session in the store. Sessions created with
// different consumer keys never share subscriptions, even under the same
// name. A name cannot contain the delimiter, so the key splits on the last one.
func SessionKey(consumerKey, name string) string {
	return consumerKey + protocol.Delimiter + name
}
