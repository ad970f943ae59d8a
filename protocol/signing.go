package protocol

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"hash"
	"net/url"
	"strings"
	"unicode/utf8"
)

// Sign computes the HMAC-SHA1 of message keyed with secret and returns it as
// lowercase hex. An empty secret is a valid key.
func Sign(secret, message string) (string, error) {
	return sign(sha1.New, sha1.Size, secret, message)
}

// VerifySignature reports whether signature is the HMAC-SHA1 of message
// keyed with secret. The comparison is constant time.
func VerifySignature(secret, message, signature string) bool {
	expected, err := Sign(secret, message)
	if err != nil {
		return false
	}

	return hmac.Equal([]byte(expected), []byte(signature))
}

func sign(newHash func() hash.Hash, size int, secret, message string) (string, error) {
	if !utf8.ValidString(secret) {
		return "", &SigningError{Field: "secret", Err: ErrInvalidEncoding}
	}

	if !utf8.ValidString(message) {
		return "", &SigningError{Field: "consumer_key", Err: ErrInvalidEncoding}
	}

	// A fresh MAC per call.
	mac := hmac.New(newHash, []byte(secret))
	if _, err := mac.Write([]byte(message)); err != nil {
		return "", &SigningError{Field: "consumer_key", Err: err}
	}

	digest := mac.Sum(nil)
	if len(digest) != size {
		return "", &SigningError{Field: "consumer_key", Err: ErrDigestSize}
	}

	return hex.EncodeToString(digest), nil
}

// The device decodes with a classic form decoder that leaves '*' alone and
// expects '~' escaped.
var formFixups = strings.NewReplacer("%2A", "*", "~", "%7E")

// formEncode percent-encodes s for an application/x-www-form-urlencoded
// value. Spaces become '+'.
func formEncode(s string) string {
	return formFixups.Replace(url.QueryEscape(s))
}
