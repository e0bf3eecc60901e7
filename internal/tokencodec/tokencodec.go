// Package tokencodec signs and verifies opaque bearer tokens: a base64url
// JSON payload and an HMAC-SHA256 signature over that base64url payload
// segment exactly as it appears on the wire, joined by a dot.
// Verification never re-marshals the payload before checking the signature — it signs the bytes as received, so a signature
// computed over one JSON encoding can never be accepted against a
// semantically-equal but differently-encoded payload.
package tokencodec

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
)

// ErrInvalid is returned for any malformed token, signature mismatch, or
// unparseable payload. Callers must not distinguish further — spec
// collapses all of these to a single "invalid" outcome.
var ErrInvalid = errors.New("tokencodec: invalid token")

// Codec signs and verifies tokens carrying a payload of type T.
type Codec[T any] struct {
	secret []byte
}

// New builds a Codec keyed by secret. secret should be at least 32 random
// bytes (internal/store's LoadOrCreateSecret produces exactly that).
func New[T any](secret []byte) Codec[T] {
	return Codec[T]{secret: secret}
}

// Sign marshals payload deterministically (Go's json.Marshal emits object
// keys in struct field order, never re-sorted) and returns
// base64url(payload) + "." + base64url(hmac).
func (c Codec[T]) Sign(payload T) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return c.signBytes(b), nil
}

// signBytes signs base64url(payload) itself, not the raw payload bytes —
// the HMAC input is the encoded string that ends up on the wire, so
// verification never has to re-derive an encoding to check the
// signature against.
func (c Codec[T]) signBytes(payload []byte) string {
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(encoded))
	sig := mac.Sum(nil)
	return encoded + "." + base64.RawURLEncoding.EncodeToString(sig)
}

// Verify splits the token, recomputes the HMAC over the exact encoded
// payload segment found before the dot, and only then decodes and
// unmarshals into T. A malformed token, a non-base64 segment, a
// signature mismatch, or a payload that doesn't parse as the expected
// shape all return ErrInvalid.
func (c Codec[T]) Verify(token string) (T, error) {
	var zero T
	dot := strings.LastIndexByte(token, '.')
	if dot <= 0 || dot == len(token)-1 {
		return zero, ErrInvalid
	}
	encoded, sigPart := token[:dot], token[dot+1:]

	sig, err := base64.RawURLEncoding.DecodeString(sigPart)
	if err != nil {
		return zero, ErrInvalid
	}

	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(encoded))
	want := mac.Sum(nil)
	if subtle.ConstantTimeCompare(want, sig) != 1 {
		return zero, ErrInvalid
	}

	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return zero, ErrInvalid
	}
	var out T
	if err := json.Unmarshal(payload, &out); err != nil {
		return zero, ErrInvalid
	}
	return out, nil
}
