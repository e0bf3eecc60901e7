// Package walletkey wraps key material at rest with a password-derived
// key. It exists because spec.md describes the TLS private key's
// on-disk protection as "obfuscation, not security" — the host
// filesystem itself is the trust boundary, not this encryption. The KDF
// (Argon2id) is the teacher's password-hashing primitive repurposed to
// derive a symmetric key instead of a comparable hash.
package walletkey

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Params controls Argon2id cost. Defaults are tuned for a one-shot
// daemon-startup unwrap, not for interactive login throughput.
type Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLen     uint32
}

// DefaultParams mirrors the teacher's password-hash cost, since both
// uses run once per process lifetime rather than per request.
func DefaultParams() Params {
	return Params{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 4,
		SaltLen:     16,
	}
}

const keyLen = 32 // AES-256

// Wrap encrypts plaintext under a key derived from password, returning a
// self-describing string: wk1$v=<argon2ver>$m=..,t=..,p=..$<salt>$<nonce>$<ciphertext>.
func Wrap(password string, plaintext []byte) (string, error) {
	return wrapWithParams(password, plaintext, DefaultParams())
}

func wrapWithParams(password string, plaintext []byte, p Params) (string, error) {
	if password == "" {
		return "", errors.New("walletkey: password is required")
	}
	salt := make([]byte, p.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(password), salt, p.Iterations, p.Memory, p.Parallelism, keyLen)

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	ct := gcm.Seal(nil, nonce, plaintext, nil)

	enc := base64.RawStdEncoding
	return fmt.Sprintf(
		"wk1$v=%d$m=%d,t=%d,p=%d$%s$%s$%s",
		argon2.Version, p.Memory, p.Iterations, p.Parallelism,
		enc.EncodeToString(salt), enc.EncodeToString(nonce), enc.EncodeToString(ct),
	), nil
}

// Unwrap decrypts a string produced by Wrap. A wrong password or a
// corrupted blob both return an error; there is no partial-success case.
func Unwrap(password, wrapped string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("walletkey: password is required")
	}
	parts := strings.Split(wrapped, "$")
	if len(parts) != 6 || parts[0] != "wk1" {
		return nil, errors.New("walletkey: invalid format")
	}
	if !strings.HasPrefix(parts[1], "v=") {
		return nil, errors.New("walletkey: invalid version field")
	}
	ver, err := strconv.Atoi(strings.TrimPrefix(parts[1], "v="))
	if err != nil || ver != argon2.Version {
		return nil, errors.New("walletkey: unsupported argon2 version")
	}

	var p Params
	for _, kv := range strings.Split(parts[2], ",") {
		pair := strings.SplitN(kv, "=", 2)
		if len(pair) != 2 {
			return nil, errors.New("walletkey: invalid parameters")
		}
		v, err := strconv.ParseUint(pair[1], 10, 32)
		if err != nil {
			return nil, errors.New("walletkey: invalid parameter value")
		}
		switch pair[0] {
		case "m":
			p.Memory = uint32(v)
		case "t":
			p.Iterations = uint32(v)
		case "p":
			p.Parallelism = uint8(v)
		default:
			return nil, errors.New("walletkey: unknown parameter")
		}
	}

	enc := base64.RawStdEncoding
	salt, err := enc.DecodeString(parts[3])
	if err != nil {
		return nil, errors.New("walletkey: invalid salt")
	}
	nonce, err := enc.DecodeString(parts[4])
	if err != nil {
		return nil, errors.New("walletkey: invalid nonce")
	}
	ct, err := enc.DecodeString(parts[5])
	if err != nil {
		return nil, errors.New("walletkey: invalid ciphertext")
	}

	key := argon2.IDKey([]byte(password), salt, p.Iterations, p.Memory, p.Parallelism, keyLen)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	pt, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, errors.New("walletkey: decryption failed")
	}
	return pt, nil
}

// NewPassword generates a random store-local password, persisted
// alongside the wrapped key so the daemon can unwrap it unattended.
func NewPassword() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
