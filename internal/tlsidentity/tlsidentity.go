// Package tlsidentity loads or creates the long-lived self-signed
// certificate MediaBus presents to browsers. The private key is wrapped
// at rest with internal/walletkey under a store-local password — the
// host filesystem is the real trust boundary, not this encryption.
package tlsidentity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"encoding/pem"

	"github.com/tc3107/mediabus/internal/walletkey"
)

const validity = 10 * 365 * 24 * time.Hour

// Identity manages a certificate/key pair persisted under dir.
type Identity struct {
	certPath string
	keyPath  string
	pwPath   string
}

// New returns an Identity rooted at dir, creating dir if needed.
func New(dir string) (*Identity, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &Identity{
		certPath: filepath.Join(dir, "tls.crt"),
		keyPath:  filepath.Join(dir, "tls.key.wrapped"),
		pwPath:   filepath.Join(dir, "tls.key.pw"),
	}, nil
}

// Acquire returns a usable tls.Certificate bound to hostname, generating
// and persisting a fresh self-signed one if none is stored, the stored
// cert can't be parsed, or it has already expired.
func (id *Identity) Acquire(hostname string) (tls.Certificate, error) {
	if cert, err := id.load(); err == nil {
		if leaf, parseErr := x509.ParseCertificate(cert.Certificate[0]); parseErr == nil {
			if time.Now().Before(leaf.NotAfter) {
				return cert, nil
			}
		}
	}
	return id.generate(hostname)
}

func (id *Identity) load() (tls.Certificate, error) {
	certPEM, err := os.ReadFile(id.certPath)
	if err != nil {
		return tls.Certificate{}, err
	}
	pw, err := os.ReadFile(id.pwPath)
	if err != nil {
		return tls.Certificate{}, err
	}
	wrapped, err := os.ReadFile(id.keyPath)
	if err != nil {
		return tls.Certificate{}, err
	}
	keyPEM, err := walletkey.Unwrap(string(pw), string(wrapped))
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.X509KeyPair(certPEM, keyPEM)
}

func (id *Identity) generate(hostname string) (tls.Certificate, error) {
	if hostname == "" {
		return tls.Certificate{}, errors.New("tlsidentity: hostname is required")
	}
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, err
	}

	tmpl := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName: hostname,
		},
		NotBefore:             time.Now().Add(-5 * time.Minute),
		NotAfter:              time.Now().Add(validity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{hostname},
	}

	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, pub, priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})

	keyBytes, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyBytes})

	pw, err := walletkey.NewPassword()
	if err != nil {
		return tls.Certificate{}, err
	}
	wrapped, err := walletkey.Wrap(pw, keyPEM)
	if err != nil {
		return tls.Certificate{}, err
	}

	if err := os.WriteFile(id.certPath, certPEM, 0o600); err != nil {
		return tls.Certificate{}, err
	}
	if err := os.WriteFile(id.keyPath, []byte(wrapped), 0o600); err != nil {
		return tls.Certificate{}, err
	}
	if err := os.WriteFile(id.pwPath, []byte(pw), 0o600); err != nil {
		return tls.Certificate{}, err
	}

	return tls.X509KeyPair(certPEM, keyPEM)
}
