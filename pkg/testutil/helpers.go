package testutil

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/jeremyschied/kalshi-proxi/pkg/keystore"
	"github.com/jeremyschied/kalshi-proxi/pkg/requestSigner"
)

// TestKeyID is the credential identifier used by test fixtures.
const TestKeyID = "test-access-key-id"

// GenerateRSAKeyPEM returns a fresh 2048-bit RSA private key and its PKCS#1
// PEM encoding.
func GenerateRSAKeyPEM(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate RSA key: %v", err)
	}

	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	return key, string(pemBytes)
}

// GenerateEd25519KeyPEM returns a fresh Ed25519 private key and its PKCS#8
// PEM encoding, the only standard PEM form for Ed25519 keys.
func GenerateEd25519KeyPEM(t *testing.T) (ed25519.PrivateKey, string) {
	t.Helper()

	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate Ed25519 key: %v", err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("Failed to marshal Ed25519 key to PKCS#8: %v", err)
	}

	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: der,
	})
	return key, string(pemBytes)
}

// Base64PEM encodes PEM text the way base64-sourced key configuration
// expects it.
func Base64PEM(pemText string) string {
	return base64.StdEncoding.EncodeToString([]byte(pemText))
}

// WriteKeyFile writes PEM text to a file under the test's temp directory and
// returns its path.
func WriteKeyFile(t *testing.T, pemText string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "private_key.pem")
	if err := os.WriteFile(path, []byte(pemText), 0o600); err != nil {
		t.Fatalf("Failed to write key file: %v", err)
	}
	return path
}

// NewRSAKeyStore builds a KeyStore over a fresh raw-PEM RSA key for the
// given algorithm, returning the private key for verification.
func NewRSAKeyStore(t *testing.T, algorithm requestSigner.Algorithm) (*keystore.KeyStore, *rsa.PrivateKey) {
	t.Helper()

	key, pemText := GenerateRSAKeyPEM(t)
	ks := keystore.NewKeyStore(TestKeyID, keystore.Source{RawPEM: pemText}, algorithm, zap.NewNop())
	return ks, key
}

// NewEd25519KeyStore builds a KeyStore over a fresh raw-PEM Ed25519 key,
// returning the private key for verification.
func NewEd25519KeyStore(t *testing.T) (*keystore.KeyStore, ed25519.PrivateKey) {
	t.Helper()

	key, pemText := GenerateEd25519KeyPEM(t)
	ks := keystore.NewKeyStore(TestKeyID, keystore.Source{RawPEM: pemText}, requestSigner.AlgorithmEd25519, zap.NewNop())
	return ks, key
}

// NewUnconfiguredKeyStore builds a KeyStore with no key source, for
// exercising the not-configured failure path.
func NewUnconfiguredKeyStore(t *testing.T, algorithm requestSigner.Algorithm) *keystore.KeyStore {
	t.Helper()

	return keystore.NewKeyStore("", keystore.Source{}, algorithm, zap.NewNop())
}
