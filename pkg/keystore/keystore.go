package keystore

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/jeremyschied/kalshi-proxi/pkg/requestSigner"
)

var (
	ErrKeyNotConfigured = errors.New("keystore: no private key source configured")
	ErrKeyParse         = errors.New("keystore: failed to parse private key")
	ErrKeyTypeMismatch  = errors.New("keystore: private key type does not match configured algorithm")
)

// Source identifies where the private key material comes from. Normally
// exactly one field is set; when several are, precedence is RawPEM,
// Base64PEM, FilePath.
type Source struct {
	RawPEM    string
	Base64PEM string
	FilePath  string
}

func (s Source) empty() bool {
	return s.RawPEM == "" && s.Base64PEM == "" && s.FilePath == ""
}

// Credential is the loaded signing identity. Immutable after Load and shared
// read-only across requests. Key material must never be logged or
// serialized.
type Credential struct {
	KeyID      string
	PrivateKey crypto.Signer
	Algorithm  requestSigner.Algorithm
}

// KeyStore loads, validates and caches the gateway's single signing
// credential. The parse happens at most once per process; concurrent first
// callers share one load.
type KeyStore struct {
	keyID     string
	source    Source
	algorithm requestSigner.Algorithm
	logger    *zap.Logger

	once sync.Once
	cred *Credential
	err  error
}

func NewKeyStore(keyID string, source Source, algorithm requestSigner.Algorithm, logger *zap.Logger) *KeyStore {
	return &KeyStore{
		keyID:     keyID,
		source:    source,
		algorithm: algorithm,
		logger:    logger,
	}
}

// Configured reports whether a key identifier and at least one key source
// are present. It never reads or parses key material.
func (ks *KeyStore) Configured() bool {
	return ks.keyID != "" && !ks.source.empty()
}

func (ks *KeyStore) KeyID() string {
	return ks.keyID
}

func (ks *KeyStore) Algorithm() requestSigner.Algorithm {
	return ks.algorithm
}

// Load resolves, parses and caches the credential. Every call after the
// first returns the cached result, success or failure; configuration does
// not change at runtime.
func (ks *KeyStore) Load() (*Credential, error) {
	ks.once.Do(func() {
		ks.cred, ks.err = ks.load()
		if ks.err != nil {
			ks.logger.Sugar().Errorw("Failed to load signing credential", "key_id", ks.keyID, "error", ks.err)
			return
		}
		ks.logger.Sugar().Infow("Loaded signing credential", "key_id", ks.keyID, "algorithm", ks.algorithm.String())
	})
	return ks.cred, ks.err
}

func (ks *KeyStore) load() (*Credential, error) {
	if ks.keyID == "" || ks.source.empty() {
		return nil, ErrKeyNotConfigured
	}

	pemBytes, err := ks.resolveSource()
	if err != nil {
		return nil, err
	}

	key, err := parsePrivateKey(pemBytes)
	if err != nil {
		return nil, err
	}

	if err := checkKeyType(key, ks.algorithm); err != nil {
		return nil, err
	}

	return &Credential{
		KeyID:      ks.keyID,
		PrivateKey: key,
		Algorithm:  ks.algorithm,
	}, nil
}

func (ks *KeyStore) resolveSource() ([]byte, error) {
	switch {
	case ks.source.RawPEM != "":
		return []byte(ks.source.RawPEM), nil
	case ks.source.Base64PEM != "":
		decoded, err := base64.StdEncoding.DecodeString(ks.source.Base64PEM)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid base64 key material: %v", ErrKeyParse, err)
		}
		return decoded, nil
	case ks.source.FilePath != "":
		data, err := os.ReadFile(ks.source.FilePath)
		if err != nil {
			return nil, fmt.Errorf("%w: reading key file: %v", ErrKeyParse, err)
		}
		return data, nil
	default:
		return nil, ErrKeyNotConfigured
	}
}

// parsePrivateKey decodes a PEM block and parses it as an unencrypted
// private key, trying PKCS#8 first and PKCS#1 as a fallback.
func parsePrivateKey(pemBytes []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrKeyParse)
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("%w: unsupported PKCS#8 key type %T", ErrKeyParse, key)
		}
		return signer, nil
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	return nil, fmt.Errorf("%w: not a PKCS#8 or PKCS#1 private key", ErrKeyParse)
}

func checkKeyType(key crypto.Signer, algorithm requestSigner.Algorithm) error {
	switch key.(type) {
	case *rsa.PrivateKey:
		if !algorithm.RequiresRSAKey() {
			return fmt.Errorf("%w: got an RSA key, algorithm %s needs an Ed25519 key", ErrKeyTypeMismatch, algorithm)
		}
	case ed25519.PrivateKey:
		if algorithm.RequiresRSAKey() {
			return fmt.Errorf("%w: got an Ed25519 key, algorithm %s needs an RSA key", ErrKeyTypeMismatch, algorithm)
		}
	default:
		return fmt.Errorf("%w: unsupported key type %T", ErrKeyTypeMismatch, key)
	}
	return nil
}
