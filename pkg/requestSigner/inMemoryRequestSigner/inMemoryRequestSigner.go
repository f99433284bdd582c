package inMemoryRequestSigner

import (
	"context"
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"

	"go.uber.org/zap"

	"github.com/jeremyschied/kalshi-proxi/pkg/keystore"
	"github.com/jeremyschied/kalshi-proxi/pkg/requestSigner"
)

// InMemoryRequestSigner signs canonical messages with a private key held in
// process memory, resolved through the KeyStore on first use. Key/algorithm
// compatibility is enforced by the KeyStore, not re-checked here.
type InMemoryRequestSigner struct {
	keyStore *keystore.KeyStore
	logger   *zap.Logger
}

var _ requestSigner.IRequestSigner = (*InMemoryRequestSigner)(nil)

func NewInMemoryRequestSigner(ks *keystore.KeyStore, logger *zap.Logger) *InMemoryRequestSigner {
	return &InMemoryRequestSigner{
		keyStore: ks,
		logger:   logger,
	}
}

func (s *InMemoryRequestSigner) Sign(_ context.Context, message []byte) ([]byte, error) {
	cred, err := s.keyStore.Load()
	if err != nil {
		return nil, err
	}

	switch cred.Algorithm {
	case requestSigner.AlgorithmRSAPKCS1v15SHA256:
		digest := sha256.Sum256(message)
		signature, err := rsa.SignPKCS1v15(nil, cred.PrivateKey.(*rsa.PrivateKey), crypto.SHA256, digest[:])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", requestSigner.ErrSigningFailed, err)
		}
		return signature, nil

	case requestSigner.AlgorithmRSAPSSSHA256:
		digest := sha256.Sum256(message)
		// PSSSaltLengthAuto uses the largest salt the key permits when
		// signing, which is what the upstream verifier expects.
		opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto, Hash: crypto.SHA256}
		signature, err := rsa.SignPSS(rand.Reader, cred.PrivateKey.(*rsa.PrivateKey), crypto.SHA256, digest[:], opts)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", requestSigner.ErrSigningFailed, err)
		}
		return signature, nil

	case requestSigner.AlgorithmEd25519:
		// Ed25519 signs the raw message, no pre-hash.
		return ed25519.Sign(cred.PrivateKey.(ed25519.PrivateKey), message), nil

	default:
		return nil, fmt.Errorf("%w: unsupported algorithm %s", requestSigner.ErrSigningFailed, cred.Algorithm)
	}
}

func (s *InMemoryRequestSigner) Algorithm() requestSigner.Algorithm {
	return s.keyStore.Algorithm()
}

func (s *InMemoryRequestSigner) KeyID() string {
	return s.keyStore.KeyID()
}

func (s *InMemoryRequestSigner) PublicKey(_ context.Context) (crypto.PublicKey, error) {
	cred, err := s.keyStore.Load()
	if err != nil {
		return nil, err
	}
	return cred.PrivateKey.Public(), nil
}
