package requestSigner

import (
	"context"
	"crypto"
	"errors"
	"fmt"
)

// Algorithm selects the signature scheme used to authenticate upstream
// requests. It is fixed per deployment by configuration and never negotiated
// at runtime.
type Algorithm string

const (
	AlgorithmRSAPKCS1v15SHA256 Algorithm = "rsa-pkcs1v15-sha256"
	AlgorithmRSAPSSSHA256      Algorithm = "rsa-pss-sha256"
	AlgorithmEd25519           Algorithm = "ed25519"
)

// ErrSigningFailed wraps failures from the underlying crypto operation.
// Signing is never retried: a retry would need a fresh timestamp and
// therefore a fresh message anyway.
var ErrSigningFailed = errors.New("requestSigner: signing failed")

func (a Algorithm) String() string {
	return string(a)
}

// RequiresRSAKey reports whether the algorithm signs with an RSA private key.
func (a Algorithm) RequiresRSAKey() bool {
	return a == AlgorithmRSAPKCS1v15SHA256 || a == AlgorithmRSAPSSSHA256
}

// SupportedAlgorithms returns the accepted configuration values.
func SupportedAlgorithms() []Algorithm {
	return []Algorithm{
		AlgorithmRSAPKCS1v15SHA256,
		AlgorithmRSAPSSSHA256,
		AlgorithmEd25519,
	}
}

func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case AlgorithmRSAPKCS1v15SHA256, AlgorithmRSAPSSSHA256, AlgorithmEd25519:
		return Algorithm(s), nil
	default:
		return "", fmt.Errorf("unsupported signing algorithm: %q", s)
	}
}

// IRequestSigner produces raw signature bytes over a canonical message.
// Implementations must be safe for concurrent use; encoding of the signature
// for transport is the caller's concern.
type IRequestSigner interface {
	Sign(ctx context.Context, message []byte) ([]byte, error)
	Algorithm() Algorithm
	KeyID() string
	PublicKey(ctx context.Context) (crypto.PublicKey, error)
}
