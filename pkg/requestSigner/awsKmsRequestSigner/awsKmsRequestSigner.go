package awsKmsRequestSigner

import (
	"context"
	"crypto"
	"crypto/sha256"
	"crypto/x509"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	internalaws "github.com/jeremyschied/kalshi-proxi/internal/aws"
	"github.com/jeremyschied/kalshi-proxi/pkg/requestSigner"
)

// AWSKMSRequestSigner signs canonical messages with an RSA key held in AWS
// KMS. The private key never enters process memory; only the SHA-256 digest
// of the canonical message is sent to KMS.
type AWSKMSRequestSigner struct {
	logger    *zap.Logger
	kmsClient *kms.Client
	keyID     string
	kmsKeyID  string
	algorithm requestSigner.Algorithm

	mu        sync.Mutex
	publicKey crypto.PublicKey
}

var _ requestSigner.IRequestSigner = (*AWSKMSRequestSigner)(nil)

// Config holds the configuration for the KMS-backed signer. KeyID is the
// credential identifier sent to the upstream API; KMSKeyID names the KMS key
// (ID, ARN or alias) that produces signatures.
type Config struct {
	KeyID     string
	KMSKeyID  string
	Algorithm requestSigner.Algorithm
	Region    string
}

func NewAWSKMSRequestSigner(ctx context.Context, cfg *Config, logger *zap.Logger) (*AWSKMSRequestSigner, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if cfg.KMSKeyID == "" {
		return nil, errors.New("KMS key id is required")
	}
	if !cfg.Algorithm.RequiresRSAKey() {
		return nil, errors.Errorf("algorithm %s is not supported by AWS KMS signing, use an RSA algorithm", cfg.Algorithm)
	}

	awsCfg, err := internalaws.LoadConfig(ctx, cfg.Region)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load AWS configuration")
	}

	if identity, idErr := internalaws.CallerIdentity(ctx, awsCfg); idErr == nil {
		logger.Sugar().Infow("Using AWS KMS signing key", "kms_key_id", cfg.KMSKeyID, "caller_identity", identity)
	} else {
		logger.Sugar().Warnw("Could not resolve AWS caller identity", "error", idErr)
	}

	return &AWSKMSRequestSigner{
		logger:    logger,
		kmsClient: kms.NewFromConfig(awsCfg),
		keyID:     cfg.KeyID,
		kmsKeyID:  cfg.KMSKeyID,
		algorithm: cfg.Algorithm,
	}, nil
}

func (s *AWSKMSRequestSigner) Sign(ctx context.Context, message []byte) ([]byte, error) {
	digest := sha256.Sum256(message)

	out, err := s.kmsClient.Sign(ctx, &kms.SignInput{
		KeyId:            aws.String(s.kmsKeyID),
		Message:          digest[:],
		SigningAlgorithm: s.signingAlgorithmSpec(),
		MessageType:      types.MessageTypeDigest,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "KMS sign failed for key %s", s.kmsKeyID)
	}

	return out.Signature, nil
}

func (s *AWSKMSRequestSigner) Algorithm() requestSigner.Algorithm {
	return s.algorithm
}

func (s *AWSKMSRequestSigner) KeyID() string {
	return s.keyID
}

// PublicKey fetches the public half from KMS once and serves it from cache
// afterwards. Fetch failures are not cached; the next call retries.
func (s *AWSKMSRequestSigner) PublicKey(ctx context.Context) (crypto.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.publicKey != nil {
		return s.publicKey, nil
	}

	out, err := s.kmsClient.GetPublicKey(ctx, &kms.GetPublicKeyInput{
		KeyId: aws.String(s.kmsKeyID),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get public key for KMS key %s", s.kmsKeyID)
	}

	pub, err := x509.ParsePKIXPublicKey(out.PublicKey)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse public key for KMS key %s", s.kmsKeyID)
	}

	s.publicKey = pub
	return pub, nil
}

// signingAlgorithmSpec maps the configured algorithm to the KMS signing
// algorithm. KMS applies RFC 8017 digest-length salt for PSS, which standard
// PSS verification accepts.
func (s *AWSKMSRequestSigner) signingAlgorithmSpec() types.SigningAlgorithmSpec {
	if s.algorithm == requestSigner.AlgorithmRSAPKCS1v15SHA256 {
		return types.SigningAlgorithmSpecRsassaPkcs1V15Sha256
	}
	return types.SigningAlgorithmSpecRsassaPssSha256
}
