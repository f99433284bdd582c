package requestAuthenticator

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jeremyschied/kalshi-proxi/pkg/requestSigner"
)

// Header names are a wire contract with the upstream API. HTTP treats them
// case-insensitively but the canonical case is preserved as written here.
const (
	HeaderAccessKey       = "KALSHI-ACCESS-KEY"
	HeaderAccessSignature = "KALSHI-ACCESS-SIGNATURE"
	HeaderAccessTimestamp = "KALSHI-ACCESS-TIMESTAMP"
	HeaderContentType     = "Content-Type"

	contentTypeJSON = "application/json"
)

// CanonicalMessage builds the exact byte sequence signed for one request:
// millisecond timestamp, uppercased HTTP method and full upstream path,
// concatenated with no separators. The upstream verifier rebuilds the same
// bytes, so any deviation fails authentication.
func CanonicalMessage(timestampMillis, method, upstreamPath string) []byte {
	return []byte(timestampMillis + strings.ToUpper(method) + upstreamPath)
}

// RequestAuthenticator assembles the authentication header set for upstream
// requests. Every call signs a fresh timestamp; header sets are never cached
// or reused, even for identical requests in the same millisecond.
type RequestAuthenticator struct {
	signer requestSigner.IRequestSigner
	logger *zap.Logger
	now    func() time.Time
}

func NewRequestAuthenticator(signer requestSigner.IRequestSigner, logger *zap.Logger) *RequestAuthenticator {
	return &RequestAuthenticator{
		signer: signer,
		logger: logger,
		now:    time.Now,
	}
}

// BuildHeaders signs (timestamp, method, upstreamPath) and returns the
// header set for one upstream call. upstreamPath must be the full request
// path including the API version prefix.
func (ra *RequestAuthenticator) BuildHeaders(ctx context.Context, method, upstreamPath string) (map[string]string, error) {
	timestamp := strconv.FormatInt(ra.now().UnixMilli(), 10)

	signature, err := ra.signer.Sign(ctx, CanonicalMessage(timestamp, method, upstreamPath))
	if err != nil {
		return nil, fmt.Errorf("failed to sign request: %w", err)
	}

	return map[string]string{
		HeaderAccessKey:       ra.signer.KeyID(),
		HeaderAccessSignature: base64.StdEncoding.EncodeToString(signature),
		HeaderAccessTimestamp: timestamp,
		HeaderContentType:     contentTypeJSON,
	}, nil
}
