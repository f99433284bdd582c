package config

import (
	"fmt"
	"net/url"
	"time"

	"k8s.io/apimachinery/pkg/util/validation/field"

	"github.com/jeremyschied/kalshi-proxi/pkg/keystore"
	"github.com/jeremyschied/kalshi-proxi/pkg/requestSigner"
)

// Environment variable names for gateway configuration
const (
	EnvKalshiAPIKeyID         = "KALSHI_API_KEY_ID"
	EnvKalshiPrivateKey       = "KALSHI_PRIVATE_KEY"
	EnvKalshiPrivateKeyB64    = "KALSHI_PRIVATE_KEY_B64"
	EnvKalshiPrivateKeyFile   = "KALSHI_PRIVATE_KEY_FILE"
	EnvKalshiSigningAlgorithm = "KALSHI_SIGNING_ALGORITHM"
	EnvKalshiAPIBaseURL       = "KALSHI_API_BASE_URL"
	EnvKalshiGatewayPort      = "KALSHI_GATEWAY_PORT"
	EnvKalshiRequestTimeout   = "KALSHI_REQUEST_TIMEOUT"
	EnvKalshiSignerBackend    = "KALSHI_SIGNER_BACKEND"
	EnvKalshiKMSKeyID         = "KALSHI_KMS_KEY_ID"
	EnvKalshiAWSRegion        = "KALSHI_AWS_REGION"
	EnvKalshiRateLimit        = "KALSHI_RATE_LIMIT"
	EnvKalshiRateBurst        = "KALSHI_RATE_BURST"
	EnvKalshiVerbose          = "KALSHI_VERBOSE"
)

const (
	// DefaultBaseURL is the production trading API origin plus prefix.
	DefaultBaseURL = "https://api.elections.kalshi.com/trade-api/v2"
	DefaultPort    = 8000
	DefaultTimeout = 30 * time.Second
)

type SignerBackend string

func (b SignerBackend) String() string {
	return string(b)
}

const (
	SignerBackendLocal  SignerBackend = "local"
	SignerBackendAWSKMS SignerBackend = "aws-kms"
)

func SupportedSignerBackends() []SignerBackend {
	return []SignerBackend{SignerBackendLocal, SignerBackendAWSKMS}
}

func ParseSignerBackend(s string) (SignerBackend, error) {
	switch SignerBackend(s) {
	case SignerBackendLocal:
		return SignerBackendLocal, nil
	case SignerBackendAWSKMS:
		return SignerBackendAWSKMS, nil
	default:
		return "", fmt.Errorf("unsupported signer backend: %s", s)
	}
}

// GatewayConfig represents the complete configuration for a gateway instance
type GatewayConfig struct {
	// Credentials. Key material never serializes.
	KeyID          string `json:"key_id"`
	PrivateKeyPEM  string `json:"-"`
	PrivateKeyB64  string `json:"-"`
	PrivateKeyFile string `json:"private_key_file,omitempty"`

	// Signing
	Algorithm requestSigner.Algorithm `json:"signing_algorithm"`
	Backend   SignerBackend           `json:"signer_backend"`
	KMSKeyID  string                  `json:"kms_key_id,omitempty"`
	AWSRegion string                  `json:"aws_region,omitempty"`

	// Upstream
	BaseURL           string        `json:"base_url"`
	Timeout           time.Duration `json:"timeout"`
	RequestsPerSecond float64       `json:"rate_limit,omitempty"`
	Burst             int           `json:"rate_burst,omitempty"`

	// Serving
	Port int `json:"port"`

	// Operational settings
	Debug   bool `json:"debug"`
	Verbose bool `json:"verbose"`
}

// KeySource maps the configured key material onto a keystore source.
// Precedence when several are set: raw PEM, then base64, then file.
func (c *GatewayConfig) KeySource() keystore.Source {
	return keystore.Source{
		RawPEM:    c.PrivateKeyPEM,
		Base64PEM: c.PrivateKeyB64,
		FilePath:  c.PrivateKeyFile,
	}
}

// CredentialsConfigured reports whether a credential pair is present.
// It checks presence only; parse failures surface when the key loads.
func (c *GatewayConfig) CredentialsConfigured() bool {
	if c.KeyID == "" {
		return false
	}
	if c.Backend == SignerBackendAWSKMS {
		return c.KMSKeyID != ""
	}
	return c.PrivateKeyPEM != "" || c.PrivateKeyB64 != "" || c.PrivateKeyFile != ""
}

// Validate validates the gateway configuration
func (c *GatewayConfig) Validate() error {
	var allErrors field.ErrorList

	if c.Port < 1 || c.Port > 65535 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("port"), c.Port, "must be between 1 and 65535"))
	}

	if _, err := requestSigner.ParseAlgorithm(c.Algorithm.String()); err != nil {
		allErrors = append(allErrors, field.NotSupported(field.NewPath("signingAlgorithm"), c.Algorithm.String(), supportedAlgorithmStrings()))
	}

	if _, err := ParseSignerBackend(c.Backend.String()); err != nil {
		allErrors = append(allErrors, field.NotSupported(field.NewPath("signerBackend"), c.Backend.String(), supportedBackendStrings()))
	}

	if c.BaseURL == "" {
		allErrors = append(allErrors, field.Required(field.NewPath("baseUrl"), "base URL is required"))
	} else if u, err := url.Parse(c.BaseURL); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		allErrors = append(allErrors, field.Invalid(field.NewPath("baseUrl"), c.BaseURL, "must be an absolute http or https URL"))
	}

	if c.Timeout <= 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("timeout"), c.Timeout.String(), "must be positive"))
	}

	if c.RequestsPerSecond < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("rateLimit"), c.RequestsPerSecond, "must not be negative"))
	}
	if c.Burst < 0 {
		allErrors = append(allErrors, field.Invalid(field.NewPath("rateBurst"), c.Burst, "must not be negative"))
	}

	if c.Backend == SignerBackendAWSKMS {
		if c.KMSKeyID == "" {
			allErrors = append(allErrors, field.Required(field.NewPath("kmsKeyId"), "KMS key ID is required for the aws-kms backend"))
		}
		if !c.Algorithm.RequiresRSAKey() {
			allErrors = append(allErrors, field.Invalid(field.NewPath("signingAlgorithm"), c.Algorithm.String(), "the aws-kms backend supports RSA algorithms only"))
		}
	}

	if len(allErrors) > 0 {
		return allErrors.ToAggregate()
	}
	return nil
}

func supportedAlgorithmStrings() []string {
	algorithms := requestSigner.SupportedAlgorithms()
	out := make([]string, 0, len(algorithms))
	for _, a := range algorithms {
		out = append(out, a.String())
	}
	return out
}

func supportedBackendStrings() []string {
	backends := SupportedSignerBackends()
	out := make([]string, 0, len(backends))
	for _, b := range backends {
		out = append(out, b.String())
	}
	return out
}
