package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/jeremyschied/kalshi-proxi/pkg/config"
	"github.com/jeremyschied/kalshi-proxi/pkg/forwarder"
	"github.com/jeremyschied/kalshi-proxi/pkg/gateway"
	"github.com/jeremyschied/kalshi-proxi/pkg/keystore"
	"github.com/jeremyschied/kalshi-proxi/pkg/logger"
	"github.com/jeremyschied/kalshi-proxi/pkg/requestAuthenticator"
	"github.com/jeremyschied/kalshi-proxi/pkg/requestSigner"
	"github.com/jeremyschied/kalshi-proxi/pkg/requestSigner/awsKmsRequestSigner"
	"github.com/jeremyschied/kalshi-proxi/pkg/requestSigner/inMemoryRequestSigner"
)

func main() {
	// Optional .env for local development; absence is fine.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: failed to load .env file: %v", err)
	}

	app := &cli.App{
		Name:  "kalshi-gateway",
		Usage: "Request-signing gateway for the Kalshi trading API",
		Description: `A local HTTP gateway that signs and forwards requests to the Kalshi trading API.

The gateway holds the API credential, builds the per-request authentication
headers (timestamp, key ID, signature over timestamp+METHOD+path) and relays
upstream responses verbatim. Clients talk plain unauthenticated HTTP to the
gateway and never touch key material.`,
		Version: "1.0.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "key-id",
				Aliases: []string{"k"},
				Usage:   "API key ID sent in the access key header",
				EnvVars: []string{config.EnvKalshiAPIKeyID},
			},
			&cli.StringFlag{
				Name:    "private-key",
				Usage:   "Signing private key as literal PEM text",
				EnvVars: []string{config.EnvKalshiPrivateKey},
			},
			&cli.StringFlag{
				Name:    "private-key-b64",
				Usage:   "Signing private key as base64-encoded PEM",
				EnvVars: []string{config.EnvKalshiPrivateKeyB64},
			},
			&cli.StringFlag{
				Name:    "private-key-file",
				Usage:   "Path to a PEM file holding the signing private key",
				EnvVars: []string{config.EnvKalshiPrivateKeyFile},
			},
			&cli.StringFlag{
				Name:    "signing-algorithm",
				Aliases: []string{"alg"},
				Usage:   "Signature algorithm: rsa-pss-sha256, rsa-pkcs1v15-sha256 or ed25519",
				Value:   requestSigner.AlgorithmRSAPSSSHA256.String(),
				EnvVars: []string{config.EnvKalshiSigningAlgorithm},
			},
			&cli.StringFlag{
				Name:    "base-url",
				Usage:   "Upstream API origin plus prefix",
				Value:   config.DefaultBaseURL,
				EnvVars: []string{config.EnvKalshiAPIBaseURL},
			},
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   config.DefaultPort,
				Usage:   "HTTP server port",
				EnvVars: []string{config.EnvKalshiGatewayPort},
			},
			&cli.DurationFlag{
				Name:    "request-timeout",
				Usage:   "Per-request upstream timeout",
				Value:   config.DefaultTimeout,
				EnvVars: []string{config.EnvKalshiRequestTimeout},
			},
			&cli.StringFlag{
				Name:    "signer-backend",
				Usage:   "Signing backend: local or aws-kms",
				Value:   config.SignerBackendLocal.String(),
				EnvVars: []string{config.EnvKalshiSignerBackend},
			},
			&cli.StringFlag{
				Name:    "kms-key-id",
				Usage:   "AWS KMS key ID, ARN or alias (aws-kms backend only)",
				EnvVars: []string{config.EnvKalshiKMSKeyID},
			},
			&cli.StringFlag{
				Name:    "aws-region",
				Usage:   "AWS region for the KMS client",
				EnvVars: []string{config.EnvKalshiAWSRegion},
			},
			&cli.Float64Flag{
				Name:    "rate-limit",
				Usage:   "Upstream requests per second, 0 disables the limiter",
				EnvVars: []string{config.EnvKalshiRateLimit},
			},
			&cli.IntFlag{
				Name:    "rate-burst",
				Usage:   "Upstream rate limiter burst size",
				Value:   1,
				EnvVars: []string{config.EnvKalshiRateBurst},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "Enable verbose logging",
				EnvVars: []string{config.EnvKalshiVerbose},
			},
		},
		Action: runGateway,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func runGateway(c *cli.Context) error {
	// Create logger
	loggerConfig := &logger.LoggerConfig{
		Debug: c.Bool("verbose"),
	}
	l, err := logger.NewLogger(loggerConfig)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	// Parse configuration from flags/environment
	gatewayConfig, err := parseGatewayConfig(c)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	// Validate configuration
	if err := gatewayConfig.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	signer, err := buildSigner(c.Context, gatewayConfig, l)
	if err != nil {
		return err
	}

	authenticator := requestAuthenticator.NewRequestAuthenticator(signer, l)

	fwd, err := forwarder.NewForwarder(&forwarder.ForwarderConfig{
		BaseURL:           gatewayConfig.BaseURL,
		Timeout:           gatewayConfig.Timeout,
		RequestsPerSecond: gatewayConfig.RequestsPerSecond,
		Burst:             gatewayConfig.Burst,
	}, authenticator, l)
	if err != nil {
		return fmt.Errorf("failed to create forwarder: %w", err)
	}

	server := gateway.NewServer(gatewayConfig, fwd, signer, l)

	if c.Bool("verbose") {
		l.Sugar().Infow("Gateway configuration",
			"key_id", gatewayConfig.KeyID,
			"algorithm", gatewayConfig.Algorithm.String(),
			"backend", gatewayConfig.Backend.String(),
			"base_url", gatewayConfig.BaseURL,
			"port", gatewayConfig.Port,
			"timeout", gatewayConfig.Timeout)
	}

	if err := server.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	l.Sugar().Infow("Gateway running", "port", gatewayConfig.Port, "upstream", gatewayConfig.BaseURL)
	l.Sugar().Infow("Available endpoints",
		"health", "GET /health",
		"key", "GET /key",
		"balance", "GET /balance",
		"markets", "GET /markets",
		"market", "GET /market/{ticker}",
		"orders", "POST /orders",
		"positions", "GET /positions",
		"proxy", "ANY /api/<path>")
	l.Sugar().Info("Press Ctrl+C to stop")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	l.Sugar().Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Stop(shutdownCtx)
}

// buildSigner wires the configured backend. The local backend starts even
// without credentials so /health and /key stay reachable; the KMS backend
// fails fast because a missing KMS key cannot recover without a restart.
func buildSigner(ctx context.Context, cfg *config.GatewayConfig, l *zap.Logger) (requestSigner.IRequestSigner, error) {
	switch cfg.Backend {
	case config.SignerBackendAWSKMS:
		signer, err := awsKmsRequestSigner.NewAWSKMSRequestSigner(ctx, &awsKmsRequestSigner.Config{
			KeyID:     cfg.KeyID,
			KMSKeyID:  cfg.KMSKeyID,
			Algorithm: cfg.Algorithm,
			Region:    cfg.AWSRegion,
		}, l)
		if err != nil {
			return nil, fmt.Errorf("failed to create KMS signer: %w", err)
		}
		return signer, nil
	default:
		store := keystore.NewKeyStore(cfg.KeyID, cfg.KeySource(), cfg.Algorithm, l)
		if store.Configured() {
			// Fail fast on unparseable key material.
			if _, err := store.Load(); err != nil {
				return nil, fmt.Errorf("failed to load signing key: %w", err)
			}
		} else {
			l.Sugar().Warnw("Signing credentials not configured, signed routes will fail until they are set",
				"key_id_env", config.EnvKalshiAPIKeyID,
				"private_key_env", config.EnvKalshiPrivateKey)
		}
		return inMemoryRequestSigner.NewInMemoryRequestSigner(store, l), nil
	}
}

func parseGatewayConfig(c *cli.Context) (*config.GatewayConfig, error) {
	return &config.GatewayConfig{
		KeyID:             c.String("key-id"),
		PrivateKeyPEM:     c.String("private-key"),
		PrivateKeyB64:     c.String("private-key-b64"),
		PrivateKeyFile:    c.String("private-key-file"),
		Algorithm:         requestSigner.Algorithm(c.String("signing-algorithm")),
		Backend:           config.SignerBackend(c.String("signer-backend")),
		KMSKeyID:          c.String("kms-key-id"),
		AWSRegion:         c.String("aws-region"),
		BaseURL:           c.String("base-url"),
		Timeout:           c.Duration("request-timeout"),
		RequestsPerSecond: c.Float64("rate-limit"),
		Burst:             c.Int("rate-burst"),
		Port:              c.Int("port"),
		Debug:             c.Bool("verbose"),
		Verbose:           c.Bool("verbose"),
	}, nil
}
