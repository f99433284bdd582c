package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/jeremyschied/kalshi-proxi/pkg/config"
	"github.com/jeremyschied/kalshi-proxi/pkg/keystore"
	"github.com/jeremyschied/kalshi-proxi/pkg/logger"
	"github.com/jeremyschied/kalshi-proxi/pkg/requestAuthenticator"
	"github.com/jeremyschied/kalshi-proxi/pkg/requestSigner"
	"github.com/jeremyschied/kalshi-proxi/pkg/requestSigner/inMemoryRequestSigner"
)

// signHeaders prints the authentication headers for one request so they can
// be pasted into curl or compared against another client. Key material is
// read the same way the gateway reads it and never printed.
func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: failed to load .env file: %v", err)
	}

	app := &cli.App{
		Name:  "sign-headers",
		Usage: "Print signed request headers for one upstream call",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "key-id",
				Aliases:  []string{"k"},
				Usage:    "API key ID sent in the access key header",
				EnvVars:  []string{config.EnvKalshiAPIKeyID},
				Required: true,
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
				Name:    "method",
				Aliases: []string{"X"},
				Usage:   "HTTP method for the canonical message",
				Value:   "GET",
			},
			&cli.StringFlag{
				Name:     "path",
				Usage:    "Full upstream path, e.g. /trade-api/v2/portfolio/balance",
				Required: true,
			},
		},
		Action: runSignHeaders,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func runSignHeaders(c *cli.Context) error {
	l, err := logger.NewLogger(&logger.LoggerConfig{Debug: false})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = l.Sync() }()

	algorithm, err := requestSigner.ParseAlgorithm(c.String("signing-algorithm"))
	if err != nil {
		return err
	}

	source := keystore.Source{
		RawPEM:    c.String("private-key"),
		Base64PEM: c.String("private-key-b64"),
		FilePath:  c.String("private-key-file"),
	}

	store := keystore.NewKeyStore(c.String("key-id"), source, algorithm, l)
	if _, err := store.Load(); err != nil {
		return fmt.Errorf("failed to load signing key: %w", err)
	}

	signer := inMemoryRequestSigner.NewInMemoryRequestSigner(store, l)
	authenticator := requestAuthenticator.NewRequestAuthenticator(signer, l)

	headers, err := authenticator.BuildHeaders(c.Context, c.String("method"), c.String("path"))
	if err != nil {
		return fmt.Errorf("failed to sign request: %w", err)
	}

	for _, name := range []string{
		requestAuthenticator.HeaderAccessKey,
		requestAuthenticator.HeaderAccessSignature,
		requestAuthenticator.HeaderAccessTimestamp,
		requestAuthenticator.HeaderContentType,
	} {
		fmt.Printf("%s: %s\n", name, headers[name])
	}

	return nil
}
