package forwarder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jeremyschied/kalshi-proxi/pkg/requestAuthenticator"
)

var (
	ErrInvalidPath         = errors.New("forwarder: logical path escapes the upstream API namespace")
	ErrUpstreamTimeout     = errors.New("forwarder: upstream request timed out")
	ErrUpstreamUnreachable = errors.New("forwarder: upstream request failed")
)

// Result carries one upstream response back to the caller. Status, body and
// content type are always the upstream's own, including error statuses; the
// gateway never rewrites what the upstream said.
type Result struct {
	StatusCode  int
	Body        []byte
	ContentType string
}

// ForwarderConfig holds the upstream connection settings.
type ForwarderConfig struct {
	// BaseURL is the upstream origin plus the fixed API prefix, e.g.
	// https://api.elections.kalshi.com/trade-api/v2. The URL's path
	// component is the prefix used in request URLs and canonical messages.
	BaseURL string
	// Timeout bounds each upstream call. Defaults to 30s.
	Timeout time.Duration
	// RequestsPerSecond enables an upstream rate limiter when positive.
	RequestsPerSecond float64
	Burst             int
}

// Forwarder resolves logical paths against the upstream API, signs each
// request and relays the upstream response verbatim. Calls are single-shot:
// no retries, and no state shared between calls beyond the pooled HTTP
// client.
type Forwarder struct {
	authenticator *requestAuthenticator.RequestAuthenticator
	logger        *zap.Logger
	httpClient    *http.Client
	limiter       *rate.Limiter
	scheme        string
	host          string
	apiPrefix     string
	timeout       time.Duration
}

func NewForwarder(cfg *ForwarderConfig, authenticator *requestAuthenticator.RequestAuthenticator, logger *zap.Logger) (*Forwarder, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if authenticator == nil {
		return nil, fmt.Errorf("request authenticator is required")
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base URL %q must use http or https", cfg.BaseURL)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("base URL %q has no host", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Forwarder{
		authenticator: authenticator,
		logger:        logger,
		httpClient:    &http.Client{},
		limiter:       limiter,
		scheme:        base.Scheme,
		host:          base.Host,
		apiPrefix:     strings.TrimSuffix(base.Path, "/"),
		timeout:       timeout,
	}, nil
}

// Forward relays one logical request upstream. Any upstream response comes
// back as a Result whatever its status; only transport-level failures and
// path violations become errors. Cancelling ctx cancels the upstream call.
func (f *Forwarder) Forward(ctx context.Context, method, logicalPath string, query url.Values, body []byte) (*Result, error) {
	upstreamPath, err := f.resolveUpstreamPath(logicalPath)
	if err != nil {
		return nil, err
	}

	if f.limiter != nil {
		// Gate before signing so the timestamp reflects the send instant.
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUpstreamUnreachable, err)
		}
	}

	headers, err := f.authenticator.BuildHeaders(ctx, method, upstreamPath)
	if err != nil {
		return nil, err
	}

	u := url.URL{
		Scheme: f.scheme,
		Host:   f.host,
		Path:   upstreamPath,
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var requestBody io.Reader
	if len(body) > 0 {
		requestBody = bytes.NewReader(body)
	}

	callCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, strings.ToUpper(method), u.String(), requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}
	for name, value := range headers {
		req.Header.Set(name, value)
	}

	requestID := uuid.New().String()
	start := time.Now()

	resp, err := f.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			f.logger.Sugar().Warnw("Upstream request timed out",
				"request_id", requestID, "method", method, "path", upstreamPath, "timeout", f.timeout)
			return nil, fmt.Errorf("%w after %s: %s %s", ErrUpstreamTimeout, f.timeout, method, upstreamPath)
		}
		f.logger.Sugar().Warnw("Upstream request failed",
			"request_id", requestID, "method", method, "path", upstreamPath, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnreachable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading upstream response: %v", ErrUpstreamUnreachable, err)
	}

	f.logger.Sugar().Debugw("Forwarded request",
		"request_id", requestID,
		"method", method,
		"path", upstreamPath,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &Result{
		StatusCode:  resp.StatusCode,
		Body:        responseBody,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// resolveUpstreamPath joins the logical path onto the fixed API prefix.
// Paths carrying ".." segments are rejected outright, and the cleaned
// result must stay inside the prefix namespace.
func (f *Forwarder) resolveUpstreamPath(logicalPath string) (string, error) {
	for _, segment := range strings.Split(logicalPath, "/") {
		if segment == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidPath, logicalPath)
		}
	}

	cleaned := path.Clean("/" + strings.TrimPrefix(logicalPath, "/"))
	full := f.apiPrefix + cleaned
	if !strings.HasPrefix(full, f.apiPrefix+"/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidPath, logicalPath)
	}
	return full, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
