package gateway

import (
	"crypto"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwk"

	"github.com/jeremyschied/kalshi-proxi/pkg/forwarder"
	"github.com/jeremyschied/kalshi-proxi/pkg/keystore"
	"github.com/jeremyschied/kalshi-proxi/pkg/requestSigner"
)

type healthResponse struct {
	Status                string `json:"status"`
	Timestamp             string `json:"timestamp"`
	CredentialsConfigured bool   `json:"credentials_configured"`
}

type keyInfoResponse struct {
	KeyID      string          `json:"key_id"`
	Algorithm  string          `json:"algorithm"`
	Thumbprint string          `json:"thumbprint"`
	PublicJWK  json.RawMessage `json:"public_jwk"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleHealth reports gateway liveness. It answers whether credentials are
// present, not whether they parse; a bad key surfaces on first signed call.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:                "ok",
		Timestamp:             time.Now().UTC().Format(time.RFC3339),
		CredentialsConfigured: s.cfg.CredentialsConfigured(),
	})
}

// handleKeyInfo serves the public half of the signing credential as a JWK.
// Private material never leaves the signer.
func (s *Server) handleKeyInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if !s.cfg.CredentialsConfigured() {
		s.writeError(w, http.StatusServiceUnavailable, "signing credentials are not configured")
		return
	}

	pub, err := s.signer.PublicKey(r.Context())
	if err != nil {
		if errors.Is(err, keystore.ErrKeyNotConfigured) {
			s.writeError(w, http.StatusServiceUnavailable, "signing credentials are not configured")
			return
		}
		s.logger.Sugar().Errorw("Failed to load signing key", "key_id", s.signer.KeyID(), "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load signing key")
		return
	}

	key, err := buildPublicJWK(pub, s.signer.KeyID(), s.signer.Algorithm())
	if err != nil {
		s.logger.Sugar().Errorw("Failed to build JWK", "key_id", s.signer.KeyID(), "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to encode public key")
		return
	}

	thumbprint, err := key.Thumbprint(crypto.SHA256)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to compute key thumbprint")
		return
	}

	jwkJSON, err := json.Marshal(key)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to encode public key")
		return
	}

	s.writeJSON(w, http.StatusOK, keyInfoResponse{
		KeyID:      s.signer.KeyID(),
		Algorithm:  s.signer.Algorithm().String(),
		Thumbprint: base64.RawURLEncoding.EncodeToString(thumbprint),
		PublicJWK:  jwkJSON,
	})
}

// handleBalance handles the /balance alias
func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.forwardAndRespond(w, r, http.MethodGet, "/portfolio/balance", nil, nil)
}

// handleMarkets handles the /markets alias, query string included
func (s *Server) handleMarkets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.forwardAndRespond(w, r, http.MethodGet, "/markets", r.URL.Query(), nil)
}

// handleMarket handles /market/{ticker}
func (s *Server) handleMarket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	ticker := strings.TrimPrefix(r.URL.Path, "/market/")
	if ticker == "" || strings.Contains(ticker, "/") {
		s.writeError(w, http.StatusNotFound, "market ticker is required")
		return
	}

	s.forwardAndRespond(w, r, http.MethodGet, "/markets/"+ticker, nil, nil)
}

// handleOrders handles order submission. The body must be JSON; it forwards
// byte for byte, the gateway never reshapes it.
func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if !json.Valid(body) {
		s.writeError(w, http.StatusBadRequest, "request body must be valid JSON")
		return
	}

	s.forwardAndRespond(w, r, http.MethodPost, "/portfolio/orders", nil, body)
}

// handlePositions handles the /positions alias
func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	s.forwardAndRespond(w, r, http.MethodGet, "/portfolio/positions", r.URL.Query(), nil)
}

// handleProxy forwards any method under /api/ to the same path under the
// upstream prefix
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	logicalPath := strings.TrimPrefix(r.URL.Path, "/api/")
	if logicalPath == "" {
		s.writeError(w, http.StatusBadRequest, "upstream path is required")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	s.forwardAndRespond(w, r, r.Method, "/"+logicalPath, r.URL.Query(), body)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	s.writeError(w, http.StatusNotFound, fmt.Sprintf("unknown route: %s", r.URL.Path))
}

// forwardAndRespond runs one upstream call and relays the outcome. Upstream
// responses pass through verbatim whatever their status; only gateway-side
// failures produce a synthesized error body.
func (s *Server) forwardAndRespond(w http.ResponseWriter, r *http.Request, method, logicalPath string, query url.Values, body []byte) {
	result, err := s.forwarder.Forward(r.Context(), method, logicalPath, query, body)
	if err != nil {
		s.writeForwardError(w, err)
		return
	}

	contentType := result.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(result.StatusCode)
	_, _ = w.Write(result.Body)
}

func (s *Server) writeForwardError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, forwarder.ErrInvalidPath):
		s.writeError(w, http.StatusBadRequest, "invalid upstream path")
	case errors.Is(err, forwarder.ErrUpstreamTimeout):
		s.writeError(w, http.StatusGatewayTimeout, "upstream request timed out")
	case errors.Is(err, forwarder.ErrUpstreamUnreachable):
		s.writeError(w, http.StatusBadGateway, "upstream is unreachable")
	case errors.Is(err, keystore.ErrKeyNotConfigured):
		s.writeError(w, http.StatusInternalServerError, "signing credentials are not configured")
	case errors.Is(err, keystore.ErrKeyParse), errors.Is(err, keystore.ErrKeyTypeMismatch):
		s.writeError(w, http.StatusInternalServerError, "signing credentials are invalid")
	default:
		s.logger.Sugar().Errorw("Failed to forward request", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to sign request")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Sugar().Errorw("Failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorResponse{Error: message})
}

func buildPublicJWK(pub crypto.PublicKey, keyID string, algorithm requestSigner.Algorithm) (jwk.Key, error) {
	key, err := jwk.Import(pub)
	if err != nil {
		return nil, fmt.Errorf("failed to import public key: %w", err)
	}
	if err := key.Set(jwk.KeyIDKey, keyID); err != nil {
		return nil, err
	}
	if err := key.Set(jwk.KeyUsageKey, "sig"); err != nil {
		return nil, err
	}
	if err := key.Set(jwk.AlgorithmKey, jwaAlgorithm(algorithm)); err != nil {
		return nil, err
	}
	return key, nil
}

func jwaAlgorithm(algorithm requestSigner.Algorithm) jwa.SignatureAlgorithm {
	switch algorithm {
	case requestSigner.AlgorithmRSAPKCS1v15SHA256:
		return jwa.RS256()
	case requestSigner.AlgorithmEd25519:
		return jwa.EdDSA()
	default:
		return jwa.PS256()
	}
}
