package identity

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

// Extractor verifies bearer tokens and attaches a TenantContext to the
// request scope. It never consults a database; everything it needs is in
// the token and the configured public key.
type Extractor struct {
	cfg    *Config
	logger *slog.Logger

	keyOnce sync.Once
	key     *rsa.PublicKey
	keyErr  error
}

// NewExtractor creates an Extractor. The verification key is loaded lazily
// on the first request so that services without the key file can still
// serve exempt paths.
func NewExtractor(cfg *Config) *Extractor {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{cfg: cfg, logger: logger}
}

func (e *Extractor) publicKey() (*rsa.PublicKey, error) {
	e.keyOnce.Do(func() {
		if e.cfg.PublicKeyPath == "" {
			e.keyErr = errors.New("no public key path configured")
			return
		}
		data, err := os.ReadFile(e.cfg.PublicKeyPath)
		if err != nil {
			e.keyErr = fmt.Errorf("read public key %s: %w", e.cfg.PublicKeyPath, err)
			return
		}
		block, _ := pem.Decode(data)
		if block == nil {
			e.keyErr = fmt.Errorf("no PEM block in %s", e.cfg.PublicKeyPath)
			return
		}
		parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			e.keyErr = fmt.Errorf("parse public key: %w", err)
			return
		}
		rsaKey, ok := parsed.(*rsa.PublicKey)
		if !ok {
			e.keyErr = fmt.Errorf("public key is not RSA (got %T)", parsed)
			return
		}
		e.key = rsaKey
	})
	return e.key, e.keyErr
}

// Middleware extracts and verifies the bearer token. Requests on exempt
// paths pass through untouched. Requests without an Authorization header
// pass through without a TenantContext; the permission gate rejects them
// if the route requires one. Invalid or expired tokens are rejected with
// 401 immediately.
func (e *Extractor) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if e.cfg.IsExempt(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			token := bearerToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			tc, err := e.Verify(token)
			if err != nil {
				writeAuthError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), tc)))
		})
	}
}

// Verify parses and verifies a compact token string and maps its claims to
// a TenantContext.
func (e *Extractor) Verify(tokenString string) (TenantContext, error) {
	key, err := e.publicKey()
	if err != nil {
		return TenantContext{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	parserOpts := []jwt.ParserOption{jwt.WithValidMethods([]string{e.algorithm()})}
	if e.cfg.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(e.cfg.Issuer))
	}
	if e.cfg.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(e.cfg.Audience))
	}

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return key, nil
	}, parserOpts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return TenantContext{}, ErrTokenExpired
		}
		return TenantContext{}, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return TenantContext{}, ErrTokenInvalid
	}
	return contextFromClaims(claims), nil
}

func (e *Extractor) algorithm() string {
	if e.cfg.Algorithm != "" {
		return e.cfg.Algorithm
	}
	return "RS256"
}

// contextFromClaims maps recognized claims onto a TenantContext.
// tenant_id|company_uuid -> TenantID, sub|user_id -> UserID.
func contextFromClaims(claims jwt.MapClaims) TenantContext {
	tc := TenantContext{RawClaims: map[string]any(claims)}

	tc.TenantID = stringClaim(claims, "tenant_id")
	if tc.TenantID == "" {
		tc.TenantID = stringClaim(claims, "company_uuid")
	}
	tc.UserID = stringClaim(claims, "sub")
	if tc.UserID == "" {
		tc.UserID = stringClaim(claims, "user_id")
	}
	tc.BranchID = stringClaim(claims, "branch_id")
	tc.Roles = stringSliceClaim(claims, "roles")
	tc.Permissions = stringSliceClaim(claims, "permissions")
	if v, ok := claims["is_superuser"].(bool); ok {
		tc.IsPrivileged = v
	}
	return tc
}

func stringClaim(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}

func stringSliceClaim(claims jwt.MapClaims, key string) []string {
	raw, ok := claims[key].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func writeAuthError(w http.ResponseWriter, err error) {
	code := "token_invalid"
	if errors.Is(err, ErrTokenExpired) {
		code = "token_expired"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": "authentication failed",
	})
}
