// Package auth checks credentials for protected endpoints and for the
// admin API.
//
// Endpoint credentials are configured per endpoint (domain.AuthConfig).
// Static tokens and API keys are stored as sha256 hex digests, basic auth
// passwords as bcrypt hashes, so a leaked configuration does not leak
// usable secrets. Check returns the caller's identity, which the rate
// limiter uses as its client key.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/tbourn/go-api-endpoints/internal/domain"
)

var (
	ErrMissingCredentials  = errors.New("missing credentials")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrUnsupportedAuthType = errors.New("unsupported auth type")
	ErrNotAdmin            = errors.New("token lacks admin role")
)

// Defaults for api_key auth.
const (
	DefaultAPIKeyHeader = "X-API-Key"
	DefaultAPIKeyParam  = "api_key"
)

// identity prefixes the hash of an API key with this many hex characters.
const keyPrefixLen = 12

// Check validates the credentials in h and q against cfg and returns the
// caller's identity. It does nothing and returns "" when cfg.Required is
// false.
func Check(cfg domain.AuthConfig, h http.Header, q url.Values) (string, error) {
	if !cfg.Required {
		return "", nil
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case domain.AuthBearer:
		return checkBearer(cfg, h)
	case domain.AuthAPIKey:
		return checkAPIKey(cfg, h, q)
	case domain.AuthBasic:
		return checkBasic(cfg, h)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAuthType, cfg.Type)
	}
}

// QueryParam returns the query parameter that carries credentials for cfg,
// or "" when cfg does not read credentials from the query.
func QueryParam(cfg domain.AuthConfig) string {
	if strings.ToLower(strings.TrimSpace(cfg.Type)) != domain.AuthAPIKey {
		return ""
	}
	if cfg.QueryParam != "" {
		return cfg.QueryParam
	}
	return DefaultAPIKeyParam
}

// Validate reports configuration errors in cfg.
func Validate(cfg domain.AuthConfig) error {
	if !cfg.Required {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case domain.AuthBearer:
		if cfg.JWTSecret == "" && len(cfg.Tokens) == 0 {
			return errors.New("bearer auth needs jwt_secret or tokens")
		}
	case domain.AuthAPIKey:
		if len(cfg.APIKeys) == 0 {
			return errors.New("api_key auth needs api_keys")
		}
	case domain.AuthBasic:
		if len(cfg.Users) == 0 {
			return errors.New("basic auth needs users")
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedAuthType, cfg.Type)
	}
	return nil
}

// Challenge returns the WWW-Authenticate value for a 401 on an endpoint
// with cfg, or "" when none applies.
func Challenge(cfg domain.AuthConfig) string {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case domain.AuthBearer:
		return `Bearer realm="api"`
	case domain.AuthBasic:
		return `Basic realm="api", charset="UTF-8"`
	}
	return ""
}

// HashSecret returns the sha256 hex digest stored for a token or API key.
func HashSecret(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// HashPassword returns a bcrypt hash for a basic auth user.
func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(b), nil
}

func checkBearer(cfg domain.AuthConfig, h http.Header) (string, error) {
	tok, ok := schemeValue(h.Get("Authorization"), "Bearer")
	if !ok || tok == "" {
		return "", ErrMissingCredentials
	}

	if cfg.JWTSecret != "" {
		claims, err := parseHS256(cfg.JWTSecret, tok)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
		}
		sub, _ := claims.GetSubject()
		if sub == "" {
			sub = "anonymous"
		}
		return "bearer:" + sub, nil
	}

	digest := HashSecret(tok)
	if !matchDigest(digest, cfg.Tokens) {
		return "", ErrInvalidCredentials
	}
	return "bearer:" + digest[:keyPrefixLen], nil
}

func checkAPIKey(cfg domain.AuthConfig, h http.Header, q url.Values) (string, error) {
	header := cfg.Header
	if header == "" {
		header = DefaultAPIKeyHeader
	}
	param := cfg.QueryParam
	if param == "" {
		param = DefaultAPIKeyParam
	}

	key := strings.TrimSpace(h.Get(header))
	if key == "" {
		key = strings.TrimSpace(q.Get(param))
	}
	if key == "" {
		return "", ErrMissingCredentials
	}

	digest := HashSecret(key)
	if !matchDigest(digest, cfg.APIKeys) {
		return "", ErrInvalidCredentials
	}
	return "apikey:" + digest[:keyPrefixLen], nil
}

func checkBasic(cfg domain.AuthConfig, h http.Header) (string, error) {
	enc, ok := schemeValue(h.Get("Authorization"), "Basic")
	if !ok || enc == "" {
		return "", ErrMissingCredentials
	}
	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return "", ErrInvalidCredentials
	}
	user, pass, ok := strings.Cut(string(raw), ":")
	if !ok || user == "" {
		return "", ErrInvalidCredentials
	}

	hash, found := cfg.Users[user]
	if !found {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pass)); err != nil {
		return "", ErrInvalidCredentials
	}
	return "basic:" + user, nil
}

// schemeValue splits an Authorization header into scheme and value. The
// scheme comparison is case-insensitive.
func schemeValue(header, scheme string) (string, bool) {
	header = strings.TrimSpace(header)
	if len(header) <= len(scheme) || !strings.EqualFold(header[:len(scheme)], scheme) || header[len(scheme)] != ' ' {
		return "", false
	}
	return strings.TrimSpace(header[len(scheme)+1:]), true
}

// matchDigest compares against every candidate in constant time.
func matchDigest(digest string, allowed []string) bool {
	found := 0
	for _, a := range allowed {
		found |= subtle.ConstantTimeCompare([]byte(digest), []byte(strings.ToLower(strings.TrimSpace(a))))
	}
	return found == 1
}

func parseHS256(secret, tok string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// IssueToken mints an admin token for subject, valid for ttl.
func IssueToken(secret, subject string, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", errors.New("admin secret is empty")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  subject,
		"role": "admin",
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	})
	s, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return s, nil
}

// ValidateAdmin checks an admin token and returns its subject.
func ValidateAdmin(secret, tok string) (string, error) {
	if tok == "" {
		return "", ErrMissingCredentials
	}
	claims, err := parseHS256(secret, tok)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	if role, _ := claims["role"].(string); role != "admin" {
		return "", ErrNotAdmin
	}
	sub, _ := claims.GetSubject()
	return sub, nil
}

// BearerToken extracts the token from an Authorization header.
func BearerToken(header string) string {
	tok, _ := schemeValue(header, "Bearer")
	return tok
}
