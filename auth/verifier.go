// Package auth verifies Supabase access tokens, signed either with the
// project's JWKS keys or with the legacy HS256 JWT secret.
package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultLeeway = 30 * time.Second
)

// Options configures a Verifier. At least one of JWKSURL or HMACSecret is
// needed; with only Issuer set the Supabase JWKS endpoint is derived from it.
type Options struct {
	Issuer     string
	Audience   string
	JWKSURL    string
	HMACSecret string
}

// Verifier validates Supabase JWT access tokens.
type Verifier struct {
	issuer   string
	audience string
	secret   []byte
	jwks     keyfunc.Keyfunc
	parser   *jwt.Parser
}

// NewVerifier builds a verifier from Options.
func NewVerifier(opts Options) (*Verifier, error) {
	issuer := normalizeIssuer(opts.Issuer)
	if issuer == "" {
		return nil, errors.New("issuer must be set")
	}
	if opts.Audience == "" {
		return nil, errors.New("audience must be set")
	}

	v := &Verifier{
		issuer:   issuer,
		audience: opts.Audience,
	}

	methods := []string{}
	if opts.HMACSecret != "" {
		v.secret = []byte(opts.HMACSecret)
		methods = append(methods, jwt.SigningMethodHS256.Name)
	}

	jwksURL := opts.JWKSURL
	if jwksURL == "" && opts.HMACSecret == "" {
		jwksURL = issuer + "/.well-known/jwks.json"
	}
	if jwksURL != "" {
		keyProvider, err := keyfunc.NewDefault([]string{jwksURL})
		if err != nil {
			return nil, fmt.Errorf("failed to init JWKS keyfunc: %w", err)
		}
		v.jwks = keyProvider
		methods = append(methods,
			jwt.SigningMethodRS256.Name,
			jwt.SigningMethodES256.Name,
		)
	}

	v.parser = jwt.NewParser(
		jwt.WithIssuer(issuer),
		jwt.WithAudience(opts.Audience),
		jwt.WithLeeway(defaultLeeway),
		jwt.WithExpirationRequired(),
		jwt.WithValidMethods(methods),
	)
	return v, nil
}

func (v *Verifier) keyFor(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); ok {
		if v.secret == nil {
			return nil, errors.New("hmac tokens not accepted")
		}
		return v.secret, nil
	}
	if v.jwks == nil {
		return nil, errors.New("asymmetric tokens not accepted")
	}
	return v.jwks.Keyfunc(token)
}

// Verify parses and validates a JWT, returning extracted claims.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	token, err := v.parser.Parse(tokenString, v.keyFor)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid token claims")
	}

	claims := &Claims{
		Subject:   readString(mapClaims, "sub"),
		Email:     readString(mapClaims, "email"),
		Phone:     readString(mapClaims, "phone"),
		Role:      readString(mapClaims, "role"),
		Issuer:    readString(mapClaims, "iss"),
		Audience:  readAudience(mapClaims["aud"]),
		ExpiresAt: readExpiry(mapClaims["exp"]),
		Raw:       mapClaims,
	}
	if claims.Subject == "" {
		return nil, errors.New("token missing sub")
	}
	return claims, nil
}

// Supabase issuers have no trailing slash ("https://<ref>.supabase.co/auth/v1").
func normalizeIssuer(issuer string) string {
	return strings.TrimRight(strings.TrimSpace(issuer), "/")
}

func readString(claims jwt.MapClaims, key string) string {
	if s, ok := claims[key].(string); ok {
		return s
	}
	return ""
}

func readAudience(raw any) []string {
	switch v := raw.(type) {
	case string:
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case []string:
		return v
	default:
		return nil
	}
}

func readExpiry(raw any) time.Time {
	switch v := raw.(type) {
	case float64:
		return time.Unix(int64(v), 0)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return time.Unix(i, 0)
		}
	case int64:
		return time.Unix(v, 0)
	}
	return time.Time{}
}
