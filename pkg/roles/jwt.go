package roles

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// sessionClaims is the shape this module expects a session token to
// carry: a space-delimited "scope" claim doubling as the client's role
// list, the way an OAuth2 scope string is conventionally read.
type sessionClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// JWTRoleLookup is a RoleLookup backed by a JWKS-validated session token:
// the caller supplies the raw token string for a client id out of band
// (e.g. at connection time), and the lookup parses its "scope" claim as a
// role list. It gives RoleLookup a concrete, runnable default without
// pulling role policy into the core.
type JWTRoleLookup struct {
	keyFunc  jwt.Keyfunc
	issuer   string
	audience string

	// tokens maps a clientID to the session token presented at connect
	// time. The carrier binding is responsible for populating this once
	// it has authenticated the connection.
	tokens TokenStore
}

// TokenStore resolves the raw session token a clientID presented when it
// connected. A carrier binding populates this as connections are
// authenticated.
type TokenStore interface {
	TokenForClient(clientID string) (string, bool)
}

// NewJWTRoleLookup builds a JWTRoleLookup validating tokens against the
// JWKS endpoint at https://domain/.well-known/jwks.json, refreshed
// hourly.
func NewJWTRoleLookup(ctx context.Context, domain, audience string, tokens TokenStore, regOpts ...jwk.RegisterOption) (*JWTRoleLookup, error) {
	issuerURL, err := url.Parse("https://" + domain + "/")
	if err != nil {
		return nil, fmt.Errorf("roles: failed to parse issuer URL: %w", err)
	}
	jwksURL := issuerURL.JoinPath(".well-known/jwks.json").String()

	cache := jwk.NewCache(ctx)
	opts := append([]jwk.RegisterOption{jwk.WithRefreshInterval(1 * time.Hour)}, regOpts...)
	if err := cache.Register(jwksURL, opts...); err != nil {
		return nil, fmt.Errorf("roles: failed to register JWKS URL in cache: %w", err)
	}
	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("roles: failed to fetch initial JWKS: %w", err)
	}

	keyFunc := func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, errors.New("roles: kid header not found")
		}
		keys, err := cache.Get(ctx, jwksURL)
		if err != nil {
			return nil, fmt.Errorf("roles: failed to get keys from cache: %w", err)
		}
		key, found := keys.LookupKeyID(kid)
		if !found {
			return nil, fmt.Errorf("roles: key with kid %s not found", kid)
		}
		var pubKey interface{}
		if err := key.Raw(&pubKey); err != nil {
			return nil, fmt.Errorf("roles: failed to get raw public key: %w", err)
		}
		return pubKey, nil
	}

	return &JWTRoleLookup{
		keyFunc:  keyFunc,
		issuer:   issuerURL.String(),
		audience: audience,
		tokens:   tokens,
	}, nil
}

// Lookup implements RoleLookup.
func (j *JWTRoleLookup) Lookup(ctx context.Context, clientID string) ([]Role, error) {
	tokenString, ok := j.tokens.TokenForClient(clientID)
	if !ok {
		return nil, fmt.Errorf("roles: no session token on file for client %s", clientID)
	}

	token, err := jwt.ParseWithClaims(tokenString, &sessionClaims{}, j.keyFunc,
		jwt.WithIssuer(j.issuer),
		jwt.WithAudience(j.audience),
	)
	if err != nil {
		return nil, fmt.Errorf("roles: failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("roles: token is invalid")
	}
	claims, ok := token.Claims.(*sessionClaims)
	if !ok {
		return nil, errors.New("roles: failed to cast claims")
	}

	return parseScope(claims.Scope), nil
}

func parseScope(scope string) []Role {
	fields := strings.Fields(scope)
	roles := make([]Role, 0, len(fields))
	for _, f := range fields {
		roles = append(roles, Role(f))
	}
	return roles
}

// MockRoleLookup is a development-only RoleLookup that decodes the
// unverified JWT payload to recover a "scope" claim, for local testing
// without a JWKS endpoint. It must never be used in production.
type MockRoleLookup struct {
	tokens TokenStore
}

func NewMockRoleLookup(tokens TokenStore) *MockRoleLookup {
	return &MockRoleLookup{tokens: tokens}
}

func (m *MockRoleLookup) Lookup(ctx context.Context, clientID string) ([]Role, error) {
	tokenString, ok := m.tokens.TokenForClient(clientID)
	if !ok {
		return []Role{RoleGuest}, nil
	}

	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 {
		return []Role{RoleGuest}, nil
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return []Role{RoleGuest}, nil
	}
	var claims map[string]any
	if err := json.Unmarshal(payload, &claims); err != nil {
		return []Role{RoleGuest}, nil
	}
	scope, _ := claims["scope"].(string)
	if scope == "" {
		return []Role{RoleGuest}, nil
	}
	return parseScope(scope), nil
}
