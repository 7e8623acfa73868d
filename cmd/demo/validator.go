package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/livesync/core/internal/logging"
)

// tokenStore remembers the raw session token each authenticated clientId
// presented at connect time, implementing roles.TokenStore so the Role
// Verifier can recover a caller's "scope" claim later without holding
// onto a live connection.
type tokenStore struct {
	mu     sync.RWMutex
	tokens map[string]string
}

func newTokenStore() *tokenStore {
	return &tokenStore{tokens: make(map[string]string)}
}

func (s *tokenStore) TokenForClient(clientID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	token, ok := s.tokens[clientID]
	return token, ok
}

func (s *tokenStore) remember(clientID, token string) {
	s.mu.Lock()
	s.tokens[clientID] = token
	s.mu.Unlock()
}

// devValidator is a development wssignaler.TokenValidator: it decodes the
// JWT payload without verifying its signature to recover the "sub" claim
// as the peer's clientId, so the clientId a browser sees matches what the
// server assigns. It is the only TokenValidator in cmd/demo and is mounted
// whether or not SKIP_AUTH is set; SKIP_AUTH and DEVELOPMENT_MODE choose
// only between the mock and the JWKS-backed role lookup.
type devValidator struct {
	tokens *tokenStore
}

func newDevValidator(tokens *tokenStore) *devValidator {
	return &devValidator{tokens: tokens}
}

func (v *devValidator) ValidateToken(tokenString string) (string, error) {
	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("devValidator: malformed token")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("devValidator: failed to decode payload: %w", err)
	}
	var claims map[string]any
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", fmt.Errorf("devValidator: failed to unmarshal claims: %w", err)
	}
	subject, _ := claims["sub"].(string)
	if subject == "" {
		return "", fmt.Errorf("devValidator: token has no sub claim")
	}

	v.tokens.remember(subject, tokenString)
	logging.Info(nil, "devValidator: accepted dev token", zap.String("subject", subject))
	return subject, nil
}
