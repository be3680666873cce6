// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth implements the §6 bearer credential for Riven's single-API-key
// model (spec.md Non-goals: "no user management beyond a single API key").
// A caller either presents the static key directly, or exchanges it once for
// a short-lived JWT session token via Manager.Exchange, mirroring the
// teacher's JWTManager (internal/auth/jwt.go) generate/validate split,
// re-themed from username/role claims to a single "riven" subject since
// there is no user model to carry.
package auth

import (
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the JWT payload Manager issues. There is no user/role concept
// (§1 Non-goals), so the only claim beyond the registered set is the
// issuing key's presence, proven by a valid signature.
type Claims struct {
	jwt.RegisteredClaims
}

// Manager verifies the configured API key and issues/validates the bearer
// session tokens exchanged for it.
type Manager struct {
	apiKey  string
	secret  []byte
	timeout time.Duration
}

// NewManager builds a Manager. The JWT signing secret is derived from the
// API key itself (there is no separate secret in the single-key model) so
// rotating the API key also invalidates every outstanding session token.
func NewManager(apiKey string, timeout time.Duration) (*Manager, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("auth: api key is required")
	}
	if timeout <= 0 {
		timeout = 24 * time.Hour
	}
	return &Manager{apiKey: apiKey, secret: []byte("riven-session:" + apiKey), timeout: timeout}, nil
}

// CheckAPIKey reports whether token is exactly the configured API key,
// using a constant-time comparison to avoid timing side channels.
func (m *Manager) CheckAPIKey(token string) bool {
	return subtle.ConstantTimeCompare([]byte(token), []byte(m.apiKey)) == 1
}

// Exchange mints a session JWT after the caller has already presented a
// valid API key (checked by the caller via CheckAPIKey).
func (m *Manager) Exchange() (string, error) {
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "riven",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.timeout)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// ValidateToken verifies a session JWT previously minted by Exchange.
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", token.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("auth: validate token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("auth: invalid token claims")
	}
	return claims, nil
}

// Authenticate accepts either the raw API key or a session JWT.
func (m *Manager) Authenticate(bearer string) bool {
	if m.CheckAPIKey(bearer) {
		return true
	}
	_, err := m.ValidateToken(bearer)
	return err == nil
}
