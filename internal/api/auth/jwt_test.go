// Riven - event-driven media-automation scheduler
// SPDX-License-Identifier: AGPL-3.0-or-later

package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManagerRejectsEmptyAPIKey(t *testing.T) {
	_, err := NewManager("", time.Hour)
	assert.Error(t, err)
}

func TestNewManagerDefaultsTimeout(t *testing.T) {
	m, err := NewManager("secret", 0)
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, 24*time.Hour, m.timeout)
}

func TestCheckAPIKeyMatchesExactKey(t *testing.T) {
	m, err := NewManager("super-secret", time.Hour)
	require.NoError(t, err)

	assert.True(t, m.CheckAPIKey("super-secret"))
	assert.False(t, m.CheckAPIKey("wrong-key"))
}

func TestExchangeProducesValidatableToken(t *testing.T) {
	m, err := NewManager("super-secret", time.Hour)
	require.NoError(t, err)

	token, err := m.Exchange()
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "riven", claims.Subject)
}

func TestValidateTokenRejectsTokenFromDifferentKey(t *testing.T) {
	m1, err := NewManager("key-one", time.Hour)
	require.NoError(t, err)
	m2, err := NewManager("key-two", time.Hour)
	require.NoError(t, err)

	token, err := m1.Exchange()
	require.NoError(t, err)

	_, err = m2.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateTokenRejectsExpiredToken(t *testing.T) {
	m, err := NewManager("super-secret", time.Nanosecond)
	require.NoError(t, err)

	token, err := m.Exchange()
	require.NoError(t, err)

	time.Sleep(time.Millisecond)
	_, err = m.ValidateToken(token)
	assert.Error(t, err)
}

func TestAuthenticateAcceptsRawAPIKey(t *testing.T) {
	m, err := NewManager("super-secret", time.Hour)
	require.NoError(t, err)

	assert.True(t, m.Authenticate("super-secret"))
}

func TestAuthenticateAcceptsExchangedSessionToken(t *testing.T) {
	m, err := NewManager("super-secret", time.Hour)
	require.NoError(t, err)

	token, err := m.Exchange()
	require.NoError(t, err)
	assert.True(t, m.Authenticate(token))
}

func TestAuthenticateRejectsGarbage(t *testing.T) {
	m, err := NewManager("super-secret", time.Hour)
	require.NoError(t, err)

	assert.False(t, m.Authenticate("not-a-valid-token"))
}
