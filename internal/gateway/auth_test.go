// ABOUTME: Tests for JWT token issuing and verification
// ABOUTME: Covers round-trip, tampering, wrong secret, and bad role claims

package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storeline/chatsync/internal/wire"
)

func TestTokenIssuer_RoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("test-secret")

	token, err := issuer.Issue(3, wire.RoleCustomer)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	identity, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, int64(3), identity.UserID)
	assert.Equal(t, wire.RoleCustomer, identity.Role)
}

func TestTokenIssuer_AgentRole(t *testing.T) {
	issuer := NewTokenIssuer("test-secret")

	token, err := issuer.Issue(99, wire.RoleAgent)
	require.NoError(t, err)

	identity, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, wire.RoleAgent, identity.Role)
}

func TestTokenIssuer_RejectsWrongSecret(t *testing.T) {
	token, err := NewTokenIssuer("secret-a").Issue(3, wire.RoleCustomer)
	require.NoError(t, err)

	_, err = NewTokenIssuer("secret-b").Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenIssuer_RejectsGarbage(t *testing.T) {
	issuer := NewTokenIssuer("test-secret")

	_, err := issuer.Verify("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = issuer.Verify("")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenIssuer_RejectsUnknownRole(t *testing.T) {
	issuer := NewTokenIssuer("test-secret")

	token, err := issuer.Issue(3, wire.Role("superadmin"))
	require.NoError(t, err)

	_, err = issuer.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
