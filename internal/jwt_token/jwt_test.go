package jwttoken

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "smartop/pkg/domain-errors"
)

var jwtService = NewJWTService("test-signing-key", "test-issuer")
var principalID = uuid.New()
var tenantID = uuid.NewString()
var expiresIn = time.Hour

func Test_GenerateAccessToken(t *testing.T) {
	token, err := jwtService.GenerateAccessToken(principalID, tenantID, "operator", expiresIn)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := jwtService.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, principalID.String(), claims.PrincipalID)
	assert.Equal(t, tenantID, claims.TenantID)
	assert.Equal(t, "operator", claims.Role)
	assert.WithinDuration(t, time.Now().Add(expiresIn), claims.ExpiresAt.Time, time.Minute)
}

func Test_GenerateAccessToken_AdminHasNoTenant(t *testing.T) {
	token, err := jwtService.GenerateAccessToken(principalID, "", "admin", expiresIn)
	require.NoError(t, err)

	claims, err := jwtService.ValidateToken(token)
	require.NoError(t, err)
	assert.Empty(t, claims.TenantID)
	assert.Equal(t, "admin", claims.Role)
}

func Test_ValidateToken_InvalidToken(t *testing.T) {
	_, err := jwtService.ValidateToken("invalid-token-string")
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeUnauthenticated, dErrors.CodeOf(err))
}

func Test_ValidateToken_ExpiredToken(t *testing.T) {
	token, err := jwtService.GenerateAccessToken(principalID, tenantID, "operator", -time.Hour)
	require.NoError(t, err)

	_, err = jwtService.ValidateToken(token)
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeUnauthenticated, dErrors.CodeOf(err))
}

func Test_ValidateToken_WrongKey(t *testing.T) {
	other := NewJWTService("a-different-key", "test-issuer")
	token, err := other.GenerateAccessToken(principalID, tenantID, "operator", expiresIn)
	require.NoError(t, err)

	_, err = jwtService.ValidateToken(token)
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeUnauthenticated, dErrors.CodeOf(err))
}
