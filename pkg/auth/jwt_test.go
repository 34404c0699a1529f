package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTValidator_ValidateToken(t *testing.T) {
	fx := setupTestValidator(t)
	ctx := context.Background()

	token := createTestJWT(t, fx.key, fx.issuer, fx.audience, "user-123", map[string]any{
		"org": map[string]any{"tier": "enterprise"},
	})

	claims, err := fx.validator.ValidateToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "user-123", claims.Subject)

	tier, ok := claims.Get("org.tier")
	require.True(t, ok)
	assert.Equal(t, "enterprise", tier)
}

func TestJWTValidator_ValidateToken_WrongIssuer(t *testing.T) {
	fx := setupTestValidator(t)
	ctx := context.Background()

	token := createTestJWT(t, fx.key, "https://someone-else.example.com", fx.audience, "user-123", nil)

	_, err := fx.validator.ValidateToken(ctx, token)
	assert.Error(t, err)
}

func TestJWTValidator_ValidateToken_WrongAudience(t *testing.T) {
	fx := setupTestValidator(t)
	ctx := context.Background()

	token := createTestJWT(t, fx.key, fx.issuer, "someone-else", "user-123", nil)

	_, err := fx.validator.ValidateToken(ctx, token)
	assert.Error(t, err)
}

func TestJWTValidator_ValidateToken_Malformed(t *testing.T) {
	fx := setupTestValidator(t)
	ctx := context.Background()

	_, err := fx.validator.ValidateToken(ctx, "not-a-jwt")
	assert.Error(t, err)
}

func TestClaims_Get_MissingPath(t *testing.T) {
	c := &Claims{Subject: "u1", Raw: map[string]any{"org": map[string]any{"tier": "free"}}}

	_, ok := c.Get("org.region")
	assert.False(t, ok)

	_, ok = c.Get("billing.plan")
	assert.False(t, ok)
}
