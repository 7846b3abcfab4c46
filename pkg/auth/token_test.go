package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernandofuc/tistis-platform-sub016/pkg/config"
)

func TestTokenRoundTrip(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "tistis", ExpirationMinutes: 5}

	raw, err := GenerateToken(cfg, "ops@tistis.mx", RoleAdmin)
	require.NoError(t, err)

	claims, err := ParseToken(cfg, raw)
	require.NoError(t, err)
	assert.Equal(t, "ops@tistis.mx", claims.Subject)
	assert.Equal(t, RoleAdmin, claims.Role)
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "tistis", ExpirationMinutes: 5}
	raw, err := GenerateToken(cfg, "ops@tistis.mx", RoleAdmin)
	require.NoError(t, err)

	_, err = ParseToken(config.JWTConfig{Secret: "other", Issuer: "tistis"}, raw)
	require.Error(t, err)
}

func TestParseTokenRejectsWrongIssuer(t *testing.T) {
	cfg := config.JWTConfig{Secret: "secret", Issuer: "tistis", ExpirationMinutes: 5}
	raw, err := GenerateToken(cfg, "ops@tistis.mx", RoleAdmin)
	require.NoError(t, err)

	_, err = ParseToken(config.JWTConfig{Secret: "secret", Issuer: "someone-else"}, raw)
	require.Error(t, err)
}
