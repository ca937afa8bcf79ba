package service

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/uni-request-api/internal/models"
	appErrors "github.com/noah-isme/uni-request-api/pkg/errors"
)

const testSecret = "test-secret"

func signToken(t *testing.T, method jwt.SigningMethod, secret string, claims *models.JWTClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func validClaims() *models.JWTClaims {
	now := time.Now().UTC()
	return &models.JWTClaims{
		UserID:   studentDewi,
		Role:     models.RoleStudent,
		Email:    "dewi@uni.ac.id",
		FullName: "Dewi",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "uni-identity",
			Audience:  jwt.ClaimStrings{"uni-request-api"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
}

func newTestAuthService() *AuthService {
	return NewAuthService(AuthConfig{
		AccessTokenSecret: testSecret,
		Issuer:            "uni-identity",
		Audience:          []string{"uni-request-api"},
	}, zap.NewNop())
}

func TestValidateToken(t *testing.T) {
	svc := newTestAuthService()

	claims, err := svc.ValidateToken(signToken(t, jwt.SigningMethodHS256, testSecret, validClaims()))
	require.NoError(t, err)
	assert.Equal(t, studentDewi, claims.UserID)
	assert.Equal(t, models.RoleStudent, claims.Role)
	assert.Equal(t, "Dewi", claims.FullName)
}

func TestValidateTokenRejects(t *testing.T) {
	svc := newTestAuthService()

	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	wrongIssuer := validClaims()
	wrongIssuer.Issuer = "someone-else"

	wrongAudience := validClaims()
	wrongAudience.Audience = jwt.ClaimStrings{"other-api"}

	noExpiry := validClaims()
	noExpiry.ExpiresAt = nil

	unknownRole := validClaims()
	unknownRole.Role = "JANITOR"

	noUser := validClaims()
	noUser.UserID = 0

	cases := map[string]string{
		"expired":        signToken(t, jwt.SigningMethodHS256, testSecret, expired),
		"wrong secret":   signToken(t, jwt.SigningMethodHS256, "other", validClaims()),
		"wrong method":   signToken(t, jwt.SigningMethodHS512, testSecret, validClaims()),
		"wrong issuer":   signToken(t, jwt.SigningMethodHS256, testSecret, wrongIssuer),
		"wrong audience": signToken(t, jwt.SigningMethodHS256, testSecret, wrongAudience),
		"no expiry":      signToken(t, jwt.SigningMethodHS256, testSecret, noExpiry),
		"unknown role":   signToken(t, jwt.SigningMethodHS256, testSecret, unknownRole),
		"no user":        signToken(t, jwt.SigningMethodHS256, testSecret, noUser),
		"garbage":        "not-a-token",
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.ValidateToken(token)
			require.Error(t, err)
			assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))
		})
	}
}

func TestValidateTokenWithoutIssuerOrAudience(t *testing.T) {
	svc := NewAuthService(AuthConfig{AccessTokenSecret: testSecret}, nil)
	claims := validClaims()
	claims.Issuer = ""
	claims.Audience = nil

	_, err := svc.ValidateToken(signToken(t, jwt.SigningMethodHS256, testSecret, claims))
	require.NoError(t, err)
}
