package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/kotaroy/painlog/internal/models"
	"github.com/kotaroy/painlog/internal/storage"
)

const testSecret = "test-secret"

func newTestValidator(t *testing.T) (*Validator, *storage.MemoryStorage) {
	t.Helper()
	store := storage.NewMemoryStorage()
	store.AddUser(&models.User{ID: 1, Name: "mika", Email: "mika@example.com"})
	return NewValidator(testSecret, store), store
}

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func validClaims(userID int64) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ID:        uuid.New().String(),
		},
		UserID: userID,
	}
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()

	t.Run("valid token resolves identity", func(t *testing.T) {
		validator, _ := newTestValidator(t)
		claims := validClaims(1)
		token := signToken(t, testSecret, claims)

		identity, err := validator.Authenticate(ctx, token)
		require.NoError(t, err)
		require.Equal(t, int64(1), identity.User.ID)
		require.Equal(t, claims.ID, identity.JTI)
	})

	t.Run("issued token round-trips", func(t *testing.T) {
		validator, _ := newTestValidator(t)
		token, err := IssueToken(testSecret, 1, TokenLifetime)
		require.NoError(t, err)

		identity, err := validator.Authenticate(ctx, token)
		require.NoError(t, err)
		require.Equal(t, int64(1), identity.User.ID)
	})

	t.Run("rejections", func(t *testing.T) {
		validator, store := newTestValidator(t)

		expired := validClaims(1)
		expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

		noJTI := validClaims(1)
		noJTI.ID = ""

		revoked := validClaims(1)
		require.NoError(t, store.RevokeToken(ctx, revoked.ID, time.Now().Add(time.Hour)))

		tests := []struct {
			name  string
			token string
		}{
			{"empty token", ""},
			{"garbage token", "not-a-jwt"},
			{"wrong signature", signToken(t, "other-secret", validClaims(1))},
			{"expired", signToken(t, testSecret, expired)},
			{"missing jti", signToken(t, testSecret, noJTI)},
			{"revoked jti", signToken(t, testSecret, revoked)},
			{"unknown user", signToken(t, testSecret, validClaims(42))},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				identity, err := validator.Authenticate(ctx, tt.token)
				require.ErrorIs(t, err, ErrUnauthenticated)
				require.Nil(t, identity)
			})
		}
	})

	t.Run("revocation entry past its expiry no longer rejects", func(t *testing.T) {
		validator, store := newTestValidator(t)
		claims := validClaims(1)
		require.NoError(t, store.RevokeToken(ctx, claims.ID, time.Now().Add(-time.Minute)))

		_, err := validator.Authenticate(ctx, signToken(t, testSecret, claims))
		require.NoError(t, err)
	})
}

func TestRevoke(t *testing.T) {
	ctx := context.Background()
	validator, _ := newTestValidator(t)

	token, err := IssueToken(testSecret, 1, time.Hour)
	require.NoError(t, err)

	identity, err := validator.Authenticate(ctx, token)
	require.NoError(t, err)

	require.NoError(t, validator.Revoke(ctx, identity))

	_, err = validator.Authenticate(ctx, token)
	require.ErrorIs(t, err, ErrUnauthenticated)
}
