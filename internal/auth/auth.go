package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/kotaroy/painlog/internal/models"
	"github.com/kotaroy/painlog/internal/storage"
)

// TokenLifetime is how long issued tokens stay valid.
const TokenLifetime = 30 * 24 * time.Hour

// ErrUnauthenticated covers every rejection: malformed, bad signature,
// expired, revoked, or unknown subject. Callers never learn which.
var ErrUnauthenticated = errors.New("unauthenticated")

// Claims is the payload carried by bearer tokens.
type Claims struct {
	jwt.RegisteredClaims
	UserID int64 `json:"user_id"`
}

// Identity is a resolved caller. It is passed explicitly into the channel
// and worker per call; there is no process-wide cached identity.
type Identity struct {
	User *models.User
	JTI  string
	// ExpiresAt is the token expiry, kept so logout can bound the
	// revocation entry.
	ExpiresAt time.Time
}

// Validator verifies bearer credentials and resolves them to users.
// Read-only; it backs both request auth and socket-connection auth.
type Validator struct {
	secret  []byte
	storage storage.Storage
}

func NewValidator(secret string, storage storage.Storage) *Validator {
	return &Validator{
		secret:  []byte(secret),
		storage: storage,
	}
}

// Authenticate verifies the token signature and expiry, checks the jti
// against the revocation list, and resolves the subject to a user. Any
// defect yields ErrUnauthenticated; no partial identity escapes.
func (v *Validator) Authenticate(ctx context.Context, bearer string) (*Identity, error) {
	if bearer == "" {
		return nil, ErrUnauthenticated
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(bearer, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrUnauthenticated
	}
	if claims.ExpiresAt == nil || claims.ID == "" {
		return nil, ErrUnauthenticated
	}

	revoked, err := v.storage.IsTokenRevoked(ctx, claims.ID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("checking revocation: %w", err)
	}
	if revoked {
		return nil, ErrUnauthenticated
	}

	user, err := v.storage.GetUser(ctx, claims.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("resolving user: %w", err)
	}

	return &Identity{
		User:      user,
		JTI:       claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Revoke adds the identity's jti to the revocation list until the token
// would have expired on its own.
func (v *Validator) Revoke(ctx context.Context, identity *Identity) error {
	return v.storage.RevokeToken(ctx, identity.JTI, identity.ExpiresAt)
}

// IssueToken mints a signed bearer token for the user.
func IssueToken(secret string, userID int64, lifetime time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
		UserID: userID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
