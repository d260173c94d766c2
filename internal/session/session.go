package session

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// CookieName is the session cookie issued on registration.
const CookieName = "passport_session"

var ErrInvalidSession = errors.New("invalid session")

// Claims binds a browser to exactly one authenticated user id.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Manager signs and verifies session tokens. When a Redis client is
// configured, revoked token ids are tracked there so logout invalidates
// the token server side; without Redis logout degrades to clearing the
// cookie client side.
type Manager struct {
	secret []byte
	ttl    time.Duration
	redis  *redis.Client
}

func NewManager(secret string, ttl time.Duration, redisClient *redis.Client) *Manager {
	return &Manager{secret: []byte(secret), ttl: ttl, redis: redisClient}
}

// Issue creates a signed session token for userID.
func (m *Manager) Issue(userID string) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Verify parses the token and returns the authenticated user id. Expired,
// tampered and revoked tokens all fail with ErrInvalidSession.
func (m *Manager) Verify(ctx context.Context, tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidSession
		}
		return m.secret, nil
	})
	if err != nil {
		return "", ErrInvalidSession
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return "", ErrInvalidSession
	}
	if m.redis != nil && claims.ID != "" {
		revoked, err := m.redis.Exists(ctx, revocationKey(claims.ID)).Result()
		if err == nil && revoked > 0 {
			return "", ErrInvalidSession
		}
	}
	return claims.UserID, nil
}

// Revoke marks the token's id as revoked for its remaining lifetime.
// A no-op when Redis is not configured or the token does not verify.
func (m *Manager) Revoke(ctx context.Context, tokenString string) error {
	if m.redis == nil {
		return nil
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return m.secret, nil
	})
	if err != nil {
		return nil
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || claims.ID == "" || claims.ExpiresAt == nil {
		return nil
	}
	remaining := time.Until(claims.ExpiresAt.Time)
	if remaining <= 0 {
		return nil
	}
	return m.redis.Set(ctx, revocationKey(claims.ID), "1", remaining).Err()
}

func revocationKey(tokenID string) string {
	return "session:revoked:" + tokenID
}
