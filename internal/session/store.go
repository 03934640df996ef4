// Package session provides refresh-token and access-revocation storage with
// Redis and in-memory backends.
package session

import (
	"context"
	"errors"
	"time"
)

// TokenData is what a refresh token resolves back to.
type TokenData struct {
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	MustChange  bool      `json:"must_change"`
	CreatedAt   time.Time `json:"created_at"`
}

var ErrTokenNotFound = errors.New("session: token not found or expired")

// Store is satisfied by RedisStore and MemoryStore.
type Store interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, data TokenData, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (TokenData, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, until time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}
