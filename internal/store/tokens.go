package store

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/postwing/postwing/internal/faults"
	"github.com/postwing/postwing/pkg/models"
)

const tokenKeyPrefix = "postwing:token:"

// Default TTLs: a freshly issued token must be used within minutes; once an
// extension connects, the binding is extended to days and refreshed on every
// reconnection.
const (
	InitialTokenTTL  = 10 * time.Minute
	ExtendedTokenTTL = 7 * 24 * time.Hour
)

// TokenStore keeps connection tokens in redis. The key TTL is the token
// expiry, so expired tokens vanish without any sweep of our own.
type TokenStore struct {
	rdb        *redis.Client
	initialTTL time.Duration
	extendTTL  time.Duration
}

// NewTokenStore creates a token store around a redis client.
func NewTokenStore(rdb *redis.Client) *TokenStore {
	return &TokenStore{
		rdb:        rdb,
		initialTTL: InitialTokenTTL,
		extendTTL:  ExtendedTokenTTL,
	}
}

// Issue mints a new token bound to userID with the short initial TTL.
func (s *TokenStore) Issue(ctx context.Context, userID string) (*models.ConnectionToken, error) {
	token := uuid.New().String()
	if err := s.rdb.Set(ctx, tokenKeyPrefix+token, userID, s.initialTTL).Err(); err != nil {
		return nil, errors.Wrap(err, "store token")
	}
	return &models.ConnectionToken{
		Token:     token,
		UserID:    userID,
		ExpiresAt: time.Now().Add(s.initialTTL),
	}, nil
}

// Validate resolves a token to its user. Expired or unknown tokens fail with
// ErrNotFound.
func (s *TokenStore) Validate(ctx context.Context, token string) (string, error) {
	userID, err := s.rdb.Get(ctx, tokenKeyPrefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return "", errors.Wrap(faults.ErrNotFound, "connection token")
	}
	if err != nil {
		return "", errors.Wrap(err, "lookup token")
	}
	return userID, nil
}

// Extend pushes the token expiry out to the long TTL. Called after a
// successful WebSocket handshake.
func (s *TokenStore) Extend(ctx context.Context, token string) error {
	ok, err := s.rdb.Expire(ctx, tokenKeyPrefix+token, s.extendTTL).Result()
	if err != nil {
		return errors.Wrap(err, "extend token")
	}
	if !ok {
		return errors.Wrap(faults.ErrNotFound, "connection token")
	}
	return nil
}

// Revoke deletes a token, superseding it immediately.
func (s *TokenStore) Revoke(ctx context.Context, token string) error {
	return errors.Wrap(s.rdb.Del(ctx, tokenKeyPrefix+token).Err(), "revoke token")
}
