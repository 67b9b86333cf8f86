// Package challenge issues and verifies the short-lived numeric codes mailed
// to users before sensitive actions (registration, password update, profile
// update).
package challenge

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "challenge"

// Purpose scopes a challenge to the flow that requested it. A code issued for
// one purpose never verifies under another.
type Purpose string

const (
	PurposeRegister       Purpose = "register"
	PurposePasswordUpdate Purpose = "password-update"
	PurposeProfileUpdate  Purpose = "profile-update"
)

// TTL returns the lifetime of codes issued for the purpose.
func (p Purpose) TTL() time.Duration {
	switch p {
	case PurposeRegister:
		return 5 * time.Minute
	case PurposePasswordUpdate, PurposeProfileUpdate:
		return 10 * time.Minute
	default:
		return 5 * time.Minute
	}
}

var errUnavailable = errors.New("challenge: cache unavailable")

// Store keeps at most one live code per (purpose, address) in a TTL-bound
// cache. Issuing overwrites any previous entry for the key; concurrent
// issuance for the same key is last-write-wins.
type Store struct {
	rdb              redis.Cmdable
	consumeOnSuccess bool
}

// Option configures Store behavior.
type Option func(*Store)

// WithConsumeOnSuccess deletes a code the first time it verifies, so it
// cannot be replayed before its TTL runs out. Off by default: the reference
// behavior leaves a matched code valid until expiry.
func WithConsumeOnSuccess(consume bool) Option {
	return func(s *Store) { s.consumeOnSuccess = consume }
}

// NewStore constructs a Store over the given Redis client.
func NewStore(rdb redis.Cmdable, opts ...Option) *Store {
	s := &Store{rdb: rdb}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Issue generates a 6-digit code and stores it under (purpose, address) with
// the purpose's TTL, overwriting any live entry. The code is returned so the
// caller can deliver it.
func (s *Store) Issue(ctx context.Context, purpose Purpose, address string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", errors.New("challenge: address is required")
	}
	code, err := generateCode()
	if err != nil {
		return "", err
	}
	if err := s.rdb.Set(ctx, key(purpose, address), code, purpose.TTL()).Err(); err != nil {
		return "", fmt.Errorf("%w: %v", errUnavailable, err)
	}
	return code, nil
}

// Verify reports whether candidate matches the live code for
// (purpose, address). A missing key (expired or never issued) and a mismatch
// both return false; the stored code is never deleted on a failed match.
func (s *Store) Verify(ctx context.Context, purpose Purpose, address, candidate string) (bool, error) {
	address = strings.TrimSpace(address)
	candidate = strings.TrimSpace(candidate)
	if address == "" || candidate == "" {
		return false, nil
	}
	stored, err := s.rdb.Get(ctx, key(purpose, address)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", errUnavailable, err)
	}
	if stored != candidate {
		return false, nil
	}
	if s.consumeOnSuccess {
		if err := s.rdb.Del(ctx, key(purpose, address)).Err(); err != nil {
			return false, fmt.Errorf("%w: %v", errUnavailable, err)
		}
	}
	return true, nil
}

func key(purpose Purpose, address string) string {
	return keyPrefix + ":" + string(purpose) + ":" + address
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("challenge: generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
