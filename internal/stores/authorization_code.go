package stores

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goAccess/internal"
	"github.com/redis/go-redis/v9"
)

var (
	ErrCodeNotFound         = errors.New("authorization code not found")
	ErrCodeAlreadyUsed      = errors.New("authorization code already used")
	ErrCodeExpired          = errors.New("authorization code expired")
	ErrCodeRevoked          = errors.New("authorization code revoked")
	ErrCodeClientMismatch   = errors.New("authorization code client mismatch")
	ErrCodeRedirectMismatch = errors.New("authorization code redirect mismatch")
	ErrCodeBackend          = errors.New("authorization code backend unavailable")
)

// AuthorizationCode is the server-side record behind an issued code.
type AuthorizationCode struct {
	ClientID    string
	Subject     string
	RedirectURI string
	Scope       []string
	IssuedAt    int64
	ExpiresAt   int64
	State       State
}

// AuthorizationCodeStore keeps authorization codes keyed by their hash.
type AuthorizationCodeStore struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
	now       func() time.Time
}

// NewAuthorizationCodeStore returns a store writing under prefix. retention
// is how long a record outlives its expiry in Redis when no sweep runs.
func NewAuthorizationCodeStore(redisClient redis.UniversalClient, prefix string, retention time.Duration, now func() time.Time) *AuthorizationCodeStore {
	if prefix == "" {
		prefix = "acode"
	}
	if retention <= 0 {
		retention = time.Hour
	}
	if now == nil {
		now = time.Now
	}
	return &AuthorizationCodeStore{redis: redisClient, prefix: prefix, retention: retention, now: now}
}

func (s *AuthorizationCodeStore) key(codeHash [32]byte) string {
	return s.prefix + ":" + internal.KeyFragment(codeHash)
}

func (s *AuthorizationCodeStore) indexKey() string {
	return s.prefix + ":expiry"
}

// Save persists a freshly issued code. The record is always written as
// Issued regardless of rec.State.
func (s *AuthorizationCodeStore) Save(ctx context.Context, codeHash [32]byte, rec *AuthorizationCode) error {
	if rec == nil || rec.ClientID == "" || rec.Subject == "" || rec.RedirectURI == "" {
		return errors.New("authorization code record incomplete")
	}
	stored := *rec
	stored.State = StateIssued
	encoded, err := encodeAuthorizationCode(&stored)
	if err != nil {
		return err
	}

	ttl := retentionTTL(stored.ExpiresAt, s.now(), s.retention)
	var created *redis.BoolCmd
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		created = pipe.SetNX(ctx, s.key(codeHash), encoded, ttl)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(stored.ExpiresAt), Member: internal.KeyFragment(codeHash)})
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCodeBackend, err)
	}
	if !created.Val() {
		return ErrRecordExists
	}
	return nil
}

// Get returns the record with its expiry folded into State. It never
// mutates the record.
func (s *AuthorizationCodeStore) Get(ctx context.Context, codeHash [32]byte) (*AuthorizationCode, error) {
	data, err := s.redis.Get(ctx, s.key(codeHash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCodeNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrCodeBackend, err)
	}
	rec, err := decodeAuthorizationCode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCodeBackend, err)
	}
	rec.State = effectiveState(rec.State, rec.ExpiresAt, s.now())
	return rec, nil
}

// Consume atomically checks and redeems a code. Checks run in a fixed
// order: existence, prior use, expiry, client, redirect URI. A failed client
// or redirect check leaves the code redeemable by its rightful holder.
// Exactly one of any number of concurrent callers can succeed.
func (s *AuthorizationCodeStore) Consume(ctx context.Context, codeHash [32]byte, clientID, redirectURI string) (*AuthorizationCode, error) {
	const maxRetries = 8
	key := s.key(codeHash)

	for i := 0; i < maxRetries; i++ {
		var out *AuthorizationCode
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			rec, err := decodeAuthorizationCode(data)
			if err != nil {
				return err
			}

			switch effectiveState(rec.State, rec.ExpiresAt, s.now()) {
			case StateExchanged:
				return ErrCodeAlreadyUsed
			case StateExpired:
				return ErrCodeExpired
			case StateRevoked:
				return ErrCodeRevoked
			}
			if rec.ClientID != clientID {
				return ErrCodeClientMismatch
			}
			if rec.RedirectURI != redirectURI {
				return ErrCodeRedirectMismatch
			}

			next, err := Transition(rec.State, EventExchange)
			if err != nil {
				return ErrCodeAlreadyUsed
			}
			rec.State = next
			updated, err := encodeAuthorizationCode(rec)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, redis.KeepTTL)
				return nil
			})
			if err != nil {
				return err
			}
			out = rec
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, ErrCodeNotFound
			case errors.Is(err, ErrCodeAlreadyUsed),
				errors.Is(err, ErrCodeExpired),
				errors.Is(err, ErrCodeRevoked),
				errors.Is(err, ErrCodeClientMismatch),
				errors.Is(err, ErrCodeRedirectMismatch):
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrCodeBackend, err)
		}
		return out, nil
	}

	// Every retry lost the race to another consumer.
	return nil, ErrCodeAlreadyUsed
}

// Sweep deletes up to batch records whose expiry is at or before now.
func (s *AuthorizationCodeStore) Sweep(ctx context.Context, batch int64) (int, error) {
	n, err := sweepExpired(ctx, s.redis, s.indexKey(), s.prefix+":", batch, s.now(), func(data []byte) (int64, error) {
		rec, err := decodeAuthorizationCode(data)
		if err != nil {
			return 0, err
		}
		return rec.ExpiresAt, nil
	})
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrCodeBackend, err)
	}
	return n, nil
}

func encodeAuthorizationCode(rec *AuthorizationCode) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeHeader(&buf, recordHeader{State: rec.State, IssuedAt: rec.IssuedAt, ExpiresAt: rec.ExpiresAt}); err != nil {
		return nil, err
	}
	for _, s := range []string{rec.ClientID, rec.Subject, rec.RedirectURI} {
		if err := writeString(&buf, s); err != nil {
			return nil, err
		}
	}
	if err := writeScope(&buf, rec.Scope); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeAuthorizationCode(data []byte) (*AuthorizationCode, error) {
	r := bytes.NewReader(data)
	h, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	rec := &AuthorizationCode{State: h.State, IssuedAt: h.IssuedAt, ExpiresAt: h.ExpiresAt}
	if rec.ClientID, err = readString(r); err != nil {
		return nil, err
	}
	if rec.Subject, err = readString(r); err != nil {
		return nil, err
	}
	if rec.RedirectURI, err = readString(r); err != nil {
		return nil, err
	}
	if rec.Scope, err = readScope(r); err != nil {
		return nil, err
	}
	if r.Len() != 0 {
		return nil, errCorruptRecord
	}
	return rec, nil
}
