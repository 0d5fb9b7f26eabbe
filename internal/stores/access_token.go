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
	ErrTokenNotFound = errors.New("access token not found")
	ErrTokenExpired  = errors.New("access token expired")
	ErrTokenRevoked  = errors.New("access token revoked")
	ErrTokenBackend  = errors.New("access token backend unavailable")
)

// AccessToken is the server-side record behind a token's jti.
type AccessToken struct {
	ClientID  string
	Subject   string
	Scope     []string
	IssuedAt  int64
	ExpiresAt int64
	State     State
}

// AccessTokenStore keeps access token records keyed by the hashed jti.
type AccessTokenStore struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
	now       func() time.Time
}

// NewAccessTokenStore mirrors NewAuthorizationCodeStore.
func NewAccessTokenStore(redisClient redis.UniversalClient, prefix string, retention time.Duration, now func() time.Time) *AccessTokenStore {
	if prefix == "" {
		prefix = "atok"
	}
	if retention <= 0 {
		retention = time.Hour
	}
	if now == nil {
		now = time.Now
	}
	return &AccessTokenStore{redis: redisClient, prefix: prefix, retention: retention, now: now}
}

func (s *AccessTokenStore) key(idHash [32]byte) string {
	return s.prefix + ":" + internal.KeyFragment(idHash)
}

func (s *AccessTokenStore) indexKey() string {
	return s.prefix + ":expiry"
}

func (s *AccessTokenStore) Save(ctx context.Context, idHash [32]byte, rec *AccessToken) error {
	if rec == nil || rec.ClientID == "" || rec.Subject == "" {
		return errors.New("access token record incomplete")
	}
	stored := *rec
	stored.State = StateIssued
	encoded, err := encodeAccessToken(&stored)
	if err != nil {
		return err
	}

	ttl := retentionTTL(stored.ExpiresAt, s.now(), s.retention)
	var created *redis.BoolCmd
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		created = pipe.SetNX(ctx, s.key(idHash), encoded, ttl)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(stored.ExpiresAt), Member: internal.KeyFragment(idHash)})
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTokenBackend, err)
	}
	if !created.Val() {
		return ErrRecordExists
	}
	return nil
}

// Lookup returns the record with its expiry folded into State, whatever
// that state is. Verify is the caller that enforces it.
func (s *AccessTokenStore) Lookup(ctx context.Context, idHash [32]byte) (*AccessToken, error) {
	data, err := s.redis.Get(ctx, s.key(idHash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenBackend, err)
	}
	rec, err := decodeAccessToken(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenBackend, err)
	}
	rec.State = effectiveState(rec.State, rec.ExpiresAt, s.now())
	return rec, nil
}

// Verify returns the record only when it is live.
func (s *AccessTokenStore) Verify(ctx context.Context, idHash [32]byte) (*AccessToken, error) {
	rec, err := s.Lookup(ctx, idHash)
	if err != nil {
		return nil, err
	}
	switch rec.State {
	case StateIssued:
		return rec, nil
	case StateRevoked:
		return nil, ErrTokenRevoked
	case StateExpired:
		return nil, ErrTokenExpired
	default:
		return nil, fmt.Errorf("%w: %s", ErrInvalidState, rec.State)
	}
}

// Revoke flips the record to Revoked. Revoking an unknown, expired or
// already revoked token succeeds without change.
func (s *AccessTokenStore) Revoke(ctx context.Context, idHash [32]byte) (bool, error) {
	const maxRetries = 8
	key := s.key(idHash)

	for i := 0; i < maxRetries; i++ {
		var changed bool
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return nil
				}
				return err
			}
			rec, err := decodeAccessToken(data)
			if err != nil {
				return err
			}
			current := effectiveState(rec.State, rec.ExpiresAt, s.now())
			next, err := Transition(current, EventRevoke)
			if err != nil {
				return err
			}
			if next == rec.State || current == StateExpired {
				return nil
			}
			rec.State = next
			updated, err := encodeAccessToken(rec)
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
			changed = true
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrTokenBackend, err)
		}
		return changed, nil
	}
	return false, fmt.Errorf("%w: revoke contention", ErrTokenBackend)
}

// Sweep deletes up to batch records whose expiry is at or before now.
func (s *AccessTokenStore) Sweep(ctx context.Context, batch int64) (int, error) {
	n, err := sweepExpired(ctx, s.redis, s.indexKey(), s.prefix+":", batch, s.now(), func(data []byte) (int64, error) {
		rec, err := decodeAccessToken(data)
		if err != nil {
			return 0, err
		}
		return rec.ExpiresAt, nil
	})
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrTokenBackend, err)
	}
	return n, nil
}

func encodeAccessToken(rec *AccessToken) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeHeader(&buf, recordHeader{State: rec.State, IssuedAt: rec.IssuedAt, ExpiresAt: rec.ExpiresAt}); err != nil {
		return nil, err
	}
	if err := writeString(&buf, rec.ClientID); err != nil {
		return nil, err
	}
	if err := writeString(&buf, rec.Subject); err != nil {
		return nil, err
	}
	if err := writeScope(&buf, rec.Scope); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeAccessToken(data []byte) (*AccessToken, error) {
	r := bytes.NewReader(data)
	h, err := readHeader(r)
	if err != nil {
		return nil, err
	}
	rec := &AccessToken{State: h.State, IssuedAt: h.IssuedAt, ExpiresAt: h.ExpiresAt}
	if rec.ClientID, err = readString(r); err != nil {
		return nil, err
	}
	if rec.Subject, err = readString(r); err != nil {
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
