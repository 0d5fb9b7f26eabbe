package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const consentRecordVersion1 byte = 1

var (
	ErrConsentNotFound        = errors.New("consent request not found")
	ErrConsentExpired         = errors.New("consent request expired")
	ErrConsentSubjectMismatch = errors.New("consent request belongs to another user")
	ErrConsentBackend         = errors.New("consent backend unavailable")
)

// PendingConsent holds a validated authorization request while the user
// decides. It is the only place the request parameters survive between the
// consent screen and the decision.
type PendingConsent struct {
	ClientID    string
	RedirectURI string
	State       string
	Subject     string
	Scope       []string
	ExpiresAt   int64
}

type PendingConsentStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewPendingConsentStore(redisClient redis.UniversalClient, prefix string, now func() time.Time) *PendingConsentStore {
	if prefix == "" {
		prefix = "aconsent"
	}
	if now == nil {
		now = time.Now
	}
	return &PendingConsentStore{redis: redisClient, prefix: prefix, now: now}
}

func (s *PendingConsentStore) key(consentID string) string {
	return s.prefix + ":" + consentID
}

func (s *PendingConsentStore) Save(ctx context.Context, consentID string, rec *PendingConsent, ttl time.Duration) error {
	if consentID == "" || rec == nil {
		return errors.New("consent request incomplete")
	}
	if ttl <= 0 {
		return errors.New("consent ttl must be > 0")
	}
	stored := *rec
	stored.ExpiresAt = s.now().Add(ttl).Unix()
	encoded, err := encodePendingConsent(&stored)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(consentID), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrConsentBackend, err)
	}
	return nil
}

// Peek returns the request without removing it, applying the same subject
// and expiry checks as Consume.
func (s *PendingConsentStore) Peek(ctx context.Context, consentID, subject string) (*PendingConsent, error) {
	data, err := s.redis.Get(ctx, s.key(consentID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrConsentNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrConsentBackend, err)
	}
	rec, err := decodePendingConsent(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConsentBackend, err)
	}
	if rec.Subject != subject {
		return nil, ErrConsentSubjectMismatch
	}
	if s.now().Unix() >= rec.ExpiresAt {
		return nil, ErrConsentExpired
	}
	return rec, nil
}

// Consume removes and returns the request. Only subject may consume it; a
// mismatched caller leaves the request in place.
func (s *PendingConsentStore) Consume(ctx context.Context, consentID, subject string) (*PendingConsent, error) {
	const maxRetries = 4
	key := s.key(consentID)

	for i := 0; i < maxRetries; i++ {
		var out *PendingConsent
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			rec, err := decodePendingConsent(data)
			if err != nil {
				return err
			}
			if rec.Subject != subject {
				return ErrConsentSubjectMismatch
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				return nil
			})
			if err != nil {
				return err
			}
			if s.now().Unix() >= rec.ExpiresAt {
				return ErrConsentExpired
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
				return nil, ErrConsentNotFound
			case errors.Is(err, ErrConsentExpired), errors.Is(err, ErrConsentSubjectMismatch):
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrConsentBackend, err)
		}
		return out, nil
	}
	return nil, ErrConsentNotFound
}

func encodePendingConsent(rec *PendingConsent) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(consentRecordVersion1)
	if err := binary.Write(&buf, binary.BigEndian, rec.ExpiresAt); err != nil {
		return nil, err
	}
	for _, s := range []string{rec.ClientID, rec.RedirectURI, rec.State, rec.Subject} {
		if err := writeString(&buf, s); err != nil {
			return nil, err
		}
	}
	if err := writeScope(&buf, rec.Scope); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodePendingConsent(data []byte) (*PendingConsent, error) {
	r := bytes.NewReader(data)
	version, err := r.ReadByte()
	if err != nil || version != consentRecordVersion1 {
		return nil, errCorruptRecord
	}
	rec := &PendingConsent{}
	if err := binary.Read(r, binary.BigEndian, &rec.ExpiresAt); err != nil {
		return nil, errCorruptRecord
	}
	fields := []*string{&rec.ClientID, &rec.RedirectURI, &rec.State, &rec.Subject}
	for _, f := range fields {
		if *f, err = readString(r); err != nil {
			return nil, err
		}
	}
	if rec.Scope, err = readScope(r); err != nil {
		return nil, err
	}
	return rec, nil
}
