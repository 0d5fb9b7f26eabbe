package stores

import (
	"errors"
	"time"
)

// State is the lifecycle position of a code or token record.
type State uint8

const (
	StateIssued State = iota + 1
	StateExchanged
	StateExpired
	StateRevoked
)

func (s State) String() string {
	switch s {
	case StateIssued:
		return "issued"
	case StateExchanged:
		return "exchanged"
	case StateExpired:
		return "expired"
	case StateRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

// Event drives a State transition.
type Event uint8

const (
	EventExchange Event = iota + 1
	EventRevoke
	EventExpire
)

var (
	ErrAlreadyExchanged = errors.New("record already exchanged")
	ErrRecordExpired    = errors.New("record expired")
	ErrRecordRevoked    = errors.New("record revoked")
	ErrInvalidState     = errors.New("invalid record state")
)

// Transition returns the state reached by applying ev to from.
//
// Exchange is only legal from Issued. Revoke and Expire are idempotent, and
// an expired record stays expired when revoked.
func Transition(from State, ev Event) (State, error) {
	switch ev {
	case EventExchange:
		switch from {
		case StateIssued:
			return StateExchanged, nil
		case StateExchanged:
			return from, ErrAlreadyExchanged
		case StateExpired:
			return from, ErrRecordExpired
		case StateRevoked:
			return from, ErrRecordRevoked
		}
	case EventRevoke:
		switch from {
		case StateIssued, StateExchanged, StateRevoked:
			return StateRevoked, nil
		case StateExpired:
			return StateExpired, nil
		}
	case EventExpire:
		switch from {
		case StateIssued:
			return StateExpired, nil
		case StateExchanged, StateExpired, StateRevoked:
			return from, nil
		}
	}
	return from, ErrInvalidState
}

// effectiveState folds wall-clock expiry into the stored state. Expiry is
// always decided by comparing expiresAt, never by the record's absence.
func effectiveState(stored State, expiresAt int64, now time.Time) State {
	if stored == StateIssued && now.Unix() >= expiresAt {
		next, _ := Transition(stored, EventExpire)
		return next
	}
	return stored
}
