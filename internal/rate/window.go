package rate

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultWindow is the trailing interval a per-minute rate is counted over.
	DefaultWindow = time.Minute
	// MaxRPM is the largest per-key rate accepted at configuration time.
	MaxRPM = 10000
)

// ValidateRPM accepts 0 (unlimited) through MaxRPM.
func ValidateRPM(rpm int) error {
	if rpm < 0 || rpm > MaxRPM {
		return ErrInvalidLimit
	}
	return nil
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed   bool
	Unlimited bool
	Limit     int
	Count     int
	Remaining int
	ResetAt   time.Time
}

func unlimitedDecision() Decision {
	return Decision{Allowed: true, Unlimited: true}
}

// Window is an in-memory sliding-window limiter. One mutex guards every
// queue; each call does work bounded by the key's limit.
type Window struct {
	mu     sync.Mutex
	size   time.Duration
	now    func() time.Time
	queues map[string][]time.Time
}

// NewWindow returns a limiter counting over size. A nil clock uses time.Now.
func NewWindow(size time.Duration, now func() time.Time) *Window {
	if size <= 0 {
		size = DefaultWindow
	}
	if now == nil {
		now = time.Now
	}
	return &Window{size: size, now: now, queues: make(map[string][]time.Time)}
}

// Allow admits one request for key when fewer than limit requests were
// admitted in the trailing window.
func (w *Window) Allow(_ context.Context, key string, limit int) (Decision, error) {
	if limit <= 0 {
		return unlimitedDecision(), nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	q := w.evictLocked(key, now)
	if len(q) < limit {
		q = append(q, now)
		w.queues[key] = q
		return Decision{
			Allowed:   true,
			Limit:     limit,
			Count:     len(q),
			Remaining: limit - len(q),
			ResetAt:   q[0].Add(w.size),
		}, nil
	}
	return Decision{
		Limit:   limit,
		Count:   len(q),
		ResetAt: q[0].Add(w.size),
	}, nil
}

// Stats reports the current window for key without admitting anything.
func (w *Window) Stats(_ context.Context, key string, limit int) (Decision, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	q := w.evictLocked(key, now)
	if len(q) == 0 {
		delete(w.queues, key)
	}
	if limit <= 0 {
		d := unlimitedDecision()
		d.Count = len(q)
		return d, nil
	}
	d := Decision{
		Allowed:   len(q) < limit,
		Limit:     limit,
		Count:     len(q),
		Remaining: max(0, limit-len(q)),
		ResetAt:   now.Add(w.size),
	}
	if len(q) > 0 {
		d.ResetAt = q[0].Add(w.size)
	}
	return d, nil
}

// Reset forgets every request recorded for key.
func (w *Window) Reset(_ context.Context, key string) error {
	w.mu.Lock()
	delete(w.queues, key)
	w.mu.Unlock()
	return nil
}

// Sweep evicts stale entries from every key and drops empty queues. It
// returns the number of keys removed.
func (w *Window) Sweep(_ context.Context) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	removed := 0
	for key := range w.queues {
		if len(w.evictLocked(key, now)) == 0 {
			delete(w.queues, key)
			removed++
		}
	}
	return removed, nil
}

// Len is the number of keys currently tracked.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queues)
}

// evictLocked drops entries older than now-size and stores the result.
func (w *Window) evictLocked(key string, now time.Time) []time.Time {
	q := w.queues[key]
	start := now.Add(-w.size)
	i := 0
	for i < len(q) && q[i].Before(start) {
		i++
	}
	if i > 0 {
		q = append(q[:0], q[i:]...)
		w.queues[key] = q
	}
	return q
}
