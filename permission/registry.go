package permission

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Wildcard is the API-key permission that satisfies every registered
// permission. It occupies the reserved root bit.
const Wildcard = "*"

const registryBits = 128

var (
	// ErrUnknownPermission is returned when a name was never registered.
	ErrUnknownPermission = errors.New("unknown permission")
	// ErrRegistryFrozen is returned by Register after Freeze.
	ErrRegistryFrozen = errors.New("registry frozen")
)

// Registry maps API-key permission names (for example "events.register")
// to bit positions in a [Mask128].
type Registry struct {
	rootReserved bool
	rootBit      int

	mu        sync.RWMutex
	nameToBit map[string]int
	bitToName map[int]string
	frozen    bool
}

// NewRegistry creates an empty registry. When allowWildcard is true the
// highest bit is reserved for [Wildcard].
func NewRegistry(allowWildcard bool) *Registry {
	r := &Registry{
		rootReserved: allowWildcard,
		rootBit:      registryBits - 1,
		nameToBit:    make(map[string]int),
		bitToName:    make(map[int]string),
	}
	if allowWildcard {
		r.nameToBit[Wildcard] = r.rootBit
		r.bitToName[r.rootBit] = Wildcard
	}
	return r
}

// Register assigns the next free bit to name and returns it.
func (r *Registry) Register(name string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return -1, ErrRegistryFrozen
	}
	if name == "" {
		return -1, errors.New("permission name cannot be empty")
	}
	if name == Wildcard {
		return -1, errors.New("wildcard permission is reserved")
	}
	if _, exists := r.nameToBit[name]; exists {
		return -1, fmt.Errorf("permission %q already registered", name)
	}

	nextBit := len(r.nameToBit)
	if r.rootReserved {
		nextBit--
	}
	if r.rootReserved && nextBit >= r.rootBit {
		return -1, errors.New("permission limit exceeded (root bit reserved)")
	}
	if nextBit >= registryBits {
		return -1, errors.New("permission limit exceeded")
	}

	r.nameToBit[name] = nextBit
	r.bitToName[nextBit] = name

	return nextBit, nil
}

// Freeze prevents further registrations.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Bit returns the bit index for name.
func (r *Registry) Bit(name string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bit, ok := r.nameToBit[name]
	return bit, ok
}

// Mask builds the set for names. Any unregistered name fails the whole call.
func (r *Registry) Mask(names []string) (Mask128, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var m Mask128
	for _, name := range names {
		bit, ok := r.nameToBit[name]
		if !ok {
			return Mask128{}, fmt.Errorf("%w: %q", ErrUnknownPermission, name)
		}
		m.Set(bit)
	}
	return m, nil
}

// MaskKnown builds the set for names, skipping unregistered ones. Stored
// keys may carry permissions that were later removed from the catalogue.
func (r *Registry) MaskKnown(names []string) Mask128 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var m Mask128
	for _, name := range names {
		if bit, ok := r.nameToBit[name]; ok {
			m.Set(bit)
		}
	}
	return m
}

// AnyOf reports whether held satisfies at least one of required.
func (r *Registry) AnyOf(held Mask128, required Mask128) bool {
	return held.Intersects(required, r.rootReserved)
}

// Names returns the registered permission names in bit order, excluding
// the wildcard.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	bits := make([]int, 0, len(r.bitToName))
	for bit, name := range r.bitToName {
		if name == Wildcard {
			continue
		}
		bits = append(bits, bit)
	}
	sort.Ints(bits)

	out := make([]string, len(bits))
	for i, bit := range bits {
		out[i] = r.bitToName[bit]
	}
	return out
}

// Count returns the number of registered permissions, excluding the wildcard.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.rootReserved {
		return len(r.nameToBit) - 1
	}
	return len(r.nameToBit)
}
