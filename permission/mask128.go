package permission

// Mask128 is a 128-bit set of registered API-key permissions.
type Mask128 struct {
	A uint64
	B uint64
}

// Has reports whether bit is set. If rootReserved is true and the root bit
// is set, Has returns true for every bit.
func (m Mask128) Has(bit int, rootReserved bool) bool {
	if bit < 0 || bit >= 128 {
		return false
	}

	if rootReserved && m.B&(1<<63) != 0 {
		return true
	}

	if bit < 64 {
		return m.A&(1<<bit) != 0
	}
	return m.B&(1<<(bit-64)) != 0
}

// Set sets bit in the mask.
func (m *Mask128) Set(bit int) {
	if bit < 0 || bit >= 128 {
		return
	}

	if bit < 64 {
		m.A |= 1 << bit
	} else {
		m.B |= 1 << (bit - 64)
	}
}

// Clear clears bit in the mask.
func (m *Mask128) Clear(bit int) {
	if bit < 0 || bit >= 128 {
		return
	}

	if bit < 64 {
		m.A &^= 1 << bit
	} else {
		m.B &^= 1 << (bit - 64)
	}
}

// Intersects reports whether m and other share at least one bit. A set root
// bit on m matches any non-empty other.
func (m Mask128) Intersects(other Mask128, rootReserved bool) bool {
	if other.IsZero() {
		return false
	}
	if rootReserved && m.B&(1<<63) != 0 {
		return true
	}
	return m.A&other.A != 0 || m.B&other.B != 0
}

// IsZero reports whether no bit is set.
func (m Mask128) IsZero() bool {
	return m.A == 0 && m.B == 0
}
