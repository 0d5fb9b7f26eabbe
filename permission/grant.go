package permission

import (
	"errors"
	"fmt"
	"strings"
)

// Any matches every resource type or every resource value in a grant.
const Any = "*"

// Level is an ordered access level. A higher level implies every lower one.
type Level uint8

const (
	// Read allows viewing a resource.
	Read Level = iota
	// Write allows modifying a resource and implies Read.
	Write
)

func (l Level) String() string {
	switch l {
	case Read:
		return "read"
	case Write:
		return "write"
	default:
		return fmt.Sprintf("level(%d)", uint8(l))
	}
}

// Implies reports whether holding l satisfies a requirement of want.
func (l Level) Implies(want Level) bool {
	return l >= want
}

// MarshalText encodes the level as "read" or "write".
func (l Level) MarshalText() ([]byte, error) {
	if l > Write {
		return nil, fmt.Errorf("invalid permission level %d", uint8(l))
	}
	return []byte(l.String()), nil
}

func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ParseLevel maps "read" and "write" to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "read":
		return Read, nil
	case "write":
		return Write, nil
	default:
		return 0, fmt.Errorf("invalid permission level %q", s)
	}
}

// ResourceType tags the kind of resource a grant covers.
type ResourceType string

const (
	// Event covers individual events by event id.
	Event ResourceType = "event"
	// Page covers administrative pages such as "admins" or "keys".
	Page ResourceType = "page"
	// App covers OAuth client applications by client id.
	App ResourceType = "app"
	// AnyType matches every resource type. Only meaningful with value "*".
	AnyType ResourceType = Any
)

// ParseResourceType validates s as a known resource type.
func ParseResourceType(s string) (ResourceType, error) {
	switch t := ResourceType(strings.ToLower(strings.TrimSpace(s))); t {
	case Event, Page, App, AnyType:
		return t, nil
	default:
		return "", fmt.Errorf("invalid resource type %q", s)
	}
}

// Grant is one permission held by an admin.
type Grant struct {
	AdminEmail string       `json:"admin_email"`
	Type       ResourceType `json:"type"`
	Value      string       `json:"value"`
	Level      Level        `json:"level"`
	GrantedBy  string       `json:"granted_by,omitempty"`
}

// Validate checks the grant tuple shape.
func (g Grant) Validate() error {
	if g.AdminEmail == "" {
		return errors.New("grant admin email is required")
	}
	if _, err := ParseResourceType(string(g.Type)); err != nil {
		return err
	}
	if g.Value == "" {
		return errors.New("grant value is required")
	}
	if g.Type == AnyType && g.Value != Any {
		return errors.New("wildcard type requires wildcard value")
	}
	if g.Level > Write {
		return fmt.Errorf("invalid permission level %d", g.Level)
	}
	return nil
}

// Covers reports whether g names the (typ, value) resource.
//
// Matching forms: (*, *), (typ, *), (typ, value).
func (g Grant) Covers(typ ResourceType, value string) bool {
	if g.Type == AnyType && g.Value == Any {
		return true
	}
	if g.Type != typ {
		return false
	}
	return g.Value == Any || g.Value == value
}

// SameTarget reports whether g and other name the same resource and level.
func (g Grant) SameTarget(other Grant) bool {
	return g.Type == other.Type && g.Value == other.Value && g.Level == other.Level
}

// Allows reports whether any grant covers (typ, value) at a level that
// implies want.
func Allows(grants []Grant, typ ResourceType, value string, want Level) bool {
	for _, g := range grants {
		if g.Covers(typ, value) && g.Level.Implies(want) {
			return true
		}
	}
	return false
}
