package memory

import (
	"errors"
	"fmt"
	"time"
)

// Type identifies which TTL-scoped store an entry belongs to.
type Type string

const (
	TypePreference Type = "preference"
	TypeContext    Type = "context"
	TypeCommand    Type = "command"
	TypeError      Type = "error"
)

// ErrUnknownType is returned when a request names a store that doesn't exist.
var ErrUnknownType = errors.New("memory: unknown memory type")

// ErrInvalidPayload is returned when a payload fails per-type validation.
var ErrInvalidPayload = errors.New("memory: invalid payload")

// Entry is one stored memory. ExpiresAt is nil for permanent entries.
type Entry struct {
	ID             string         `json:"id"`
	Type           Type           `json:"type"`
	Data           map[string]any `json:"data"`
	Tags           []string       `json:"tags"`
	Source         string         `json:"source,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
	ExpiresAt      *time.Time     `json:"expiresAt"`
	AccessCount    int            `json:"accessCount"`
	LastAccessedAt time.Time      `json:"lastAccessedAt"`
}

// policy fixes the retention rules for one store. ttl==0 means permanent,
// cap==0 means unbounded. dedupeKey names the payload field that identifies
// a logical entry; a save with the same key replaces the old entry.
type policy struct {
	ttl       time.Duration
	cap       int
	dedupeKey string
}

var policies = map[Type]policy{
	TypePreference: {ttl: 0, cap: 0, dedupeKey: "key"},
	TypeContext:    {ttl: 90 * 24 * time.Hour},
	TypeCommand:    {ttl: 7 * 24 * time.Hour, cap: 500},
	TypeError:      {ttl: 90 * 24 * time.Hour, cap: 200},
}

// AllTypes lists every store in a fixed order.
func AllTypes() []Type {
	return []Type{TypePreference, TypeContext, TypeCommand, TypeError}
}

// validatePayload enforces the minimum shape each store expects.
func validatePayload(t Type, data map[string]any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty data", ErrInvalidPayload)
	}
	requireString := func(field string) error {
		v, ok := data[field]
		if !ok {
			return fmt.Errorf("%w: %s payload missing %q", ErrInvalidPayload, t, field)
		}
		s, ok := v.(string)
		if !ok || s == "" {
			return fmt.Errorf("%w: %s payload field %q must be a non-empty string", ErrInvalidPayload, t, field)
		}
		return nil
	}
	switch t {
	case TypePreference:
		return requireString("key")
	case TypeCommand:
		return requireString("command")
	case TypeError:
		return requireString("message")
	case TypeContext:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
}
