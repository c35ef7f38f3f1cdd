// Package pagination provides keyset cursors for newest-first listings.
package pagination

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// Default and maximum page sizes.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Cursor is the (createdAt, id) key of the last item on a page.
// CreatedAt is in ms since epoch.
type Cursor struct {
	CreatedAt int64
	ID        string
}

// Encode returns an opaque cursor string from a timestamp and ID.
func Encode(createdAt int64, id string) string {
	raw := fmt.Sprintf("%d|%s", createdAt, id)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Decode parses an opaque cursor string. Returns nil for empty input.
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor")
	}
	ts, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return nil, fmt.Errorf("invalid cursor")
	}
	ms, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor")
	}
	return &Cursor{CreatedAt: ms, ID: id}, nil
}

// Before reports whether (createdAt, id) sorts after the cursor in a
// newest-first listing, i.e. belongs on the next page.
func (c *Cursor) Before(createdAt int64, id string) bool {
	if c == nil {
		return true
	}
	if createdAt != c.CreatedAt {
		return createdAt < c.CreatedAt
	}
	return id < c.ID
}

// ParseLimit reads a page size, falling back to DefaultLimit and capping at
// MaxLimit.
func ParseLimit(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return DefaultLimit
	}
	return min(n, MaxLimit)
}

// ComputePage takes items fetched with limit+1, trims them to limit and
// returns the next cursor when more remain.
func ComputePage[T any](items []T, limit int, extractKey func(T) (int64, string)) ([]T, string, bool) {
	if len(items) <= limit {
		return items, "", false
	}
	items = items[:limit]
	createdAt, id := extractKey(items[len(items)-1])
	return items, Encode(createdAt, id), true
}
