package pagination

import (
	"encoding/base64"
	"fmt"
	"strings"
)

const (
	// DefaultLimit is the standard page size when a limit is not provided.
	DefaultLimit = 25
	// MaxLimit caps how many rows any cursor query can request.
	MaxLimit = 100

	keySeparator = "\x1f"
)

// Params holds cursor pagination inputs from controllers or services.
type Params struct {
	Limit  int
	Cursor string
}

// Cursor is the natural key of the last row on the previous page.
type Cursor struct {
	Key []string
}

// NormalizeLimit enforces the configured default and maximum limits.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// LimitWithBuffer returns the normalization result plus one to detect the next page.
func LimitWithBuffer(limit int) int {
	return NormalizeLimit(limit) + 1
}

// EncodeCursor builds an opaque cursor string from the key parts.
func EncodeCursor(cursor Cursor) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strings.Join(cursor.Key, keySeparator)))
}

// ParseCursor decodes the cursor string and checks it carries want key parts.
// An empty value yields a nil cursor.
func ParseCursor(value string, want int) (*Cursor, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}

	decoded, err := base64.RawURLEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	parts := strings.Split(string(decoded), keySeparator)
	if len(parts) != want {
		return nil, fmt.Errorf("invalid cursor format")
	}
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("invalid cursor format")
		}
	}
	return &Cursor{Key: parts}, nil
}
