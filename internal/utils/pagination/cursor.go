package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Cursor is the opaque pagination state we encode/decode.
// ID + CreatedNanos establish a stable position in a newest-first listing.
// The timestamp keeps full precision; rows created within the same
// millisecond would otherwise fall between pages.
type Cursor struct {
	ID           uint64 `json:"id"`
	CreatedNanos int64  `json:"created_ns,omitempty"`
}

// At builds the cursor for the row identified by id and createdAt.
func At(id uint64, createdAt time.Time) Cursor {
	return Cursor{ID: id, CreatedNanos: createdAt.UnixNano()}
}

// CreatedAt is the cursor's timestamp in UTC.
func (c Cursor) CreatedAt() time.Time {
	return time.Unix(0, c.CreatedNanos).UTC()
}

// IsZero reports whether the cursor points at the first page.
func (c Cursor) IsZero() bool {
	return c.ID == 0 && c.CreatedNanos == 0
}

// Encode converts a Cursor into a Base64 string.
func Encode(c Cursor) (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal cursor: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// Decode parses a Base64 string into a Cursor.
// Empty token → empty cursor (first page).
func Decode(token string) (Cursor, error) {
	if token == "" {
		return Cursor{}, nil
	}

	b, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("invalid pagination token")
	}

	var c Cursor
	if err := json.Unmarshal(b, &c); err != nil {
		return Cursor{}, fmt.Errorf("invalid pagination token")
	}
	return c, nil
}
