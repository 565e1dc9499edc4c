// Package content models catalog items: canonical ids, media types and the
// display metadata fetched from the external catalog.
package content

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MediaType distinguishes catalog endpoints.
type MediaType string

const (
	MediaMovie MediaType = "movie"
	MediaTV    MediaType = "tv"
)

// ParseMediaType accepts the spellings clients send.
func ParseMediaType(s string) (MediaType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "movie", "film":
		return MediaMovie, nil
	case "tv", "series", "show", "episode":
		return MediaTV, nil
	}
	return "", fmt.Errorf("unknown media type %q", s)
}

// ParseID coerces a raw content id into its canonical numeric form.
// Clients send catalog ids as strings or JSON numbers, sometimes with a
// trailing ".0"; anything that is not a positive whole number is rejected.
func ParseID(raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, fmt.Errorf("missing content id")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("content id %q must be positive", raw)
		}
		return n, nil
	}
	// float64(math.MaxInt64) rounds up to 2^63, which no int64 can hold
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) || f != math.Trunc(f) || f <= 0 || f >= 1<<63 {
		return 0, fmt.Errorf("content id %q is not numeric", raw)
	}
	return int64(f), nil
}

// FormatID renders a canonical id.
func FormatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// RawID is a content id as it arrives over the wire: a JSON string or number.
type RawID string

func (r *RawID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*r = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = RawID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("content id must be a string or number: %w", err)
	}
	*r = RawID(n.String())
	return nil
}
