package content

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseID(t *testing.T) {
	valid := map[string]int64{
		"100":                 100,
		" 42 ":                42,
		"550.0":               550,
		"1e3":                 1000,
		"000123":              123,
		"9223372036854775807": math.MaxInt64,
		"9.2e18":              9200000000000000000,
	}
	for in, want := range valid {
		got, err := ParseID(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "  ", "abc", "12.5", "-3", "0", "NaN", "tt0137523"} {
		_, err := ParseID(in)
		assert.Error(t, err, in)
	}
}

func TestParseIDRejectsOverflow(t *testing.T) {
	for _, in := range []string{
		"9223372036854775808",
		"9223372036854775808.0",
		"9.223372036854775808e18",
		"1e19",
		"Inf",
	} {
		_, err := ParseID(in)
		assert.Error(t, err, in)
	}
}

func TestParseMediaType(t *testing.T) {
	mt, err := ParseMediaType("Movie")
	require.NoError(t, err)
	assert.Equal(t, MediaMovie, mt)

	mt, err = ParseMediaType("series")
	require.NoError(t, err)
	assert.Equal(t, MediaTV, mt)

	_, err = ParseMediaType("podcast")
	assert.Error(t, err)
}

func TestRawIDAcceptsStringOrNumber(t *testing.T) {
	var body struct {
		A RawID `json:"a"`
		B RawID `json:"b"`
		C RawID `json:"c"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"100","b":100,"c":null}`), &body))
	assert.Equal(t, RawID("100"), body.A)
	assert.Equal(t, RawID("100"), body.B)
	assert.Equal(t, RawID(""), body.C)

	assert.Error(t, json.Unmarshal([]byte(`{"a":true}`), &body))
}
