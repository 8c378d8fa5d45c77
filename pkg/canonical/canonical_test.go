package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBytesSortsKeys(t *testing.T) {
	out, err := Bytes([]byte(`{"b": 2, "a": 1}`))
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2}`, string(out))
}

func TestETagStableAcrossFormatting(t *testing.T) {
	a := ETag([]byte(`{"b": 2, "a": 1}`))
	b := ETag([]byte(`{"a":1,"b":2}`))
	assert.Equal(t, a, b)
	assert.Regexp(t, `^"[0-9a-f]{64}"$`, a)
}

func TestETagNonJSON(t *testing.T) {
	a := ETag([]byte("plain text"))
	b := ETag([]byte("plain text"))
	c := ETag([]byte("other text"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestMarshal(t *testing.T) {
	out, err := Marshal(map[string]int{"z": 1, "a": 2})
	require.NoError(t, err)
	assert.Equal(t, `{"a":2,"z":1}`, string(out))
}
