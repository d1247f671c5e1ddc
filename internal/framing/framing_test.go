package framing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReader_SingleFrame(t *testing.T) {
	r := NewReader()
	r.Feed(Encode([]byte(`{"a":1}`)))

	body, ok := r.Next()
	require.True(t, ok)
	assert.Equal(t, `{"a":1}`, string(body))

	_, ok = r.Next()
	assert.False(t, ok)
}

func TestReader_PartialChunksArbitraryBoundaries(t *testing.T) {
	r := NewReader()
	full := Encode([]byte(`{"hello":"world"}`))

	for i := 0; i < len(full); i++ {
		r.Feed(full[i : i+1])
		body, ok := r.Next()
		if i == len(full)-1 {
			require.True(t, ok)
			assert.Equal(t, `{"hello":"world"}`, string(body))
		} else {
			assert.False(t, ok)
		}
	}
}

func TestReader_MultipleFramesInOneFeed(t *testing.T) {
	r := NewReader()
	r.Feed(append(Encode([]byte(`{"n":1}`)), Encode([]byte(`{"n":2}`))...))

	b1, ok1 := r.Next()
	require.True(t, ok1)
	assert.Equal(t, `{"n":1}`, string(b1))

	b2, ok2 := r.Next()
	require.True(t, ok2)
	assert.Equal(t, `{"n":2}`, string(b2))

	_, ok3 := r.Next()
	assert.False(t, ok3)
}

func TestReader_MalformedHeaderSkipsAndResumes(t *testing.T) {
	r := NewReader()
	r.Feed([]byte("Content-Length: notanumber\r\n\r\n"))
	r.Feed(Encode([]byte(`{"ok":true}`)))

	body, ok := r.Next()
	require.True(t, ok)
	assert.Equal(t, `{"ok":true}`, string(body))
}

func TestReader_WaitsForFullBody(t *testing.T) {
	r := NewReader()
	r.Feed([]byte("Content-Length: 10\r\n\r\n12345"))

	_, ok := r.Next()
	assert.False(t, ok)

	r.Feed([]byte("67890"))
	body, ok := r.Next()
	require.True(t, ok)
	assert.Equal(t, "1234567890", string(body))
}
