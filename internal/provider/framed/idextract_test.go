package framed

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractSessionID_RootThreadID(t *testing.T) {
	id, ok := extractSessionID([]byte(`{"threadId":"t-1"}`))
	assert.True(t, ok)
	assert.Equal(t, "t-1", id)
}

func TestExtractSessionID_PreferenceOrder(t *testing.T) {
	// threadId outranks session_id when both are present at the root.
	id, ok := extractSessionID([]byte(`{"session_id":"s-1","threadId":"t-1"}`))
	assert.True(t, ok)
	assert.Equal(t, "t-1", id)
}

func TestExtractSessionID_NestedInMeta(t *testing.T) {
	id, ok := extractSessionID([]byte(`{"meta":{"sessionId":"s-2"}}`))
	assert.True(t, ok)
	assert.Equal(t, "s-2", id)
}

func TestExtractSessionID_NestedInContentItems(t *testing.T) {
	id, ok := extractSessionID([]byte(`{"content":[{"type":"text"},{"thread_id":"t-3"}]}`))
	assert.True(t, ok)
	assert.Equal(t, "t-3", id)
}

func TestExtractSessionID_NestedInData(t *testing.T) {
	id, ok := extractSessionID([]byte(`{"data":{"sessionId":"s-4"}}`))
	assert.True(t, ok)
	assert.Equal(t, "s-4", id)
}

func TestExtractSessionID_NoneFound(t *testing.T) {
	_, ok := extractSessionID([]byte(`{"foo":"bar"}`))
	assert.False(t, ok)
}

func TestExtractSessionID_MalformedJSON(t *testing.T) {
	_, ok := extractSessionID([]byte(`not json`))
	assert.False(t, ok)
}
