package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOutbound(t *testing.T) {
	msg, err := ParseOutbound([]byte(`{"content":"hi","sessionId":"s1","replyTo":"m-9","attachments":[1,2]}`))
	require.NoError(t, err)

	assert.Equal(t, "hi", msg.Content)
	assert.Equal(t, "s1", msg.SessionID)
	assert.JSONEq(t, `"m-9"`, string(msg.Extra["replyTo"]))
	assert.JSONEq(t, `[1,2]`, string(msg.Extra["attachments"]))
	assert.NotContains(t, msg.Extra, "content")
}

func TestParseOutbound_Invalid(t *testing.T) {
	tests := map[string]string{
		"not json":          `hello`,
		"array":             `[1]`,
		"numeric content":   `{"content":1}`,
		"object session id": `{"content":"x","sessionId":{}}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseOutbound([]byte(body))
			assert.Error(t, err)
		})
	}
}

func TestParseOutbound_MissingContent(t *testing.T) {
	for _, body := range []string{`{}`, `null`, `{"content":""}`, `{"sessionId":"s1"}`} {
		t.Run(body, func(t *testing.T) {
			_, err := ParseOutbound([]byte(body))
			assert.ErrorIs(t, err, ErrMissingContent)
		})
	}
}

func TestQueuedMessage_CallerCannotOverrideQueueFields(t *testing.T) {
	msg, err := ParseOutbound([]byte(`{"content":"x","retryCount":9,"id":"forged","timestamp":1}`))
	require.NoError(t, err)
	assert.Empty(t, msg.Extra)
	assert.Zero(t, msg.RetryCount)
	assert.Empty(t, msg.ID)
}

func TestQueuedMessage_Payload(t *testing.T) {
	msg := &QueuedMessage{
		ID:        "1700000000000-abc",
		Content:   "hi",
		SessionID: "s1",
		Extra:     map[string]json.RawMessage{"kind": json.RawMessage(`"text"`)},
		Timestamp: 1700000000000,
	}

	body, err := msg.Payload()
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"1700000000000-abc","content":"hi","sessionId":"s1","kind":"text"}`, string(body))
}

func TestQueuedMessage_JSONFlattensExtra(t *testing.T) {
	msg := QueuedMessage{
		ID:         "id-1",
		Content:    "hello",
		SessionID:  "s2",
		Extra:      map[string]json.RawMessage{"kind": json.RawMessage(`"text"`)},
		Timestamp:  42,
		RetryCount: 2,
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"id-1","content":"hello","sessionId":"s2","kind":"text","timestamp":42,"retryCount":2}`, string(data))

	var decoded QueuedMessage
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, msg.ID, decoded.ID)
	assert.Equal(t, msg.RetryCount, decoded.RetryCount)
	assert.JSONEq(t, `"text"`, string(decoded.Extra["kind"]))
}
