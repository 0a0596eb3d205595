package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name     string
		msg      Message
		expected string
	}{
		{
			name:     "queued message sent",
			msg:      QueuedMessageSent{MessageID: "m1", Success: true},
			expected: `{"type":"QUEUED_MESSAGE_SENT","messageId":"m1","success":true}`,
		},
		{
			name:     "queued message failed",
			msg:      QueuedMessageSent{MessageID: "m1", Error: "max retries exceeded"},
			expected: `{"type":"QUEUED_MESSAGE_SENT","messageId":"m1","success":false,"error":"max retries exceeded"}`,
		},
		{
			name:     "notification click",
			msg:      NotificationClick{Action: "reply", SessionID: "s1", URL: "http://app/chat?session=s1&focus=input"},
			expected: `{"type":"NOTIFICATION_CLICK","action":"reply","sessionId":"s1","url":"http://app/chat?session=s1&focus=input"}`,
		},
		{
			name:     "controller changed",
			msg:      ControllerChanged{Version: "v2"},
			expected: `{"type":"CONTROLLER_CHANGED","version":"v2"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.msg)
			require.NoError(t, err)
			assert.JSONEq(t, tt.expected, string(data))
		})
	}
}

func TestDecode(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"ONLINE_STATUS_CHANGED","isOnline":true}`))
	require.NoError(t, err)
	assert.Equal(t, OnlineStatusChanged{IsOnline: true}, msg)
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode([]byte(`{"type":"SOMETHING_ELSE"}`))
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"type":"ONLINE_STATUS_CHANGED","isOnline":"yes"}`))
	assert.Error(t, err)
}
