package core

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInbound(t *testing.T) {
	tcs := []struct {
		name    string
		event   Event
		want    Inbound
		wantErr error
	}{
		{
			name:  "join_room with user",
			event: Event{Type: JoinRoomEvent, Payload: json.RawMessage(`{"gameId":"g1","user":{"id":"u1","username":"alice","avatar":"a.png"}}`)},
			want:  JoinRoom{GameID: "g1", User: &UserPayload{ID: "u1", Username: "alice", Avatar: "a.png"}},
		},
		{
			name:    "join_room without game",
			event:   Event{Type: JoinRoomEvent, Payload: json.RawMessage(`{"user":{}}`)},
			wantErr: ErrMalformedEvent,
		},
		{
			name:  "stop_typing",
			event: Event{Type: StopTypingEvent, Payload: json.RawMessage(`{"gameId":"g1","username":"alice"}`)},
			want:  Typing{GameID: "g1", Username: "alice", IsTyping: false},
		},
		{
			name:  "typing",
			event: Event{Type: TypingEvent, Payload: json.RawMessage(`{"gameId":"g1","username":"alice"}`)},
			want:  Typing{GameID: "g1", Username: "alice", IsTyping: true},
		},
		{
			name:  "join_dm_room with only user",
			event: Event{Type: JoinDMRoomEvent, Payload: json.RawMessage(`{"userId":"u1"}`)},
			want:  JoinDM{UserID: "u1"},
		},
		{
			name:    "join_dm_room empty",
			event:   Event{Type: JoinDMRoomEvent, Payload: json.RawMessage(`{}`)},
			wantErr: ErrMalformedEvent,
		},
		{
			name:    "send_dm null message",
			event:   Event{Type: SendDMEvent, Payload: json.RawMessage(`{"conversationId":"c1","message":null}`)},
			wantErr: ErrMalformedEvent,
		},
		{
			name:    "register_user wrong type",
			event:   Event{Type: RegisterUserEvent, Payload: json.RawMessage(`{"userId":42}`)},
			wantErr: ErrMalformedEvent,
		},
		{
			name:    "missing payload",
			event:   Event{Type: LeaveDMRoomEvent},
			wantErr: ErrMalformedEvent,
		},
		{
			name:    "unknown",
			event:   Event{Type: "disconnect", Payload: json.RawMessage(`{}`)},
			wantErr: ErrUnknownEvent,
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			got, err := DecodeInbound(&tc.event)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEncodeDecodeEvent(t *testing.T) {
	e, err := NewEvent(UserTypingEvent, TypingStatus{Username: "alice", IsTyping: true})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, EncodeEvent(&buf, e))
	assert.JSONEq(t, `{"type":"user_typing","payload":{"username":"alice","isTyping":true}}`, buf.String())

	var decoded Event
	require.NoError(t, DecodeEvent(&buf, &decoded))
	assert.Equal(t, UserTypingEvent, decoded.Type)
}
