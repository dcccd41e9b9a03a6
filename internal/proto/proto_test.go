package proto

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStreamEvent_Data(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		event StreamEvent
		want  string
	}{
		{"session init", SessionInitEvent("abc"), `{"type":"session_init","session_id":"abc"}`},
		{"first chunk", ChunkEvent("hi ", "abc", true), `{"session_id":"abc","text":"hi ","refresh_sessions":true}`},
		{"chunk", ChunkEvent("there ", "abc", false), `{"session_id":"abc","text":"there "}`},
		{"artifacts", ArtifactsEvent(2), `{"artifacts":2}`},
		{"error", ErrorEvent("boom"), `{"error":"boom"}`},
		{"done", DoneEvent(), `[DONE]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			data, err := tt.event.Data()
			require.NoError(t, err)
			require.Equal(t, tt.want, string(data))

			parsed, err := ParseStreamEvent(data)
			require.NoError(t, err)
			require.Equal(t, tt.event, parsed)
		})
	}
}

func TestTime_JSON(t *testing.T) {
	t.Parallel()

	ts := Time{time.UnixMicro(1700000000123456)}
	b, err := json.Marshal(ts)
	require.NoError(t, err)
	require.Equal(t, "1700000000.123456", string(b))

	var back Time
	require.NoError(t, json.Unmarshal(b, &back))
	require.True(t, ts.Equal(back.Time))

	b, err = json.Marshal(struct {
		At *Time `json:"at"`
	}{})
	require.NoError(t, err)
	require.JSONEq(t, `{"at":null}`, string(b))
}

func TestValidateMessage(t *testing.T) {
	t.Parallel()

	require.False(t, ValidateMessage(""))
	require.True(t, ValidateMessage("x"))
	require.True(t, ValidateMessage(string(make([]rune, MaxMessageLength))))
	require.False(t, ValidateMessage(string(make([]rune, MaxMessageLength+1))))
}
