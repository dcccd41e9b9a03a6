package proto

import (
	"bytes"
	"encoding/json"
)

// StreamEventKind identifies what a [StreamEvent] carries. It is not part of
// the wire encoding; clients tell events apart by their fields.
type StreamEventKind string

const (
	StreamSessionInit StreamEventKind = "session_init"
	StreamChunk       StreamEventKind = "chunk"
	StreamArtifacts   StreamEventKind = "artifacts"
	StreamError       StreamEventKind = "error"
	StreamDone        StreamEventKind = "done"
)

// DoneMarker is the literal payload of the terminal success event.
const DoneMarker = "[DONE]"

// StreamEvent is one Server-Sent Event of a chat stream.
type StreamEvent struct {
	Kind            StreamEventKind `json:"-"`
	Type            string          `json:"type,omitempty"`
	SessionID       string          `json:"session_id,omitempty"`
	Text            string          `json:"text,omitempty"`
	RefreshSessions bool            `json:"refresh_sessions,omitempty"`
	Artifacts       int             `json:"artifacts,omitempty"`
	Error           string          `json:"error,omitempty"`
}

func SessionInitEvent(sessionID string) StreamEvent {
	return StreamEvent{Kind: StreamSessionInit, Type: string(StreamSessionInit), SessionID: sessionID}
}

func ChunkEvent(text, sessionID string, refresh bool) StreamEvent {
	return StreamEvent{Kind: StreamChunk, Text: text, SessionID: sessionID, RefreshSessions: refresh}
}

func ArtifactsEvent(n int) StreamEvent {
	return StreamEvent{Kind: StreamArtifacts, Artifacts: n}
}

func ErrorEvent(msg string) StreamEvent {
	return StreamEvent{Kind: StreamError, Error: msg}
}

func DoneEvent() StreamEvent {
	return StreamEvent{Kind: StreamDone}
}

// Data returns the payload written after "data: " on the wire.
func (e StreamEvent) Data() ([]byte, error) {
	if e.Kind == StreamDone {
		return []byte(DoneMarker), nil
	}
	return json.Marshal(e)
}

// ParseStreamEvent decodes an SSE data payload back into a [StreamEvent].
func ParseStreamEvent(data []byte) (StreamEvent, error) {
	data = bytes.TrimSpace(data)
	if string(data) == DoneMarker {
		return DoneEvent(), nil
	}
	var e StreamEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return StreamEvent{}, err
	}
	switch {
	case e.Type == string(StreamSessionInit):
		e.Kind = StreamSessionInit
	case e.Error != "":
		e.Kind = StreamError
	case e.Artifacts > 0:
		e.Kind = StreamArtifacts
	default:
		e.Kind = StreamChunk
	}
	return e, nil
}
