package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/tejjnayak/sandchat/internal/proto"
	"github.com/tejjnayak/sandchat/internal/pubsub"
	"github.com/tidwall/gjson"
)

// Health checks the server's health status.
func (c *Client) Health(ctx context.Context) (*proto.Health, error) {
	var h proto.Health
	if err := c.do(ctx, http.MethodGet, "/health", nil, nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// VersionInfo retrieves the server's version information.
func (c *Client) VersionInfo(ctx context.Context) (*proto.VersionInfo, error) {
	var vi proto.VersionInfo
	if err := c.do(ctx, http.MethodGet, "/version", nil, nil, &vi); err != nil {
		return nil, err
	}
	return &vi, nil
}

func (c *Client) Chat(ctx context.Context, message string) (*proto.ChatResponse, error) {
	var out proto.ChatResponse
	if err := c.do(ctx, http.MethodPost, "/chat", nil, proto.ChatRequest{Message: message}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StreamChat starts a streamed exchange. The returned channel is closed
// after the terminal event or when ctx is done.
func (c *Client) StreamChat(ctx context.Context, req proto.StreamChatRequest) (<-chan proto.StreamEvent, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	rsp, err := c.send(ctx, http.MethodPost, "/chat/stream", nil, bytes.NewReader(data), http.Header{
		"Content-Type": []string{"application/json"},
		"Accept":       []string{"text/event-stream"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start chat stream: %w", err)
	}
	if rsp.StatusCode != http.StatusOK {
		defer rsp.Body.Close()
		return nil, responseError(rsp)
	}

	events := make(chan proto.StreamEvent, 16)
	go func() {
		defer close(events)
		defer rsp.Body.Close()
		for data := range readEvents(rsp.Body) {
			ev, err := proto.ParseStreamEvent(data)
			if err != nil {
				slog.Warn("Skipping malformed stream event", "data", string(data), "error", err)
				continue
			}
			if !sendEvent(ctx, events, ev) {
				return
			}
			if ev.Kind == proto.StreamDone || ev.Kind == proto.StreamError {
				return
			}
		}
	}()
	return events, nil
}

// readEvents yields the data field of every event in an SSE body.
func readEvents(body io.Reader) func(yield func([]byte) bool) {
	return func(yield func([]byte) bool) {
		scr := bufio.NewReader(body)
		for {
			line, err := scr.ReadBytes('\n')
			if len(line) > 0 {
				line = bytes.TrimSpace(line)
				if data, ok := bytes.CutPrefix(line, []byte("data:")); ok {
					if !yield(bytes.TrimSpace(data)) {
						return
					}
				} else if len(line) > 0 {
					slog.Warn("Invalid event format", "line", string(line))
				}
			}
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				slog.Debug("Event stream ended", "error", err)
				return
			}
		}
	}
}

func sendEvent[T any](ctx context.Context, ch chan<- T, ev T) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// SubscribeEvents streams session and audit events. Values on the channel
// are [pubsub.Event] of [proto.SessionInfo] or [proto.AuditStep].
func (c *Client) SubscribeEvents(ctx context.Context) (<-chan any, error) {
	rsp, err := c.send(ctx, http.MethodGet, "/events", nil, nil, http.Header{
		"Accept":        []string{"text/event-stream"},
		"Cache-Control": []string{"no-cache"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to events: %w", err)
	}
	if rsp.StatusCode != http.StatusOK {
		defer rsp.Body.Close()
		return nil, fmt.Errorf("failed to subscribe to events: %w", responseError(rsp))
	}

	events := make(chan any, 100)
	go func() {
		defer close(events)
		defer rsp.Body.Close()
		for data := range readEvents(rsp.Body) {
			var ev any
			switch typ := gjson.GetBytes(data, "payload.type").String(); typ {
			case pubsub.PayloadTypeSession:
				var e pubsub.Event[proto.SessionInfo]
				if err := json.Unmarshal(data, &e); err != nil {
					slog.Error("Unmarshaling session event", "error", err)
					continue
				}
				ev = e
			case pubsub.PayloadTypeAuditStep:
				var e pubsub.Event[proto.AuditStep]
				if err := json.Unmarshal(data, &e); err != nil {
					slog.Error("Unmarshaling audit event", "error", err)
					continue
				}
				ev = e
			default:
				slog.Warn("Unknown event payload", "type", typ)
				continue
			}
			if !sendEvent(ctx, events, ev) {
				return
			}
		}
	}()
	return events, nil
}

func (c *Client) ListSessions(ctx context.Context) ([]proto.SessionInfo, error) {
	var out []proto.SessionInfo
	err := c.do(ctx, http.MethodGet, "/sessions", nil, nil, &out)
	return out, err
}

func (c *Client) SearchSessions(ctx context.Context, query string) ([]proto.SessionInfo, error) {
	var out []proto.SessionInfo
	err := c.do(ctx, http.MethodGet, "/sessions/search", url.Values{"q": []string{query}}, nil, &out)
	return out, err
}

// CurrentSession returns the current session, creating one on the server
// when there is none.
func (c *Client) CurrentSession(ctx context.Context) (*proto.SessionInfo, error) {
	var out proto.SessionInfo
	if err := c.do(ctx, http.MethodGet, "/session/current", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetSession(ctx context.Context, id string) (*proto.Session, error) {
	var out proto.Session
	if err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetSessionMessages(ctx context.Context, id string) ([]proto.Message, error) {
	var out proto.SessionMessages
	if err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(id)+"/messages", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (c *Client) UpdateSession(ctx context.Context, id string, update proto.SessionUpdate) (*proto.SessionInfo, error) {
	var out proto.SessionInfo
	if err := c.do(ctx, http.MethodPatch, "/sessions/"+url.PathEscape(id), nil, update, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(id), nil, nil, nil)
}

// Reset starts a new current session.
func (c *Client) Reset(ctx context.Context) (*proto.SessionInfo, error) {
	var out proto.SessionInfo
	if err := c.do(ctx, http.MethodPost, "/reset", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExportSession writes the session transcript in format to w.
func (c *Client) ExportSession(ctx context.Context, id, format string, w io.Writer) error {
	rsp, err := c.send(ctx, http.MethodGet, "/sessions/"+url.PathEscape(id)+"/export", url.Values{"format": []string{format}}, nil, nil)
	if err != nil {
		return err
	}
	defer rsp.Body.Close()
	if rsp.StatusCode != http.StatusOK {
		return responseError(rsp)
	}
	_, err = io.Copy(w, rsp.Body)
	return err
}

func (c *Client) GetAudit(ctx context.Context, sessionID string) (*proto.AuditReport, error) {
	var out proto.AuditReport
	if err := c.do(ctx, http.MethodGet, "/audit/"+url.PathEscape(sessionID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListArtifacts(ctx context.Context) ([]proto.ArtifactInfo, error) {
	var out proto.ArtifactList
	if err := c.do(ctx, http.MethodGet, "/artifacts", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Artifacts, nil
}

// GetArtifact returns the artifact body and its content type.
func (c *Client) GetArtifact(ctx context.Context, name string) ([]byte, string, error) {
	rsp, err := c.send(ctx, http.MethodGet, "/artifacts/"+url.PathEscape(name), nil, nil, nil)
	if err != nil {
		return nil, "", err
	}
	defer rsp.Body.Close()
	if rsp.StatusCode != http.StatusOK {
		return nil, "", responseError(rsp)
	}
	body, err := io.ReadAll(rsp.Body)
	return body, rsp.Header.Get("Content-Type"), err
}

func (c *Client) DeleteArtifact(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/artifacts/"+url.PathEscape(name), nil, nil, nil)
}

// IngestDocument indexes content on the server under source.
func (c *Client) IngestDocument(ctx context.Context, source, content string) (*proto.KnowledgeIngested, error) {
	var out proto.KnowledgeIngested
	doc := proto.KnowledgeDocument{Source: source, Content: content}
	if err := c.do(ctx, http.MethodPost, "/knowledge/upload", nil, doc, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UploadFile sends the file at path as a multipart upload.
func (c *Client) UploadFile(ctx context.Context, path string) (*proto.KnowledgeIngested, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	rsp, err := c.send(ctx, http.MethodPost, "/knowledge/upload", nil, &body, http.Header{
		"Content-Type": []string{mw.FormDataContentType()},
	})
	if err != nil {
		return nil, err
	}
	defer rsp.Body.Close()
	if rsp.StatusCode != http.StatusCreated && rsp.StatusCode != http.StatusOK {
		return nil, responseError(rsp)
	}
	var out proto.KnowledgeIngested
	if err := json.NewDecoder(rsp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SearchKnowledge(ctx context.Context, query string, k int) (*proto.KnowledgeResults, error) {
	q := url.Values{"q": []string{query}}
	if k > 0 {
		q.Set("k", strconv.Itoa(k))
	}
	var out proto.KnowledgeResults
	if err := c.do(ctx, http.MethodGet, "/knowledge/search", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
