package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
)

// RemoteService drives sandboxes hosted by a sandbox daemon over HTTP.
//
//	POST   /sandboxes               -> {"sandbox_id": "..."}
//	POST   /sandboxes/{id}/setup
//	POST   /sandboxes/{id}/messages {"message": "..."} -> {"response": "..."}
//	DELETE /sandboxes/{id}
type RemoteService struct {
	baseURL string
	apiKey  string
	client  *http.Client
	active  atomic.Int64
	model   atomic.Value
}

func NewRemoteService(baseURL, apiKey string, timeout time.Duration) *RemoteService {
	s := &RemoteService{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
	s.model.Store("remote")
	return s
}

func (s *RemoteService) Active() int {
	return int(s.active.Load())
}

// Model is the model reported by the daemon in its last reply.
func (s *RemoteService) Model() string {
	return s.model.Load().(string)
}

func (s *RemoteService) Create(ctx context.Context) (Sandbox, error) {
	body, err := s.do(ctx, http.MethodPost, "/sandboxes", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox: %w", err)
	}
	id := gjson.GetBytes(body, "sandbox_id").String()
	if id == "" {
		return nil, fmt.Errorf("failed to create sandbox: response has no sandbox_id")
	}
	s.active.Add(1)
	return &remoteSandbox{id: id, service: s}, nil
}

func (s *RemoteService) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RemoteError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}
	return data, nil
}

// RemoteError is a non-2xx answer from the sandbox daemon.
type RemoteError struct {
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("sandbox daemon returned %d", e.StatusCode)
	}
	return fmt.Sprintf("sandbox daemon returned %d: %s", e.StatusCode, e.Message)
}

func errorMessage(body []byte) string {
	for _, path := range []string{"message", "detail", "error.message", "error"} {
		if v := gjson.GetBytes(body, path); v.Exists() && v.Type == gjson.String {
			return v.String()
		}
	}
	return strings.TrimSpace(string(body))
}

type remoteSandbox struct {
	id      string
	service *RemoteService
	closed  atomic.Bool
}

func (b *remoteSandbox) ID() string {
	return b.id
}

func (b *remoteSandbox) path(suffix string) string {
	return "/sandboxes/" + url.PathEscape(b.id) + suffix
}

func (b *remoteSandbox) Setup(ctx context.Context) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if _, err := b.service.do(ctx, http.MethodPost, b.path("/setup"), nil); err != nil {
		return fmt.Errorf("failed to set up sandbox %s: %w", b.id, err)
	}
	return nil
}

func (b *remoteSandbox) Send(ctx context.Context, text string) (string, error) {
	if b.closed.Load() {
		return "", ErrClosed
	}
	body, err := b.service.do(ctx, http.MethodPost, b.path("/messages"), map[string]string{"message": text})
	if err != nil {
		return "", fmt.Errorf("sandbox %s: %w", b.id, err)
	}
	if model := gjson.GetBytes(body, "model").String(); model != "" {
		b.service.model.Store(model)
	}
	return gjson.GetBytes(body, "response").String(), nil
}

func (b *remoteSandbox) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.service.active.Add(-1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := b.service.do(ctx, http.MethodDelete, b.path(""), nil); err != nil {
		slog.Warn("Failed to release sandbox", "sandbox_id", b.id, "error", err)
		return err
	}
	return nil
}
