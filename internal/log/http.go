package log

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// NewHTTPClient returns an [http.Client] that logs every request and
// response at debug level.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: &HTTPRoundTripLogger{
			Transport: http.DefaultTransport,
		},
	}
}

// HTTPRoundTripLogger is an [http.RoundTripper] that logs requests and
// responses, masking credentials.
type HTTPRoundTripLogger struct {
	Transport http.RoundTripper
}

// maxLoggedBody caps how much of a request or response body is logged.
const maxLoggedBody = 4096

func (h *HTTPRoundTripLogger) RoundTrip(req *http.Request) (*http.Response, error) {
	var reqBody []byte
	if req.Body != nil && req.GetBody != nil {
		if body, err := req.GetBody(); err == nil {
			reqBody, _ = io.ReadAll(io.LimitReader(body, maxLoggedBody))
			body.Close()
		}
	}

	slog.Debug(
		"HTTP Request",
		"method", req.Method,
		"url", req.URL.String(),
		"headers", formatHeaders(req.Header),
		"body", string(reqBody),
	)

	start := time.Now()
	resp, err := h.Transport.RoundTrip(req)
	duration := time.Since(start)
	if err != nil {
		slog.Debug(
			"HTTP Request failed",
			"method", req.Method,
			"url", req.URL.String(),
			"duration_ms", duration.Milliseconds(),
			"error", err,
		)
		return resp, err
	}

	var respBody []byte
	if resp.Body != nil {
		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		resp.Body = io.NopCloser(bytes.NewReader(data))
		if readErr != nil {
			return resp, readErr
		}
		respBody = data
		if len(respBody) > maxLoggedBody {
			respBody = respBody[:maxLoggedBody]
		}
	}

	slog.Debug(
		"HTTP Response",
		"status_code", resp.StatusCode,
		"status", resp.Status,
		"headers", formatHeaders(resp.Header),
		"body", string(respBody),
		"content_length", resp.ContentLength,
		"duration_ms", duration.Milliseconds(),
	)
	return resp, nil
}

func formatHeaders(headers http.Header) map[string][]string {
	filtered := make(map[string][]string, len(headers))
	for key, values := range headers {
		switch http.CanonicalHeaderKey(key) {
		case "Authorization", "X-Api-Key", "X-Goog-Api-Key", "Api-Key":
			masked := make([]string, len(values))
			for i, v := range values {
				masked[i] = MaskAPIKey(v)
			}
			filtered[key] = masked
		default:
			filtered[key] = values
		}
	}
	return filtered
}
