package proto

import "unicode/utf8"

// Message length bounds accepted by the chat endpoints.
const (
	MinMessageLength = 1
	MaxMessageLength = 5000
)

// DefaultModel is used when a stream request does not name a model.
const DefaultModel = "haiku"

// Error represents an error response. Detail mirrors Message for clients
// that read the older field name.
type Error struct {
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// Health is the response of the health endpoint.
type Health struct {
	Status string `json:"status"`
	Model  string `json:"model"`
}

// VersionInfo describes the running build and the sandbox it talks to.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
	Backend   string `json:"backend"`
	Model     string `json:"model"`
}

// ChatRequest is a non-streamed chat request.
type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse is the reply to a [ChatRequest].
type ChatResponse struct {
	Response  string `json:"response"`
	SandboxID string `json:"sandbox_id"`
	Model     string `json:"model"`
}

// StreamChatRequest starts a streamed chat exchange.
type StreamChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	Model     string `json:"model,omitempty"`
	UseRAG    bool   `json:"use_rag,omitempty"`
	TopK      int    `json:"top_k,omitempty"`
}

// ValidateMessage reports whether msg has an acceptable length in
// characters.
func ValidateMessage(msg string) bool {
	n := utf8.RuneCountInString(msg)
	return n >= MinMessageLength && n <= MaxMessageLength
}

// KnowledgeDocument is a document submitted for indexing.
type KnowledgeDocument struct {
	Source  string `json:"source"`
	Content string `json:"content"`
}

// KnowledgeIngested reports the outcome of an ingestion.
type KnowledgeIngested struct {
	Source  string `json:"source"`
	Chunks  int    `json:"chunks"`
	Skipped bool   `json:"skipped,omitempty"`
}

// KnowledgeResult is one retrieval hit.
type KnowledgeResult struct {
	Source  string  `json:"source"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

type KnowledgeResults struct {
	Query   string            `json:"query"`
	Results []KnowledgeResult `json:"results"`
}
