// Package export renders a session transcript for download.
package export

import (
	"fmt"
	"io"
	"time"

	"github.com/tejjnayak/sandchat/internal/proto"
)

type Exporter interface {
	Export(doc Document, w io.Writer) error
	Extension() string
	ContentType() string
}

// Formats lists the accepted format names.
var Formats = []string{"json", "yaml", "md"}

func NewExporter(format string) (Exporter, error) {
	switch format {
	case "", "json":
		return jsonExporter{}, nil
	case "yaml", "yml":
		return yamlExporter{}, nil
	case "md", "markdown":
		return markdownExporter{}, nil
	}
	return nil, fmt.Errorf("unsupported format: %s (supported: json, yaml, md)", format)
}

// Document is the exported form of a session. Timestamps are RFC 3339
// rather than the Unix seconds used by the API.
type Document struct {
	SessionID string    `json:"session_id" yaml:"session_id"`
	Title     string    `json:"title,omitempty" yaml:"title,omitempty"`
	Model     string    `json:"model" yaml:"model"`
	Favorite  bool      `json:"favorite,omitempty" yaml:"favorite,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
	Messages  []Message `json:"messages" yaml:"messages"`
}

type Message struct {
	Role      string    `json:"role" yaml:"role"`
	Content   string    `json:"content" yaml:"content"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

func NewDocument(sess proto.Session) Document {
	doc := Document{
		SessionID: sess.ID,
		Title:     sess.TitleText(),
		Model:     sess.Model,
		Favorite:  sess.Favorite,
		CreatedAt: sess.CreatedAt.UTC(),
		UpdatedAt: sess.UpdatedAt.UTC(),
		Messages:  make([]Message, len(sess.Messages)),
	}
	for i, m := range sess.Messages {
		doc.Messages[i] = Message{
			Role:      string(m.Role),
			Content:   m.Content,
			Timestamp: m.Timestamp.UTC(),
		}
	}
	return doc
}

// Filename is the suggested download name for doc.
func Filename(doc Document, e Exporter) string {
	return fmt.Sprintf("session_%s.%s", doc.SessionID, e.Extension())
}
