package artifact

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	fenceRe      = regexp.MustCompile("(?s)```([\\w+#.-]*)[ \\t]*\\n(.*?)```")
	blankLinesRe = regexp.MustCompile(`\n{3,}`)
	pythonRe     = regexp.MustCompile(`(?m)^\s*(def|class|import|from)\s+\w+`)
)

var extensions = map[string]string{
	"html":       ".html",
	"htm":        ".html",
	"css":        ".css",
	"javascript": ".js",
	"js":         ".js",
	"python":     ".py",
	"py":         ".py",
	"json":       ".json",
	"xml":        ".xml",
	"sql":        ".sql",
	"bash":       ".sh",
	"shell":      ".sh",
	"sh":         ".sh",
	"typescript": ".ts",
	"ts":         ".ts",
	"tsx":        ".tsx",
	"jsx":        ".jsx",
}

// Block is one piece of embedded content found in a reply.
type Block struct {
	Lang string
	Body string
}

// Ext returns the file extension the block is stored with.
func (b Block) Ext() string {
	if b.Lang != "" {
		if ext, ok := extensions[strings.ToLower(b.Lang)]; ok {
			return ext
		}
		return ".txt"
	}
	return sniff(b.Body)
}

func sniff(body string) string {
	trimmed := strings.TrimSpace(body)
	lower := strings.ToLower(trimmed)
	switch {
	case strings.Contains(lower, "<!doctype html") || strings.Contains(lower, "<html"):
		return ".html"
	case strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "["):
		return ".json"
	case pythonRe.MatchString(trimmed):
		return ".py"
	}
	return ".txt"
}

// IsHTMLDocument reports whether text is a complete HTML document on its
// own.
func IsHTMLDocument(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	return (strings.HasPrefix(lower, "<!doctype html") || strings.HasPrefix(lower, "<html")) &&
		strings.Contains(lower, "</html>")
}

// Blocks returns the fenced blocks of text, or the whole text as a single
// block when it is a bare HTML document.
func Blocks(text string) []Block {
	matches := fenceRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		if IsHTMLDocument(text) {
			return []Block{{Body: text}}
		}
		return nil
	}
	blocks := make([]Block, 0, len(matches))
	for _, m := range matches {
		blocks = append(blocks, Block{Lang: m[1], Body: m[2]})
	}
	return blocks
}

// Extractor pulls artifacts out of reply text into a [Store].
type Extractor struct {
	store *Store
	now   func() time.Time
}

func NewExtractor(store *Store) *Extractor {
	return &Extractor{store: store, now: time.Now}
}

// Extract persists every block found in text and returns the text with the
// blocks removed along with the number of artifacts written. When nothing is
// written the text is returned unchanged.
func (e *Extractor) Extract(text string) (string, int) {
	blocks := Blocks(text)
	if len(blocks) == 0 {
		return text, 0
	}

	stamp := e.now().Format("20060102_150405")
	count := 0
	for i, b := range blocks {
		body := strings.TrimSpace(b.Body)
		if body == "" {
			continue
		}
		name := fmt.Sprintf("artifact_%s_%d%s", stamp, i+1, b.Ext())
		err := e.store.Save(name, []byte(body))
		if errors.Is(err, ErrExists) {
			name = fmt.Sprintf("artifact_%s_%d_%s%s", stamp, i+1, uuid.NewString()[:8], b.Ext())
			err = e.store.Save(name, []byte(body))
		}
		if err != nil {
			slog.Error("Failed to save artifact", "name", name, "error", err)
			continue
		}
		slog.Debug("Saved artifact", "name", name, "bytes", len(body))
		count++
	}
	if count == 0 {
		return text, 0
	}

	cleaned := fenceRe.ReplaceAllString(text, "")
	if !fenceRe.MatchString(text) {
		cleaned = ""
	}
	cleaned = strings.TrimSpace(blankLinesRe.ReplaceAllString(cleaned, "\n\n"))
	return strings.TrimLeft(cleaned+Notice(count), "\n"), count
}

// Notice is appended to a reply whose artifacts were extracted.
func Notice(count int) string {
	noun := "artifacts"
	if count == 1 {
		noun = "artifact"
	}
	return fmt.Sprintf("\n\n[%d %s saved. View them at /artifacts]", count, noun)
}
