// Package prompt renders the prompts sent to the sandbox model.
package prompt

import (
	"fmt"
	"strings"

	"github.com/MakeNowJust/heredoc"
	"github.com/cbroglie/mustache"
)

// ContextLimit caps how many characters of each retrieved document are
// embedded in an augmented prompt.
const ContextLimit = 1000

// DefaultSystemPrompt is used by sandboxes that are not configured with one.
var DefaultSystemPrompt = heredoc.Doc(`
	You are a helpful assistant running inside an isolated sandbox.
	Answer clearly and concisely. When you produce files such as web pages,
	scripts or data, put each one in its own fenced code block tagged with
	its language.
`)

var augmentTemplate = heredoc.Doc(`
	Answer the question using only the context below. If the context does not
	contain the answer, say that you could not find it in the knowledge base
	and do not make one up.

	Context:
	{{#documents}}
	[Source: {{{source}}}]
	{{{content}}}

	{{/documents}}
	Question: {{{question}}}
`)

// Document is a piece of retrieved context.
type Document struct {
	Source  string
	Content string
}

// Augment embeds the retrieved documents into a prompt for question.
func Augment(question string, docs []Document) (string, error) {
	items := make([]map[string]string, 0, len(docs))
	for _, d := range docs {
		items = append(items, map[string]string{
			"source":  d.Source,
			"content": Truncate(d.Content, ContextLimit),
		})
	}
	out, err := mustache.Render(augmentTemplate, map[string]any{
		"documents": items,
		"question":  question,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render augmented prompt: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// Truncate returns at most n characters of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
