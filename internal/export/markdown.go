package export

import (
	"cmp"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type markdownExporter struct{}

func (markdownExporter) Export(doc Document, w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", cmp.Or(doc.Title, "Session "+doc.SessionID))
	fmt.Fprintf(&b, "**Session:** %s  \n", doc.SessionID)
	fmt.Fprintf(&b, "**Model:** %s  \n", doc.Model)
	fmt.Fprintf(&b, "**Created:** %s  \n", doc.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "**Messages:** %d\n", len(doc.Messages))

	for _, msg := range doc.Messages {
		b.WriteString("\n---\n\n")
		fmt.Fprintf(&b, "### %s", roleHeading(msg.Role))
		if !msg.Timestamp.IsZero() {
			fmt.Fprintf(&b, " (%s)", msg.Timestamp.Format(time.RFC3339))
		}
		b.WriteString("\n\n")
		b.WriteString(strings.TrimRight(msg.Content, "\n"))
		b.WriteString("\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func roleHeading(role string) string {
	if role == "" {
		return "Unknown"
	}
	return cases.Title(language.English).String(role)
}

func (markdownExporter) Extension() string {
	return "md"
}

func (markdownExporter) ContentType() string {
	return "text/markdown; charset=utf-8"
}
