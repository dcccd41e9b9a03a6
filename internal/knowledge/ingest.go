package knowledge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/bmatcuk/doublestar/v4"
	ignore "github.com/sabhiram/go-gitignore"
	"github.com/tejjnayak/sandchat/internal/proto"
)

// DefaultPattern selects the files picked up by directory ingestion.
const DefaultPattern = "**/*.{md,markdown,txt,html,htm}"

// MaxDocumentSize is the largest document accepted for ingestion.
const MaxDocumentSize = 5 << 20

var ErrUnsupportedType = errors.New("unsupported document type")

// IngestReader indexes a document read from r. The name's extension selects
// how the content is interpreted.
func (i *Index) IngestReader(ctx context.Context, name string, r io.Reader) (proto.KnowledgeIngested, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxDocumentSize+1))
	if err != nil {
		return proto.KnowledgeIngested{Source: name}, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if len(data) > MaxDocumentSize {
		return proto.KnowledgeIngested{Source: name}, fmt.Errorf("document %s exceeds %d bytes", name, MaxDocumentSize)
	}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".html", ".htm":
		title, text, err := HTMLToMarkdown(string(data))
		if err != nil {
			return proto.KnowledgeIngested{Source: name}, err
		}
		return i.ingest(ctx, name, title, text)
	case ".md", ".markdown", ".txt", "":
		return i.ingest(ctx, name, "", string(data))
	}
	return proto.KnowledgeIngested{Source: name}, fmt.Errorf("%w: %s", ErrUnsupportedType, name)
}

// IngestFile indexes the file at path using the path as its source.
func (i *Index) IngestFile(ctx context.Context, path string) (proto.KnowledgeIngested, error) {
	f, err := os.Open(path)
	if err != nil {
		return proto.KnowledgeIngested{Source: path}, err
	}
	defer f.Close()
	return i.IngestReader(ctx, path, f)
}

// IngestDir indexes every file under root matching pattern. Paths excluded
// by root's .gitignore are left out. Failures on individual files are logged
// and skipped.
func (i *Index) IngestDir(ctx context.Context, root, pattern string) ([]proto.KnowledgeIngested, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	fsys := os.DirFS(root)
	matches, err := doublestar.Glob(fsys, pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	ignored := loadIgnore(root)

	var results []proto.KnowledgeIngested
	for _, match := range matches {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		if ignored != nil && ignored.MatchesPath(match) {
			continue
		}
		info, err := fs.Stat(fsys, match)
		if err != nil || info.IsDir() {
			continue
		}
		res, err := i.IngestFile(ctx, filepath.Join(root, filepath.FromSlash(match)))
		if err != nil {
			slog.Warn("Failed to ingest file", "path", match, "error", err)
			continue
		}
		results = append(results, res)
	}
	return results, nil
}

func loadIgnore(root string) *ignore.GitIgnore {
	gi, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		return nil
	}
	return gi
}

// HTMLToMarkdown extracts the page title and converts the document body to
// Markdown.
func HTMLToMarkdown(html string) (string, string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", "", fmt.Errorf("failed to parse HTML: %w", err)
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find("script, style, noscript").Remove()

	markdown := md.NewConverter("", true, nil).Convert(doc.Selection)
	if title != "" && !strings.Contains(markdown, title) {
		markdown = "# " + title + "\n\n" + markdown
	}
	return title, markdown, nil
}
