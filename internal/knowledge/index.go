// Package knowledge is a full-text index of documents used to augment chat
// prompts with retrieved context.
package knowledge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/tejjnayak/sandchat/internal/proto"
	"github.com/zeebo/xxh3"
)

// ChunkSize is the target size, in bytes, of an indexed chunk.
const ChunkSize = 1200

var ErrEmptyDocument = errors.New("document has no content")

type Result = proto.KnowledgeResult

// Index stores documents split into chunks and searches them with FTS5.
type Index struct {
	db *sql.DB
}

func NewIndex(db *sql.DB) *Index {
	return &Index{db: db}
}

func (i *Index) Close() error {
	return i.db.Close()
}

// Ingest indexes content under source, replacing a previous version of the
// same source. Unchanged content is skipped.
func (i *Index) Ingest(ctx context.Context, source, content string) (proto.KnowledgeIngested, error) {
	return i.ingest(ctx, source, "", content)
}

func (i *Index) ingest(ctx context.Context, source, title, content string) (proto.KnowledgeIngested, error) {
	result := proto.KnowledgeIngested{Source: source}
	content = strings.TrimSpace(content)
	if content == "" {
		return result, fmt.Errorf("%w: %s", ErrEmptyDocument, source)
	}
	hash := strconv.FormatUint(xxh3.HashString(content), 16)

	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var (
		docID   int64
		oldHash string
	)
	err = tx.QueryRowContext(ctx, `SELECT id, hash FROM documents WHERE source = ?`, source).Scan(&docID, &oldHash)
	now := time.Now().Unix()
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, err := tx.ExecContext(ctx,
			`INSERT INTO documents (source, hash, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
			source, hash, title, now, now)
		if err != nil {
			return result, fmt.Errorf("failed to insert document: %w", err)
		}
		if docID, err = res.LastInsertId(); err != nil {
			return result, err
		}
	case err != nil:
		return result, fmt.Errorf("failed to look up document: %w", err)
	case oldHash == hash:
		result.Skipped = true
		return result, nil
	default:
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, docID); err != nil {
			return result, fmt.Errorf("failed to delete old chunks: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE documents SET hash = ?, title = ?, updated_at = ? WHERE id = ?`,
			hash, title, now, docID); err != nil {
			return result, fmt.Errorf("failed to update document: %w", err)
		}
	}

	for n, chunk := range Chunk(content, ChunkSize) {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chunks (document_id, ordinal, content) VALUES (?, ?, ?)`,
			docID, n, chunk); err != nil {
			return result, fmt.Errorf("failed to insert chunk: %w", err)
		}
		result.Chunks++
	}
	if err := tx.Commit(); err != nil {
		return result, fmt.Errorf("failed to commit document: %w", err)
	}
	return result, nil
}

// Search returns up to topK chunks matching query, best first.
func (i *Index) Search(ctx context.Context, query string, topK int) ([]Result, error) {
	match := matchQuery(query)
	if match == "" {
		return []Result{}, nil
	}
	if topK <= 0 {
		topK = 3
	}
	rows, err := i.db.QueryContext(ctx, `
		SELECT d.source, c.content, bm25(chunks_fts) AS rank
		FROM chunks_fts
		JOIN chunks c ON c.id = chunks_fts.rowid
		JOIN documents d ON d.id = c.document_id
		WHERE chunks_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, match, topK)
	if err != nil {
		return nil, fmt.Errorf("search query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := []Result{}
	for rows.Next() {
		var (
			r    Result
			rank float64
		)
		if err := rows.Scan(&r.Source, &r.Content, &rank); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		r.Score = -rank
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}
	return results, nil
}

// Sources lists the indexed document sources.
func (i *Index) Sources(ctx context.Context) ([]string, error) {
	rows, err := i.db.QueryContext(ctx, `SELECT source FROM documents ORDER BY source`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var sources []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

// matchQuery turns free text into an FTS5 query that matches any of its
// words, so punctuation in user input never reaches the FTS5 parser.
func matchQuery(query string) string {
	words := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := make([]string, 0, len(words))
	for _, w := range words {
		terms = append(terms, `"`+w+`"`)
	}
	return strings.Join(terms, " OR ")
}

// Chunk splits text on paragraph boundaries into pieces of roughly size
// bytes. Paragraphs longer than size are split on word boundaries.
func Chunk(text string, size int) []string {
	var (
		chunks []string
		cur    strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			chunks = append(chunks, s)
		}
		cur.Reset()
	}
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if cur.Len() > 0 && cur.Len()+len(para)+2 > size {
			flush()
		}
		if len(para) <= size {
			if cur.Len() > 0 {
				cur.WriteString("\n\n")
			}
			cur.WriteString(para)
			continue
		}
		for _, word := range strings.Fields(para) {
			if cur.Len() > 0 && cur.Len()+len(word)+1 > size {
				flush()
			}
			if cur.Len() > 0 {
				cur.WriteByte(' ')
			}
			cur.WriteString(word)
		}
	}
	flush()
	return chunks
}
