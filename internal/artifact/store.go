// Package artifact extracts fenced code blocks from model replies and keeps
// them as files in a flat directory.
package artifact

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/tejjnayak/sandchat/internal/proto"
)

var (
	ErrNotFound    = errors.New("artifact not found")
	ErrInvalidName = errors.New("invalid artifact name")
	ErrExists      = errors.New("artifact already exists")
)

type Info = proto.ArtifactInfo

// Store is a directory of write-once artifact files.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) Dir() string {
	return s.dir
}

// ValidName reports whether name refers to a file directly inside the store.
func ValidName(name string) bool {
	return name != "" &&
		!strings.ContainsAny(name, `/\`) &&
		!strings.Contains(name, "..")
}

// Save writes body under name. It never overwrites an existing artifact.
func (s *Store) Save(name string, body []byte) error {
	if !ValidName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create artifacts directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%w: %s", ErrExists, name)
	}
	if err != nil {
		return fmt.Errorf("failed to create artifact %s: %w", name, err)
	}
	if _, err := f.Write(body); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write artifact %s: %w", name, err)
	}
	return f.Close()
}

// List returns the stored artifacts, newest first.
func (s *Store) List() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []Info{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read artifacts directory: %w", err)
	}
	infos := make([]Info, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		infos = append(infos, Info{
			Name:      entry.Name(),
			Size:      fi.Size(),
			SizeHuman: humanize.Bytes(uint64(fi.Size())),
			CreatedAt: proto.Time{Time: fi.ModTime()},
		})
	}
	slices.SortFunc(infos, func(a, b Info) int {
		if c := b.CreatedAt.Compare(a.CreatedAt.Time); c != 0 {
			return c
		}
		return cmp.Compare(b.Name, a.Name)
	})
	return infos, nil
}

// Read returns the artifact content along with the content type it should
// be served with.
func (s *Store) Read(name string) ([]byte, string, error) {
	if !ValidName(name) {
		return nil, "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to read artifact %s: %w", name, err)
	}
	return data, ContentType(name), nil
}

func (s *Store) Delete(name string) error {
	if !ValidName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	err := os.Remove(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return fmt.Errorf("failed to delete artifact %s: %w", name, err)
	}
	return nil
}

// ContentType returns text/html for HTML artifacts and text/plain otherwise.
func ContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".html", ".htm":
		return "text/html; charset=utf-8"
	}
	return "text/plain; charset=utf-8"
}
