// Package source reads the documents that get ingested and cited.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nikhilbhutani/ragconverse/internal/models"
	"github.com/nikhilbhutani/ragconverse/pkg/textextract"
)

// Loader reads source documents from a directory. A document's id is its
// file name without extension.
type Loader struct {
	dir string
}

func NewLoader(dir string) *Loader {
	return &Loader{dir: dir}
}

func (l *Loader) Dir() string { return l.dir }

// Load returns every supported document in the directory, sorted by id.
func (l *Loader) Load(ctx context.Context) ([]models.Source, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read source directory %s: %w", l.dir, models.ErrConfiguration)
		}
		return nil, fmt.Errorf("read source directory %s: %w", l.dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !textextract.Supported(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no source documents in %s: %w", l.dir, models.ErrNotFound)
	}
	sort.Strings(names)

	out := make([]models.Source, 0, len(names))
	seen := make(map[string]string, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		id := slugOf(name)
		if prev, dup := seen[id]; dup {
			return nil, fmt.Errorf("source id %q used by %s and %s: %w", id, prev, name, models.ErrConfiguration)
		}
		seen[id] = name

		src, err := l.read(filepath.Join(l.dir, name))
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, nil
}

// Get returns the document whose id is slug.
func (l *Loader) Get(_ context.Context, slug string) (models.Source, error) {
	if slug == "" || strings.ContainsAny(slug, `/\`) || strings.HasPrefix(slug, ".") {
		return models.Source{}, fmt.Errorf("source %q: %w", slug, models.ErrNotFound)
	}
	for _, ext := range textextract.SupportedTypes() {
		path := filepath.Join(l.dir, slug+ext)
		if _, err := os.Stat(path); err == nil {
			return l.read(path)
		}
	}
	return models.Source{}, fmt.Errorf("source %q: %w", slug, models.ErrNotFound)
}

func (l *Loader) read(path string) (models.Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Source{}, fmt.Errorf("read source %s: %w", path, err)
	}
	text, err := textextract.Extract(bytes.NewReader(data), int64(len(data)), filepath.Ext(path))
	if err != nil {
		return models.Source{}, fmt.Errorf("extract source %s: %w", path, err)
	}

	id := slugOf(filepath.Base(path))
	title := text.Metadata["title"]
	if title == "" {
		title = titleFromSlug(id)
	}
	return models.Source{
		ID:      id,
		Title:   title,
		Text:    text.Content,
		Summary: text.Metadata["summary"],
		Path:    path,
	}, nil
}

func slugOf(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// titleFromSlug turns "my-first_post" into "My First Post".
func titleFromSlug(slug string) string {
	words := strings.FieldsFunc(slug, func(r rune) bool { return r == '-' || r == '_' })
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
