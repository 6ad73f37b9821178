// Package loader reads reference documents from disk into numbered pages.
package loader

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/sweetpotato0/carebridge/rag/document"
	"github.com/sweetpotato0/carebridge/rag/preprocess"
)

// pageBreak separates pages in plain-text sources.
const pageBreak = "\f"

// Supported reports whether a file extension has a loader.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf", ".txt", ".md", ".html", ".htm":
		return true
	}
	return false
}

// Load reads one file. Pages with no text after cleaning are dropped, but the
// remaining pages keep their original numbers.
func Load(ctx context.Context, path string) (document.Document, error) {
	var (
		pages []document.Page
		err   error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		pages, err = loadPDF(ctx, path)
	case ".txt", ".md":
		pages, err = loadText(path)
	case ".html", ".htm":
		pages, err = loadHTML(path)
	default:
		return document.Document{}, fmt.Errorf("unsupported document type %q", filepath.Ext(path))
	}
	if err != nil {
		return document.Document{}, fmt.Errorf("load %s: %w", path, err)
	}

	kept := pages[:0]
	for _, p := range pages {
		p.Text = preprocess.Preprocess(p.Text)
		if p.Text != "" {
			kept = append(kept, p)
		}
	}
	return document.Document{
		ID:    document.IDFromPath(path),
		Path:  path,
		Pages: kept,
	}, nil
}

// Paths expands a file or directory into the supported files beneath it, sorted.
func Paths(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		if !Supported(root) {
			return nil, fmt.Errorf("unsupported document type %q", filepath.Ext(root))
		}
		return []string{root}, nil
	}

	var out []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && Supported(path) {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}

func loadPDF(ctx context.Context, path string) ([]document.Page, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	total := r.NumPage()
	pages := make([]document.Page, 0, total)
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		pages = append(pages, document.Page{Number: i, Text: text})
	}
	return pages, nil
}

func loadText(path string) ([]document.Page, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	parts := strings.Split(string(raw), pageBreak)
	pages := make([]document.Page, 0, len(parts))
	for i, part := range parts {
		pages = append(pages, document.Page{Number: i + 1, Text: part})
	}
	return pages, nil
}

func loadHTML(path string) ([]document.Page, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	text, err := preprocess.HTMLToText(string(raw))
	if err != nil {
		return nil, err
	}
	return []document.Page{{Number: 1, Text: text}}, nil
}
