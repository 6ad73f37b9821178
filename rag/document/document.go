package document

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Document is a reference source split into numbered pages.
type Document struct {
	ID    string `json:"id"`
	Path  string `json:"path,omitempty"`
	Pages []Page `json:"pages"`
}

// Page holds the extracted text of one page. Numbers start at 1.
type Page struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// Chunk is a slice of a page that is embedded and stored in the index.
type Chunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	PageNumber int    `json:"page_number"`
	Index      int    `json:"chunk_index"`
	Text       string `json:"text"`
}

// EvidenceChunk is a chunk returned by retrieval together with its relevance.
// Score lies in [0,1]; higher is more relevant.
type EvidenceChunk struct {
	ChunkID    string  `json:"chunk_id"`
	Text       string  `json:"text"`
	DocumentID string  `json:"document_id"`
	PageNumber int     `json:"page_number"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
}

// IDFromPath derives a document identifier from a file name: the base name without extension.
func IDFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ChunkID returns the identifier of the i-th chunk of a document.
func ChunkID(documentID string, i int) string {
	return fmt.Sprintf("%s_%d", documentID, i)
}

// Text joins every page of the document.
func (d Document) Text() string {
	parts := make([]string, 0, len(d.Pages))
	for _, p := range d.Pages {
		parts = append(parts, p.Text)
	}
	return strings.Join(parts, "\n\n")
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	out := d
	if d.Pages != nil {
		out.Pages = append([]Page(nil), d.Pages...)
	}
	return out
}
