// Package citation turns retrieved evidence and web results into
// source-attributable citations and renders them for display.
package citation

import (
	"fmt"
	"strings"

	"github.com/sweetpotato0/carebridge/rag/document"
)

// SourceType says where a citation came from.
type SourceType string

const (
	SourceReference SourceType = "reference"
	SourceWeb       SourceType = "web"
	SourceWebStub   SourceType = "web_stub"
)

// Citation is immutable once created. PageNumber, ChunkIndex and Score are
// meaningful only for reference citations; Title and URL only for web citations.
type Citation struct {
	SourceType SourceType `json:"source_type"`
	DocumentID string     `json:"document_id,omitempty"`
	PageNumber int        `json:"page_number,omitempty"`
	ChunkIndex int        `json:"chunk_index,omitempty"`
	Score      float64    `json:"score,omitempty"`
	Title      string     `json:"title,omitempty"`
	URL        string     `json:"url,omitempty"`
}

// Format derives a reference citation from an evidence chunk.
func Format(chunk document.EvidenceChunk) Citation {
	return Citation{
		SourceType: SourceReference,
		DocumentID: chunk.DocumentID,
		PageNumber: chunk.PageNumber,
		ChunkIndex: chunk.ChunkIndex,
		Score:      chunk.Score,
	}
}

// FormatAll formats chunks in order.
func FormatAll(chunks []document.EvidenceChunk) []Citation {
	out := make([]Citation, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, Format(c))
	}
	return out
}

// Web builds a citation for a web search result.
func Web(title, url string) Citation {
	return Citation{SourceType: SourceWeb, Title: title, URL: url}
}

// WebStub builds the single explanatory citation used when web search cannot run.
func WebStub() Citation {
	return Citation{SourceType: SourceWebStub, Title: "Web Search Unavailable"}
}

// Render returns the stable display string for a citation.
func Render(c Citation) string {
	switch c.SourceType {
	case SourceWeb:
		return "(Web Source)"
	case SourceWebStub:
		return "(Web Search Unavailable)"
	default:
		return fmt.Sprintf("%s, page %d (score: %.2f)", c.DocumentID, c.PageNumber, c.Score)
	}
}

// RenderAll renders each citation in order.
func RenderAll(cs []Citation) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, Render(c))
	}
	return out
}

// RenderList renders a "Sources:" block, one bullet per citation. Web
// citations carry their title and URL after the label. Empty input renders "".
func RenderList(cs []Citation) string {
	if len(cs) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Sources:")
	for _, c := range cs {
		b.WriteString("\n- ")
		b.WriteString(Render(c))
		if c.SourceType == SourceWeb {
			if c.Title != "" {
				b.WriteString(" ")
				b.WriteString(c.Title)
			}
			if c.URL != "" {
				b.WriteString(" <")
				b.WriteString(c.URL)
				b.WriteString(">")
			}
		}
	}
	return b.String()
}

// Dedupe drops repeated citations keyed on source type, document, page, chunk
// and URL, keeping the first occurrence. Distinct chunks of one page stay
// separate citations.
func Dedupe(cs []Citation) []Citation {
	type key struct {
		t    SourceType
		doc  string
		page  int
		chunk int
		url   string
	}
	seen := make(map[key]struct{}, len(cs))
	out := make([]Citation, 0, len(cs))
	for _, c := range cs {
		k := key{c.SourceType, c.DocumentID, c.PageNumber, c.ChunkIndex, c.URL}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Validate reports whether a citation carries the fields its type requires.
func Validate(c Citation) error {
	switch c.SourceType {
	case SourceReference:
		if c.DocumentID == "" {
			return fmt.Errorf("reference citation without document id")
		}
		if c.PageNumber < 1 {
			return fmt.Errorf("reference citation %s has page %d", c.DocumentID, c.PageNumber)
		}
		if c.Score < 0 || c.Score > 1 {
			return fmt.Errorf("reference citation %s has score %.4f outside [0,1]", c.DocumentID, c.Score)
		}
	case SourceWeb:
		if c.URL == "" && c.Title == "" {
			return fmt.Errorf("web citation without title or url")
		}
	case SourceWebStub:
	default:
		return fmt.Errorf("unknown source type %q", c.SourceType)
	}
	return nil
}
