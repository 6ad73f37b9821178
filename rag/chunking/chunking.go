package chunking

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/sweetpotato0/carebridge/rag/document"
)

// Chunker splits documents into chunks that can be embedded and indexed.
type Chunker interface {
	Chunk(ctx context.Context, doc document.Document) ([]document.Chunk, error)
}

type Options struct {
	ChunkSize int
	Overlap   int
	Separator string
}

// SimpleChunker merges separator-delimited sections up to a character budget,
// carrying an overlap between consecutive chunks. Sections far above the
// budget are split by sentence, and by character count as a last resort.
// Chunks never span pages.
type SimpleChunker struct {
	size    int
	overlap int
	sep     string
}

// Option customizes the simple chunker.
type Option func(*Options)

// WithChunkSize overrides the default chunk size (characters).
func WithChunkSize(size int) Option {
	return func(o *Options) {
		if size > 0 {
			o.ChunkSize = size
		}
	}
}

// WithOverlap configures overlap (characters) between consecutive chunks.
func WithOverlap(overlap int) Option {
	return func(o *Options) {
		if overlap >= 0 {
			o.Overlap = overlap
		}
	}
}

// WithSeparator sets the logical separator used before windowing.
func WithSeparator(sep string) Option {
	return func(o *Options) {
		if sep != "" {
			o.Separator = sep
		}
	}
}

// NewSimpleChunker constructs a chunker; defaults are 512 characters with 150 overlap.
func NewSimpleChunker(opts ...Option) *SimpleChunker {
	cfg := &Options{
		ChunkSize: 512,
		Overlap:   150,
		Separator: "\n\n",
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Overlap >= cfg.ChunkSize {
		cfg.Overlap = cfg.ChunkSize / 4
	}
	return &SimpleChunker{
		size:    cfg.ChunkSize,
		overlap: cfg.Overlap,
		sep:     cfg.Separator,
	}
}

// Chunk splits every page and numbers chunks across the whole document.
func (c *SimpleChunker) Chunk(ctx context.Context, doc document.Document) ([]document.Chunk, error) {
	var chunks []document.Chunk
	for _, page := range doc.Pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, text := range c.Split(page.Text) {
			if strings.TrimSpace(text) == "" {
				continue
			}
			i := len(chunks)
			chunks = append(chunks, document.Chunk{
				ID:         document.ChunkID(doc.ID, i),
				DocumentID: doc.ID,
				PageNumber: page.Number,
				Index:      i,
				Text:       text,
			})
		}
	}
	return chunks, nil
}

// Split applies the windowing rules to a single text.
func (c *SimpleChunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if len(text) <= c.size {
		return []string{strings.TrimSpace(text)}
	}

	var merged []string
	current := ""
	for _, section := range strings.Split(text, c.sep) {
		if current != "" && len(current)+len(section) > c.size {
			merged = append(merged, strings.TrimSpace(current))
			current = tail(current, c.overlap) + section
			continue
		}
		if current != "" {
			current += c.sep
		}
		current += section
	}
	if strings.TrimSpace(current) != "" {
		merged = append(merged, strings.TrimSpace(current))
	}

	limit := c.size + c.size/2
	out := make([]string, 0, len(merged))
	for _, chunk := range merged {
		if len(chunk) > limit {
			out = append(out, c.splitLong(chunk)...)
			continue
		}
		out = append(out, chunk)
	}
	return out
}

func (c *SimpleChunker) splitLong(text string) []string {
	var sentences []string
	for _, delim := range []string{". ", ".\n", "! ", "? "} {
		if !strings.Contains(text, delim) {
			continue
		}
		end := strings.TrimSpace(delim)
		parts := strings.Split(text, delim)
		for i, s := range parts {
			if s == "" {
				continue
			}
			if i < len(parts)-1 {
				s += end
			}
			sentences = append(sentences, s)
		}
		break
	}
	if len(sentences) == 0 {
		return c.hardSplit(text)
	}

	var out []string
	current := ""
	for _, s := range sentences {
		if current != "" && len(current)+len(s) > c.size {
			out = append(out, strings.TrimSpace(current))
			current = tail(current, c.overlap) + s
			continue
		}
		if current != "" {
			current += " "
		}
		current += s
	}
	if strings.TrimSpace(current) != "" {
		out = append(out, strings.TrimSpace(current))
	}
	return out
}

func (c *SimpleChunker) hardSplit(text string) []string {
	var out []string
	for start := 0; start < len(text); {
		end := start + c.size
		if end >= len(text) {
			out = append(out, text[start:])
			break
		}
		end = runeFloor(text, end)
		if end <= start {
			// A rune wider than the chunk size still makes progress.
			_, w := utf8.DecodeRuneInString(text[start:])
			end = start + w
		}
		out = append(out, text[start:end])
		next := runeFloor(text, end-c.overlap)
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

// tail returns roughly the last n bytes of s without splitting a rune.
func tail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if n >= len(s) {
		return s
	}
	return s[runeFloor(s, len(s)-n):]
}

// runeFloor moves i back to the start of the rune containing it.
func runeFloor(s string, i int) int {
	if i <= 0 {
		return 0
	}
	if i >= len(s) {
		return len(s)
	}
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}
