// Package jsondir serves patient lookups from a directory of JSON discharge records.
package jsondir

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve"
	"github.com/blevesearch/bleve/search/query"

	"github.com/sweetpotato0/carebridge/patient"
	"github.com/sweetpotato0/carebridge/pkg/logging"
)

// Option customizes the directory.
type Option func(*Directory)

// WithFuzzy enables typo-tolerant matching (edit distance 1 per name term)
// when exact and substring matching find nothing.
func WithFuzzy(enabled bool) Option {
	return func(d *Directory) { d.fuzzyEnabled = enabled }
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Directory) {
		if l != nil {
			d.logger = l
		}
	}
}

// Directory is an in-memory patient.Directory.
type Directory struct {
	records      []patient.Record
	names        map[string][]int // full, first and last name -> record indices
	fuzzyEnabled bool
	fuzzy        bleve.Index
	logger       *slog.Logger
}

var _ patient.Directory = (*Directory)(nil)

// Open loads every *.json file in dir. A file holds one record or an array of
// records. A missing directory yields an empty directory.
func Open(dir string, opts ...Option) (*Directory, error) {
	entries, err := os.ReadDir(dir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read patients dir: %w", err)
	}

	var records []patient.Record
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		recs, err := readFile(path)
		if err != nil {
			return nil, err
		}
		records = append(records, recs...)
	}
	return New(records, opts...)
}

func readFile(path string) ([]patient.Record, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var recs []patient.Record
		if err := json.Unmarshal(raw, &recs); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		return recs, nil
	}
	var rec patient.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return []patient.Record{rec}, nil
}

// New indexes the given records.
func New(records []patient.Record, opts ...Option) (*Directory, error) {
	d := &Directory{
		names:        make(map[string][]int),
		fuzzyEnabled: true,
		logger:       logging.WithComponent("patients"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}

	for _, r := range records {
		if strings.TrimSpace(r.Name) == "" {
			continue
		}
		i := len(d.records)
		d.records = append(d.records, r.Clone())

		full := normalize(r.Name)
		d.add(full, i)
		if parts := strings.Fields(full); len(parts) >= 2 {
			d.add(parts[0], i)
			d.add(parts[len(parts)-1], i)
		}
	}

	if d.fuzzyEnabled {
		idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create name index: %w", err)
		}
		for i, r := range d.records {
			if err := idx.Index(strconv.Itoa(i), map[string]any{"name": r.Name}); err != nil {
				return nil, fmt.Errorf("index patient %s: %w", r.PatientID, err)
			}
		}
		d.fuzzy = idx
	}

	d.logger.Info("patient records loaded", "count", len(d.records))
	return d, nil
}

func (d *Directory) add(key string, i int) {
	for _, j := range d.names[key] {
		if j == i {
			return
		}
	}
	d.names[key] = append(d.names[key], i)
}

// Lookup tries an exact name-index hit, then substring matching on full
// names, then fuzzy matching. The disambiguator, when it parses as a date,
// keeps only matches whose date of birth or discharge date equals it.
func (d *Directory) Lookup(ctx context.Context, name, disambiguator string) (patient.LookupResult, error) {
	if err := ctx.Err(); err != nil {
		return patient.LookupResult{}, err
	}
	q := normalize(name)
	if q == "" {
		return patient.LookupResult{Status: patient.None}, nil
	}

	idx, how := d.names[q], "exact"
	if len(idx) == 0 {
		idx, how = d.substring(q), "substring"
	}
	if len(idx) == 0 && d.fuzzy != nil {
		var err error
		idx, err = d.fuzzyMatch(ctx, q)
		if err != nil {
			return patient.LookupResult{}, fmt.Errorf("fuzzy name search: %w", err)
		}
		how = "fuzzy"
	}

	matches := make([]patient.Record, 0, len(idx))
	for _, i := range idx {
		r := d.records[i]
		if disambiguator != "" && !r.MatchesDate(disambiguator) {
			continue
		}
		matches = append(matches, r.Clone())
	}

	res := patient.ResultOf(matches)
	d.logger.Debug("patient lookup", "name", name, "strategy", how, "status", res.Status, "matches", len(matches))
	return res, nil
}

func (d *Directory) substring(q string) []int {
	var out []int
	for i, r := range d.records {
		if strings.Contains(normalize(r.Name), q) {
			out = append(out, i)
		}
	}
	return out
}

func (d *Directory) fuzzyMatch(ctx context.Context, q string) ([]int, error) {
	terms := strings.Fields(q)
	conjuncts := make([]query.Query, 0, len(terms))
	for _, term := range terms {
		fq := bleve.NewFuzzyQuery(term)
		fq.SetFuzziness(1)
		fq.SetField("name")
		conjuncts = append(conjuncts, fq)
	}
	req := bleve.NewSearchRequestOptions(bleve.NewConjunctionQuery(conjuncts...), len(d.records), 0, false)
	res, err := d.fuzzy.SearchInContext(ctx, req)
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, len(res.Hits))
	for _, hit := range res.Hits {
		i, err := strconv.Atoi(hit.ID)
		if err != nil || i < 0 || i >= len(d.records) {
			continue
		}
		out = append(out, i)
	}
	sort.Ints(out)
	return out, nil
}

// Count returns the number of loaded records.
func (d *Directory) Count() int { return len(d.records) }

// Names lists patient names in load order.
func (d *Directory) Names() []string {
	out := make([]string, len(d.records))
	for i, r := range d.records {
		out[i] = r.Name
	}
	return out
}

// Close releases the fuzzy index.
func (d *Directory) Close() error {
	if d.fuzzy == nil {
		return nil
	}
	return d.fuzzy.Close()
}

func normalize(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
