// Package facet maintains facet labels for indexed documents and answers
// drill-down and count requests against a snapshot.
package facet

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2/search/query"

	ixerrors "github.com/Aman-CERP/nrtindex/internal/errors"
	"github.com/Aman-CERP/nrtindex/internal/store"
	"github.com/Aman-CERP/nrtindex/pkg/keys"
)

// Option names read from QueryKey options.
const (
	OptionDrillDown = "drilldown"
	OptionFacets    = "facets"
)

// Config lists the facet-enabled fields of an index.
type Config struct {
	Fields []string
}

// Enabled reports whether any field is facet-enabled.
func (c Config) Enabled() bool { return len(c.Fields) > 0 }

// Label is a dim/value facet path.
type Label struct {
	Dim   string
	Value string
}

// Term is the indexed form of the label.
func (l Label) Term() string { return l.Dim + "/" + l.Value }

func (l Label) String() string { return l.Term() }

// ParseLabel splits "dim/value" at the first slash.
func ParseLabel(s string) (Label, error) {
	dim, value, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok || dim == "" || value == "" {
		return Label{}, ixerrors.ConfigError(fmt.Sprintf("facet label %q must be dim/value", s), nil)
	}
	return Label{Dim: dim, Value: value}, nil
}

// Count is the number of matching documents carrying a label.
type Count struct {
	Label Label
	Count uint64
}

// DimCounts holds the top labels of one dimension.
type DimCounts struct {
	Dim    string
	Counts []Count
}

// QueryContext is a translated query plus its facet requirements.
type QueryContext struct {
	Query     query.Query
	DrillDown []Label
	Dims      []string
}

// Effective returns the query restricted to every drill-down label.
func (qc QueryContext) Effective() query.Query {
	if len(qc.DrillDown) == 0 {
		return qc.Query
	}
	conjuncts := []query.Query{qc.Query}
	for _, l := range qc.DrillDown {
		conjuncts = append(conjuncts, labelQuery(l))
	}
	return query.NewConjunctionQuery(conjuncts)
}

func labelQuery(l Label) query.Query {
	q := query.NewTermQuery(l.Term())
	q.SetField(keys.FacetField)
	return q
}

// Subsystem is the facet behaviour the engine depends on. The inert
// implementation is used when no field is facet-enabled.
type Subsystem interface {
	IsEnabled(field string) bool
	BuildLabel(field string, value keys.Scalar) Label
	// Decorate adds label entries to doc and records new labels in the taxonomy.
	Decorate(doc *store.Document, labels []Label) error
	// AugmentQuery adds drill-down restrictions and requested dims from key options.
	AugmentQuery(qc QueryContext, key keys.Key) (QueryContext, error)
	// Counts returns per-dimension label counts under qc within snap.
	Counts(ctx context.Context, snap *store.Snapshot, qc QueryContext, topN int) ([]DimCounts, error)
	// Commit persists labels recorded since the last commit.
	Commit() error
	// Delete removes the persisted taxonomy.
	Delete() error
	Close() error
}

// New returns the inert subsystem when cfg enables nothing, otherwise a
// taxonomy-backed one persisted at taxonomyPath ("" keeps it in memory).
func New(cfg Config, taxonomyPath string, logger *slog.Logger) (Subsystem, error) {
	if !cfg.Enabled() {
		return Inert{}, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	tax, err := openTaxonomy(taxonomyPath, logger)
	if err != nil {
		return nil, err
	}
	enabled := make(map[string]bool, len(cfg.Fields))
	for _, f := range cfg.Fields {
		enabled[f] = true
	}
	return &Manager{enabled: enabled, tax: tax, logger: logger}, nil
}

// Inert is the facet subsystem of an index without facet fields.
type Inert struct{}

func (Inert) IsEnabled(string) bool                    { return false }
func (Inert) BuildLabel(f string, v keys.Scalar) Label { return Label{Dim: f, Value: v.String()} }
func (Inert) Decorate(*store.Document, []Label) error  { return nil }
func (Inert) Commit() error                            { return nil }
func (Inert) Delete() error                            { return nil }
func (Inert) Close() error                             { return nil }

func (Inert) AugmentQuery(qc QueryContext, _ keys.Key) (QueryContext, error) { return qc, nil }

func (Inert) Counts(context.Context, *store.Snapshot, QueryContext, int) ([]DimCounts, error) {
	return nil, nil
}

// Manager is the taxonomy-backed facet subsystem.
type Manager struct {
	enabled map[string]bool
	tax     *taxonomy
	logger  *slog.Logger
}

func (m *Manager) IsEnabled(field string) bool { return m.enabled[field] }

func (m *Manager) BuildLabel(field string, value keys.Scalar) Label {
	return Label{Dim: field, Value: value.String()}
}

func (m *Manager) Decorate(doc *store.Document, labels []Label) error {
	for _, l := range labels {
		if !m.enabled[l.Dim] {
			return ixerrors.InternalError(fmt.Sprintf("field %q is not facet-enabled", l.Dim), nil)
		}
		doc.Fields = append(doc.Fields, store.Field{
			Name:  keys.FacetField,
			Kind:  store.FieldKeyword,
			Text:  l.Term(),
			Index: true,
		})
		m.tax.add(l)
	}
	return nil
}

func (m *Manager) AugmentQuery(qc QueryContext, key keys.Key) (QueryContext, error) {
	qk, ok := key.(keys.QueryKey)
	if !ok {
		return qc, nil
	}

	for name, raw := range qk.Options {
		switch strings.ToLower(name) {
		case OptionDrillDown:
			for _, s := range optionList(raw) {
				l, err := ParseLabel(s)
				if err != nil {
					return qc, err
				}
				if !m.enabled[l.Dim] {
					return qc, ixerrors.ConfigError(fmt.Sprintf("drill-down on non-facet field %q", l.Dim), nil)
				}
				qc.DrillDown = append(qc.DrillDown, l)
			}
		case OptionFacets:
			for _, d := range optionList(raw) {
				if !m.enabled[d] {
					return qc, ixerrors.ConfigError(fmt.Sprintf("facet counts requested for non-facet field %q", d), nil)
				}
				qc.Dims = append(qc.Dims, d)
			}
		}
	}
	return qc, nil
}

func (m *Manager) Counts(ctx context.Context, snap *store.Snapshot, qc QueryContext, topN int) ([]DimCounts, error) {
	dims := qc.Dims
	if len(dims) == 0 {
		for d := range m.enabled {
			dims = append(dims, d)
		}
		sort.Strings(dims)
	}
	base := qc.Effective()

	out := make([]DimCounts, 0, len(dims))
	for _, dim := range dims {
		dc := DimCounts{Dim: dim}
		for _, l := range m.tax.labels(dim) {
			n, err := snap.Count(ctx, query.NewConjunctionQuery([]query.Query{base, labelQuery(l)}))
			if err != nil {
				return nil, err
			}
			if n > 0 {
				dc.Counts = append(dc.Counts, Count{Label: l, Count: n})
			}
		}
		sort.Slice(dc.Counts, func(i, j int) bool {
			if dc.Counts[i].Count != dc.Counts[j].Count {
				return dc.Counts[i].Count > dc.Counts[j].Count
			}
			return dc.Counts[i].Label.Value < dc.Counts[j].Label.Value
		})
		if topN > 0 && len(dc.Counts) > topN {
			dc.Counts = dc.Counts[:topN]
		}
		out = append(out, dc)
	}
	return out, nil
}

func (m *Manager) Commit() error { return m.tax.commit() }
func (m *Manager) Delete() error { return m.tax.destroy() }
func (m *Manager) Close() error  { return m.tax.close() }

// optionList accepts a comma-separated string or a string slice.
func optionList(v any) []string {
	var raw []string
	switch x := v.(type) {
	case string:
		raw = strings.Split(x, ",")
	case []string:
		raw = x
	case []any:
		for _, e := range x {
			raw = append(raw, fmt.Sprint(e))
		}
	default:
		raw = []string{fmt.Sprint(x)}
	}

	out := raw[:0:0]
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
