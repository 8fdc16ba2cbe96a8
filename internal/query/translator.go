// Package query translates keys into bleve queries: exact lookups, free-text
// queries in classic query syntax, deletion queries and key ranges.
package query

import (
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/query"
	lru "github.com/hashicorp/golang-lru/v2"

	ixerrors "github.com/Aman-CERP/nrtindex/internal/errors"
	"github.com/Aman-CERP/nrtindex/internal/facet"
	"github.com/Aman-CERP/nrtindex/pkg/keys"
)

// DefaultCacheSize is the number of parsed free-text queries kept per index.
const DefaultCacheSize = 256

// Translation is a query ready to run against a snapshot.
type Translation struct {
	Query query.Query
	// ConstantScore disables scoring for queries that only hold
	// constant-score multi-term clauses.
	ConstantScore bool
	// Sort is set for range translations.
	Sort search.SortOrder
	// SortKind is the kind a range's sort values decode to.
	SortKind keys.Kind
}

// Translator builds queries for one index definition.
type Translator struct {
	def      keys.Definition
	base     ParserOptions
	analyzer analysis.Analyzer
	facets   facet.Subsystem
	cache    *lru.Cache[string, Translation]
}

// Option configures a Translator.
type Option func(*Translator)

// WithParserDefaults sets the index-wide parser options free-text keys
// are applied over.
func WithParserDefaults(o ParserOptions) Option {
	return func(t *Translator) { t.base = o }
}

// WithAnalyzer sets the analyzer used for analyzerangeterms.
func WithAnalyzer(a analysis.Analyzer) Option {
	return func(t *Translator) { t.analyzer = a }
}

// WithFacets routes exact matches on facet-enabled fields to their labels.
func WithFacets(f facet.Subsystem) Option {
	return func(t *Translator) { t.facets = f }
}

// NewTranslator creates a translator for def. A cacheSize of zero or less
// uses DefaultCacheSize.
func NewTranslator(def keys.Definition, cacheSize int, opts ...Option) (*Translator, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, Translation](cacheSize)
	if err != nil {
		return nil, ixerrors.InternalError("failed to create query cache", err)
	}
	t := &Translator{
		def:    def,
		base:   DefaultParserOptions(),
		facets: facet.Inert{},
		cache:  cache,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Translate dispatches on the key shape.
func (t *Translator) Translate(key keys.Key) (Translation, error) {
	if qk, ok := key.(keys.QueryKey); ok {
		return t.FullText(qk)
	}
	q, err := t.Exact(key)
	if err != nil {
		return Translation{}, err
	}
	return Translation{Query: q}, nil
}

// Exact matches documents written with exactly key. A scalar matches on
// any field; composite and collection keys must match field by field.
func (t *Translator) Exact(key keys.Key) (query.Query, error) {
	switch k := key.(type) {
	case keys.Scalar:
		if k.IsNull() {
			return nil, ixerrors.InvalidKey("a null key matches nothing")
		}
		fields := t.def.FieldsFor(1)
		if len(fields) == 1 {
			return t.exactClause(fields[0], k), nil
		}
		clauses := make([]query.Query, len(fields))
		for i, f := range fields {
			clauses[i] = t.exactClause(f, k)
		}
		return query.NewDisjunctionQuery(clauses), nil
	case keys.Composite, keys.Collection:
		parts, _ := keys.Parts(k)
		clauses, err := t.positional(parts)
		if err != nil {
			return nil, err
		}
		return query.NewConjunctionQuery(clauses), nil
	case keys.QueryKey:
		return nil, ixerrors.InvalidKey("a free-text key has no exact form")
	default:
		return nil, ixerrors.InvalidKey(fmt.Sprintf("unsupported key type %T", key))
	}
}

func (t *Translator) positional(parts []keys.Scalar) ([]query.Query, error) {
	fields := t.def.FieldsFor(len(parts))
	if len(fields) != len(parts) {
		return nil, ixerrors.InvalidKey(fmt.Sprintf("key has %d parts, index %q has %d fields",
			len(parts), t.def.Name, len(fields)))
	}
	clauses := make([]query.Query, 0, len(parts))
	for i, p := range parts {
		if p.IsNull() {
			continue
		}
		clauses = append(clauses, t.exactClause(fields[i], p))
	}
	if len(clauses) == 0 {
		return nil, ixerrors.InvalidKey("key has no non-null parts")
	}
	return clauses, nil
}

func (t *Translator) exactClause(field string, v keys.Scalar) query.Query {
	if t.facets.IsEnabled(field) {
		tq := query.NewTermQuery(t.facets.BuildLabel(field, v).Term())
		tq.SetField(keys.FacetField)
		return tq
	}
	exact := keys.ExactField(field)
	switch {
	case v.Kind().Integral():
		tq := query.NewTermQuery(v.String())
		tq.SetField(keys.IntegralField(field))
		return tq
	case v.IsNumeric():
		n := v.Number()
		return numericRange(exact, &n, &n, true, true)
	}
	tq := query.NewTermQuery(v.String())
	tq.SetField(exact)
	return tq
}

// IdentityQuery matches every document owned by id.
func IdentityQuery(id keys.Identity) query.Query {
	tq := query.NewTermQuery(string(id))
	tq.SetField(keys.IdentityField)
	return tq
}

// DeleteQuery matches the documents written for key and id: the identity
// term plus the exact copy of every key part.
func (t *Translator) DeleteQuery(key keys.Key, id keys.Identity) (query.Query, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	parts, ok := keys.Parts(key)
	if !ok {
		return nil, ixerrors.InvalidKey("a free-text key cannot select documents for removal")
	}
	clauses, err := t.positional(parts)
	if err != nil {
		return nil, err
	}
	return query.NewConjunctionQuery(append([]query.Query{IdentityQuery(id)}, clauses...)), nil
}

// FullText parses a free-text key. The parser type comes from the key's
// options; without one, a query wrapped in parentheses is parsed against
// the catch-all field and anything else across every index field.
func (t *Translator) FullText(qk keys.QueryKey) (Translation, error) {
	if strings.TrimSpace(qk.Query) == "" {
		return Translation{}, ixerrors.New(ixerrors.ErrCodeQueryEmpty, "query must not be empty", nil)
	}
	opts, err := ParseOptions(qk.Options, t.base)
	if err != nil {
		return Translation{}, err
	}

	multi := opts.ParserType == ParserMultiField
	if opts.ParserType == ParserInferred {
		multi = !(strings.HasPrefix(qk.Query, "(") && strings.HasSuffix(qk.Query, ")"))
	}
	var fields []string
	if multi {
		fields = t.def.QueryFields()
	}

	cacheKey := opts.cacheKey() + "\x00" + strings.Join(fields, ",") + "\x00" + qk.Query
	if tr, ok := t.cache.Get(cacheKey); ok {
		return tr, nil
	}

	q, constant, err := Parse(qk.Query, opts, fields, t.analyzer)
	if err != nil {
		return Translation{}, ixerrors.QuerySyntax(qk.Query, err)
	}
	tr := Translation{Query: q, ConstantScore: constant}
	t.cache.Add(cacheKey, tr)
	return tr, nil
}

// CacheLen reports how many parsed queries are cached.
func (t *Translator) CacheLen() int { return t.cache.Len() }

// Range matches keys between lower and upper on the index's first field,
// sorted by that field. A nil bound is open; composite bounds compare on
// their first part. The sort type follows whichever bound is present.
func (t *Translator) Range(lower, upper keys.Key, inclLower, inclUpper, ascending bool) (Translation, error) {
	lo, err := rangeBound(lower)
	if err != nil {
		return Translation{}, err
	}
	hi, err := rangeBound(upper)
	if err != nil {
		return Translation{}, err
	}
	if lo == nil && hi == nil {
		return Translation{}, ixerrors.InvalidKey("a range needs at least one bound")
	}

	var kind keys.Kind
	if lo != nil {
		kind = lo.Kind()
	} else {
		kind = hi.Kind()
	}
	if lo != nil && hi != nil && lo.IsNumeric() != hi.IsNumeric() {
		return Translation{}, ixerrors.InvalidKey("range bounds mix numeric and text values")
	}

	field := t.def.FieldsFor(1)[0]
	if t.facets.IsEnabled(field) {
		return Translation{}, ixerrors.Unsupported(fmt.Sprintf("range over facet field %q", field))
	}
	exact := keys.ExactField(field)

	var q query.Query
	sortType := search.SortFieldAsString
	if kind.Numeric() {
		sortType = search.SortFieldAsNumber
		var minV, maxV *float64
		if lo != nil {
			n := lo.Number()
			minV = &n
		}
		if hi != nil {
			n := hi.Number()
			maxV = &n
		}
		q = numericRange(exact, minV, maxV, inclLower, inclUpper)
	} else {
		var minV, maxV string
		if lo != nil {
			minV = lo.String()
		}
		if hi != nil {
			maxV = hi.String()
		}
		rq := query.NewTermRangeInclusiveQuery(minV, maxV, &inclLower, &inclUpper)
		rq.SetField(exact)
		q = rq
	}

	return Translation{
		Query:         q,
		ConstantScore: true,
		Sort:          search.SortOrder{&search.SortField{Field: exact, Type: sortType, Desc: !ascending}},
		SortKind:      kind,
	}, nil
}

func rangeBound(k keys.Key) (*keys.Scalar, error) {
	if k == nil {
		return nil, nil
	}
	parts, ok := keys.Parts(k)
	if !ok || len(parts) == 0 || parts[0].IsNull() {
		return nil, ixerrors.InvalidKey(fmt.Sprintf("%T cannot bound a range", k))
	}
	return &parts[0], nil
}
