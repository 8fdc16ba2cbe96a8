package query

import (
	"testing"
	"time"

	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, src string, opts ParserOptions, fields ...string) (query.Query, bool) {
	t.Helper()
	q, constant, err := Parse(src, opts, fields, nil)
	require.NoError(t, err, src)
	return q, constant
}

func TestLex_OperatorsAndEscapes(t *testing.T) {
	toks, err := lex(`a && b || !c AND d\:e "x \"y\""~2 f^1.5`)
	require.NoError(t, err)

	kinds := make([]tokenKind, len(toks))
	for i, tk := range toks {
		kinds[i] = tk.kind
	}
	assert.Equal(t, []tokenKind{
		tokTerm, tokAnd, tokTerm, tokOr, tokNot, tokTerm, tokAnd, tokTerm,
		tokPhrase, tokTilde, tokTerm, tokCaret, tokEOF,
	}, kinds)
	assert.Equal(t, "d:e", toks[7].text)
	assert.Equal(t, `x "y"`, toks[8].text)
	assert.Equal(t, 2.0, toks[9].num)
	assert.Equal(t, 1.5, toks[11].num)
}

func TestLex_HyphenInsideTerm(t *testing.T) {
	toks, err := lex("wi-fi -cable")
	require.NoError(t, err)

	assert.Equal(t, "wi-fi", toks[0].text)
	assert.Equal(t, tokMinus, toks[1].kind)
	assert.Equal(t, "cable", toks[2].text)
}

func TestParse_SingleTermIsUnwrapped(t *testing.T) {
	q, constant := parse(t, "mountain", DefaultParserOptions(), "title")

	mq, ok := q.(*query.MatchQuery)
	require.True(t, ok, "got %T", q)
	assert.Equal(t, "title", mq.FieldVal)
	assert.Equal(t, "mountain", mq.Match)
	assert.False(t, constant)
}

func TestParse_MultiFieldExpansion(t *testing.T) {
	q, _ := parse(t, "mountain", DefaultParserOptions(), "title", "author")

	dq, ok := q.(*query.DisjunctionQuery)
	require.True(t, ok, "got %T", q)
	require.Len(t, dq.Disjuncts, 2)
	assert.Equal(t, "author", dq.Disjuncts[1].(*query.MatchQuery).FieldVal)
}

func TestParse_ExplicitFieldOverridesDefaults(t *testing.T) {
	q, _ := parse(t, "author:alice", DefaultParserOptions(), "title", "author")

	mq, ok := q.(*query.MatchQuery)
	require.True(t, ok, "got %T", q)
	assert.Equal(t, "author", mq.FieldVal)
}

func TestParse_ConjunctionRules(t *testing.T) {
	and := DefaultParserOptions()
	and.DefaultOperator = OperatorAnd

	tests := []struct {
		name                  string
		src                   string
		opts                  ParserOptions
		must, should, mustNot int
	}{
		{"implicit or", "a b", DefaultParserOptions(), 0, 2, 0},
		{"explicit and", "a AND b", DefaultParserOptions(), 2, 0, 0},
		{"and then or", "a AND b OR c", DefaultParserOptions(), 2, 1, 0},
		{"modifiers", "+a -b c", DefaultParserOptions(), 1, 1, 1},
		{"not keyword", "a NOT b", DefaultParserOptions(), 0, 1, 1},
		{"implicit and", "a b", and, 2, 0, 0},
		{"or under default and", "a OR b", and, 0, 2, 0},
		{"symbols", "a && b", DefaultParserOptions(), 2, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, _ := parse(t, tt.src, tt.opts, "f")
			bq, ok := q.(*query.BooleanQuery)
			require.True(t, ok, "got %T", q)
			assert.Equal(t, tt.must, countClauses(bq.Must), "must")
			assert.Equal(t, tt.should, countClauses(bq.Should), "should")
			assert.Equal(t, tt.mustNot, countClauses(bq.MustNot), "mustNot")
		})
	}
}

func countClauses(q query.Query) int {
	switch v := q.(type) {
	case nil:
		return 0
	case *query.ConjunctionQuery:
		return len(v.Conjuncts)
	case *query.DisjunctionQuery:
		return len(v.Disjuncts)
	}
	return 1
}

func TestParse_PureNegativeMatchesEverythingElse(t *testing.T) {
	q, _ := parse(t, "-spam", DefaultParserOptions(), "f")

	bq, ok := q.(*query.BooleanQuery)
	require.True(t, ok)
	conj := bq.Must.(*query.ConjunctionQuery)
	require.Len(t, conj.Conjuncts, 1)
	assert.IsType(t, &query.MatchAllQuery{}, conj.Conjuncts[0])
	assert.Equal(t, 1, countClauses(bq.MustNot))
}

func TestParse_GroupsAndFieldedGroups(t *testing.T) {
	q, _ := parse(t, "title:(blue OR red) AND year:2000", DefaultParserOptions(), "title")

	bq, ok := q.(*query.BooleanQuery)
	require.True(t, ok)
	conj := bq.Must.(*query.ConjunctionQuery)
	require.Len(t, conj.Conjuncts, 2)
	inner, ok := conj.Conjuncts[0].(*query.BooleanQuery)
	require.True(t, ok)
	assert.Equal(t, 2, countClauses(inner.Should))
	assert.IsType(t, &query.DisjunctionQuery{}, conj.Conjuncts[1], "numeric text also matches numeric fields")
}

func TestParse_Wildcards(t *testing.T) {
	q, constant := parse(t, "MOUN*", DefaultParserOptions(), "title")
	pq, ok := q.(*query.PrefixQuery)
	require.True(t, ok, "got %T", q)
	assert.Equal(t, "moun", pq.Prefix)
	assert.True(t, constant)

	keep := DefaultParserOptions()
	keep.LowercaseExpandedTerms = false
	q, _ = parse(t, "MOUN*", keep, "title")
	assert.Equal(t, "MOUN", q.(*query.PrefixQuery).Prefix)

	q, _ = parse(t, "m?un*n", DefaultParserOptions(), "title")
	wq, ok := q.(*query.WildcardQuery)
	require.True(t, ok, "got %T", q)
	assert.Equal(t, "m?un*n", wq.Wildcard)
}

func TestParse_LeadingWildcard(t *testing.T) {
	_, _, err := Parse("*ountain", DefaultParserOptions(), []string{"title"}, nil)
	var se *SyntaxError
	require.ErrorAs(t, err, &se)

	allow := DefaultParserOptions()
	allow.AllowLeadingWildcard = true
	q, _ := parse(t, "*ountain", allow, "title")
	assert.IsType(t, &query.WildcardQuery{}, q)
}

func TestParse_MatchAll(t *testing.T) {
	q, _ := parse(t, "*:*", DefaultParserOptions(), "title")
	assert.IsType(t, &query.MatchAllQuery{}, q)
}

func TestParse_ConstantScoreNeedsOnlyMultiTermClauses(t *testing.T) {
	_, constant := parse(t, "moun* AND year:[1 TO 5]", DefaultParserOptions(), "title")
	assert.True(t, constant)

	_, constant = parse(t, "moun* blue", DefaultParserOptions(), "title")
	assert.False(t, constant)

	scoring := DefaultParserOptions()
	scoring.RewriteMethod = RewriteScoringBoolean
	_, constant = parse(t, "moun*", scoring, "title")
	assert.False(t, constant)
}

func TestParse_Fuzzy(t *testing.T) {
	q, _ := parse(t, "Roam~", DefaultParserOptions(), "title")
	fq, ok := q.(*query.FuzzyQuery)
	require.True(t, ok, "got %T", q)
	assert.Equal(t, "roam", fq.Term)
	assert.Equal(t, 2, fq.Fuzziness)

	q, _ = parse(t, "roam~1", DefaultParserOptions(), "title")
	assert.Equal(t, 1, q.(*query.FuzzyQuery).Fuzziness)

	withPrefix := DefaultParserOptions()
	withPrefix.FuzzyPrefixLength = 2
	q, _ = parse(t, "roam~0.5", withPrefix, "title")
	assert.Equal(t, 2, q.(*query.FuzzyQuery).Fuzziness)
	assert.Equal(t, 2, q.(*query.FuzzyQuery).Prefix)

	_, _, err := Parse("roam~1.5", DefaultParserOptions(), []string{"title"}, nil)
	assert.Error(t, err)
}

func TestParse_Phrases(t *testing.T) {
	q, _ := parse(t, `"blue mountain"`, DefaultParserOptions(), "title")
	assert.IsType(t, &query.MatchPhraseQuery{}, q)

	q, _ = parse(t, `"blue mountain"~3`, DefaultParserOptions(), "title")
	mq, ok := q.(*query.MatchQuery)
	require.True(t, ok, "got %T", q)
	assert.Equal(t, query.MatchQueryOperatorAnd, mq.Operator)

	auto := DefaultParserOptions()
	auto.AutoGeneratePhraseQueries = true
	q, _ = parse(t, "wi-fi", auto, "title")
	assert.IsType(t, &query.MatchPhraseQuery{}, q)
}

func TestParse_Boost(t *testing.T) {
	q, _ := parse(t, "mountain^2.5", DefaultParserOptions(), "title")
	assert.Equal(t, 2.5, q.(*query.MatchQuery).Boost())
}

func TestParse_NumericRange(t *testing.T) {
	q, constant := parse(t, "year:[0 TO 10}", DefaultParserOptions(), "title")

	rq, ok := q.(*query.NumericRangeQuery)
	require.True(t, ok, "got %T", q)
	assert.Equal(t, "year", rq.FieldVal)
	assert.Equal(t, 0.0, *rq.Min)
	assert.Equal(t, 10.0, *rq.Max)
	assert.True(t, *rq.InclusiveMin)
	assert.False(t, *rq.InclusiveMax)
	assert.True(t, constant)
}

func TestParse_OpenNumericRange(t *testing.T) {
	q, _ := parse(t, "year:[2000 TO *]", DefaultParserOptions())

	rq, ok := q.(*query.NumericRangeQuery)
	require.True(t, ok, "got %T", q)
	assert.Nil(t, rq.Max)
}

func TestParse_TermRangeLowercased(t *testing.T) {
	q, _ := parse(t, "title:{Apple TO Cherry]", DefaultParserOptions())

	rq, ok := q.(*query.TermRangeQuery)
	require.True(t, ok, "got %T", q)
	assert.Equal(t, "apple", rq.Min)
	assert.Equal(t, "cherry", rq.Max)
	assert.False(t, *rq.InclusiveMin)
	assert.True(t, *rq.InclusiveMax)
}

func TestParse_DateRange(t *testing.T) {
	// Given: an inclusive date-only range
	q, _ := parse(t, "born:[2020-01-01 TO 2020-01-31]", DefaultParserOptions())

	// Then: it covers the whole last day as a half-open millisecond range
	rq, ok := q.(*query.NumericRangeQuery)
	require.True(t, ok, "got %T", q)
	assert.Equal(t, float64(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()), *rq.Min)
	assert.Equal(t, float64(time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC).UnixMilli()), *rq.Max)
	assert.False(t, *rq.InclusiveMax)
}

func TestParse_DateRangeResolutionAndTimezone(t *testing.T) {
	opts := DefaultParserOptions()
	opts.DateResolution = ResolutionMonth
	rome, err := time.LoadLocation("Europe/Rome")
	require.NoError(t, err)
	opts.Timezone = rome

	q, _ := parse(t, "born:[2020-03-15 TO 2020-04-02]", opts)

	rq := q.(*query.NumericRangeQuery)
	assert.Equal(t, float64(time.Date(2020, 3, 1, 0, 0, 0, 0, rome).UnixMilli()), *rq.Min)
	assert.Equal(t, float64(time.Date(2020, 5, 1, 0, 0, 0, 0, rome).UnixMilli()), *rq.Max)
}

func TestParse_Regexp(t *testing.T) {
	q, constant := parse(t, `title:/Moun.*\/x/`, DefaultParserOptions())

	rq, ok := q.(*query.RegexpQuery)
	require.True(t, ok, "got %T", q)
	assert.Equal(t, "moun.*/x", rq.Regexp)
	assert.True(t, constant)
}

func TestParse_SyntaxErrors(t *testing.T) {
	for _, src := range []string{
		"(a b",
		"a)",
		`"unterminated`,
		"title:",
		"[a TO",
		"[a b]",
		"a^",
		`a\`,
		"AND",
		"/open",
	} {
		t.Run(src, func(t *testing.T) {
			_, _, err := Parse(src, DefaultParserOptions(), []string{"f"}, nil)
			var se *SyntaxError
			require.ErrorAs(t, err, &se)
			assert.Contains(t, se.Error(), "syntax error at position")
		})
	}
}
