package query

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/search/query"
)

type occur int

const (
	occurShould occur = iota
	occurMust
	occurMustNot
)

type conjunction int

const (
	conjNone conjunction = iota
	conjAnd
	conjOr
)

type modifier int

const (
	modNone modifier = iota
	modNot
	modReq
)

type clause struct {
	q     query.Query
	occur occur
}

// parser turns classic query syntax into a bleve query. Unfielded clauses
// are expanded over fields; the empty field name is the catch-all field.
type parser struct {
	toks     []token
	i        int
	opts     ParserOptions
	fields   []string
	analyzer analysis.Analyzer

	multiTerm int
	scoring   int
}

// Parse parses src. constantScore reports whether the query consists only
// of multi-term clauses and the rewrite method disables their scoring.
func Parse(src string, opts ParserOptions, fields []string, analyzer analysis.Analyzer) (q query.Query, constantScore bool, err error) {
	toks, err := lex(src)
	if err != nil {
		return nil, false, err
	}
	if len(fields) == 0 {
		fields = []string{""}
	}
	p := &parser{toks: toks, opts: opts, fields: fields, analyzer: analyzer}

	q, err = p.query(p.fields)
	if err != nil {
		return nil, false, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, false, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("unexpected %s", t.kind)}
	}
	if q == nil {
		q = query.NewMatchNoneQuery()
	}
	constantScore = opts.RewriteMethod.ConstantScore() && p.multiTerm > 0 && p.scoring == 0
	return q, constantScore, nil
}

func (p *parser) peek() token { return p.toks[p.i] }

func (p *parser) peekAt(n int) token {
	if p.i+n >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.i+n]
}

func (p *parser) advance() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) query(fields []string) (query.Query, error) {
	var clauses []clause
	var first query.Query

	mods := p.modifiers()
	q, err := p.clause(fields)
	if err != nil {
		return nil, err
	}
	p.addClause(&clauses, conjNone, mods, q)
	if mods == modNone {
		first = q
	}

	for {
		if k := p.peek().kind; k == tokEOF || k == tokRParen {
			break
		}
		conj := p.conjunction()
		mods = p.modifiers()
		q, err = p.clause(fields)
		if err != nil {
			return nil, err
		}
		p.addClause(&clauses, conj, mods, q)
	}

	if len(clauses) == 1 && first != nil {
		return first, nil
	}
	return booleanQuery(clauses), nil
}

func (p *parser) conjunction() conjunction {
	switch p.peek().kind {
	case tokAnd:
		p.advance()
		return conjAnd
	case tokOr:
		p.advance()
		return conjOr
	}
	return conjNone
}

func (p *parser) modifiers() modifier {
	switch p.peek().kind {
	case tokPlus:
		p.advance()
		return modReq
	case tokMinus, tokNot:
		p.advance()
		return modNot
	}
	return modNone
}

// addClause applies classic parser conjunction rules: AND makes the
// previous clause required, OR under a default AND makes it optional.
func (p *parser) addClause(clauses *[]clause, conj conjunction, mods modifier, q query.Query) {
	cs := *clauses
	if n := len(cs); n > 0 {
		last := &cs[n-1]
		if conj == conjAnd && last.occur != occurMustNot {
			last.occur = occurMust
		}
		if conj == conjOr && p.opts.DefaultOperator == OperatorAnd && last.occur != occurMustNot {
			last.occur = occurShould
		}
	}
	if q == nil {
		return
	}

	var required, prohibited bool
	if p.opts.DefaultOperator == OperatorOr {
		required = mods == modReq
		prohibited = mods == modNot
		if conj == conjAnd && !prohibited {
			required = true
		}
	} else {
		prohibited = mods == modNot
		required = !prohibited && conj != conjOr
	}

	c := clause{q: q, occur: occurShould}
	switch {
	case prohibited:
		c.occur = occurMustNot
	case required:
		c.occur = occurMust
	}
	*clauses = append(cs, c)
}

func booleanQuery(clauses []clause) query.Query {
	if len(clauses) == 0 {
		return nil
	}
	var must, should, mustNot []query.Query
	for _, c := range clauses {
		switch c.occur {
		case occurMust:
			must = append(must, c.q)
		case occurMustNot:
			mustNot = append(mustNot, c.q)
		default:
			should = append(should, c.q)
		}
	}
	if len(must) == 0 && len(should) == 0 {
		must = append(must, query.NewMatchAllQuery())
	}
	return query.NewBooleanQuery(must, should, mustNot)
}

func (p *parser) clause(fields []string) (query.Query, error) {
	if t := p.peek(); t.kind == tokTerm && p.peekAt(1).kind == tokColon {
		p.advance()
		p.advance()
		fields = []string{t.text}
		if t.text == "*" && p.peek().kind == tokTerm && p.peek().text == "*" {
			p.advance()
			return p.boosted(query.NewMatchAllQuery()), nil
		}
	}

	t := p.advance()
	switch t.kind {
	case tokLParen:
		q, err := p.query(fields)
		if err != nil {
			return nil, err
		}
		if r := p.advance(); r.kind != tokRParen {
			return nil, &SyntaxError{Pos: r.pos, Msg: fmt.Sprintf("expected ')' but found %s", r.kind)}
		}
		return p.boosted(q), nil

	case tokTerm:
		var fuzzy *token
		if p.peek().kind == tokTilde {
			f := p.advance()
			fuzzy = &f
		}
		q, err := p.expand(fields, func(field string) (query.Query, error) {
			return p.termQuery(field, t, fuzzy)
		})
		if err != nil {
			return nil, err
		}
		return p.boosted(q), nil

	case tokPhrase:
		slop := p.opts.PhraseSlop
		if p.peek().kind == tokTilde {
			if f := p.advance(); f.hasNum {
				slop = int(f.num)
			}
		}
		q, err := p.expand(fields, func(field string) (query.Query, error) {
			p.scoring++
			return p.phraseQuery(field, t.text, slop), nil
		})
		if err != nil {
			return nil, err
		}
		return p.boosted(q), nil

	case tokRegexp:
		q, err := p.expand(fields, func(field string) (query.Query, error) {
			p.multiTerm++
			rq := query.NewRegexpQuery(p.expandedTerm(t.text))
			rq.SetField(field)
			return rq, nil
		})
		if err != nil {
			return nil, err
		}
		return p.boosted(q), nil

	case tokRange:
		q, err := p.expand(fields, func(field string) (query.Query, error) {
			p.multiTerm++
			return p.rangeQuery(field, t)
		})
		if err != nil {
			return nil, err
		}
		return p.boosted(q), nil
	}

	if t.kind == tokEOF {
		return nil, &SyntaxError{Pos: t.pos, Msg: "unexpected end of query"}
	}
	return nil, &SyntaxError{Pos: t.pos, Msg: fmt.Sprintf("unexpected %s", t.kind)}
}

// boosted consumes an optional '^n' and applies it to q.
func (p *parser) boosted(q query.Query) query.Query {
	if p.peek().kind != tokCaret {
		return q
	}
	b := p.advance()
	if bq, ok := q.(query.BoostableQuery); ok {
		bq.SetBoost(b.num)
	}
	return q
}

// expand builds one query per field and ORs them.
func (p *parser) expand(fields []string, build func(field string) (query.Query, error)) (query.Query, error) {
	var out []query.Query
	for _, f := range fields {
		q, err := build(f)
		if err != nil {
			return nil, err
		}
		if q != nil {
			out = append(out, q)
		}
	}
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		return out[0], nil
	}
	return query.NewDisjunctionQuery(out), nil
}

func (p *parser) expandedTerm(s string) string {
	if p.opts.LowercaseExpandedTerms {
		return p.opts.Lower(s)
	}
	return s
}

func (p *parser) termQuery(field string, t token, fuzzy *token) (query.Query, error) {
	switch {
	case fuzzy != nil:
		return p.fuzzyQuery(field, t, fuzzy)
	case t.wild:
		return p.wildcardQuery(field, t)
	}

	p.scoring++
	if p.opts.AutoGeneratePhraseQueries {
		return p.phraseQuery(field, t.text, 0), nil
	}
	mq := query.NewMatchQuery(t.text)
	mq.SetField(field)
	if p.opts.DefaultOperator == OperatorAnd {
		mq.SetOperator(query.MatchQueryOperatorAnd)
	}
	if n, err := strconv.ParseFloat(t.text, 64); err == nil && !math.IsNaN(n) && !math.IsInf(n, 0) {
		return query.NewDisjunctionQuery([]query.Query{mq, numericRange(field, &n, &n, true, true)}), nil
	}
	return mq, nil
}

// phraseQuery matches text as a phrase. Slop is approximated by requiring
// every term, since phrase matching here is exact-position only.
func (p *parser) phraseQuery(field, text string, slop int) query.Query {
	if slop > 0 {
		mq := query.NewMatchQuery(text)
		mq.SetField(field)
		mq.SetOperator(query.MatchQueryOperatorAnd)
		return mq
	}
	pq := query.NewMatchPhraseQuery(text)
	pq.SetField(field)
	return pq
}

func (p *parser) wildcardQuery(field string, t token) (query.Query, error) {
	text := p.expandedTerm(t.text)
	if !p.opts.AllowLeadingWildcard && (strings.HasPrefix(text, "*") || strings.HasPrefix(text, "?")) {
		return nil, &SyntaxError{Pos: t.pos, Msg: "'*' or '?' not allowed as first character in wildcard query"}
	}
	p.multiTerm++
	if len(text) > 1 && strings.Count(text, "*") == 1 && strings.HasSuffix(text, "*") && !strings.Contains(text, "?") {
		pq := query.NewPrefixQuery(strings.TrimSuffix(text, "*"))
		pq.SetField(field)
		return pq, nil
	}
	wq := query.NewWildcardQuery(text)
	wq.SetField(field)
	return wq, nil
}

func (p *parser) fuzzyQuery(field string, t token, fuzzy *token) (query.Query, error) {
	opts := p.opts
	if fuzzy.hasNum {
		if fuzzy.num >= 1 && fuzzy.num != math.Trunc(fuzzy.num) {
			return nil, &SyntaxError{Pos: fuzzy.pos, Msg: "fractional edit distances are not allowed"}
		}
		opts.FuzzyMinSim = fuzzy.num
	}
	text := p.expandedTerm(t.text)
	p.scoring++
	fq := query.NewFuzzyQuery(text)
	fq.SetField(field)
	fq.SetFuzziness(opts.FuzzyEdits(utf8.RuneCountInString(text)))
	fq.SetPrefix(opts.FuzzyPrefixLength)
	return fq, nil
}

func (p *parser) rangeQuery(field string, t token) (query.Query, error) {
	if t.lowerOpen && t.upperOpen {
		wq := query.NewWildcardQuery("*")
		wq.SetField(field)
		return wq, nil
	}

	if lo, hi, ok := numericBounds(t); ok {
		return numericRange(field, lo, hi, t.inclLower, t.inclUpper), nil
	}
	if lo, hi, ok := p.dateBounds(t); ok {
		return numericRange(field, lo, hi, true, false), nil
	}

	lo, hi := t.lower, t.upper
	if t.lowerOpen {
		lo = ""
	} else {
		lo = p.rangeTerm(lo)
	}
	if t.upperOpen {
		hi = ""
	} else {
		hi = p.rangeTerm(hi)
	}
	il, iu := t.inclLower, t.inclUpper
	rq := query.NewTermRangeInclusiveQuery(lo, hi, &il, &iu)
	rq.SetField(field)
	return rq, nil
}

func (p *parser) rangeTerm(s string) string {
	s = p.expandedTerm(s)
	if !p.opts.AnalyzeRangeTerms || p.analyzer == nil {
		return s
	}
	if ts := p.analyzer.Analyze([]byte(s)); len(ts) == 1 {
		return string(ts[0].Term)
	}
	return s
}

func numericRange(field string, lo, hi *float64, inclLower, inclUpper bool) query.Query {
	rq := query.NewNumericRangeInclusiveQuery(lo, hi, &inclLower, &inclUpper)
	rq.SetField(field)
	return rq
}

func numericBounds(t token) (lo, hi *float64, ok bool) {
	parse := func(s string, open bool) (*float64, bool) {
		if open {
			return nil, true
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, false
		}
		return &f, true
	}
	var okLo, okHi bool
	if lo, okLo = parse(t.lower, t.lowerOpen); !okLo {
		return nil, nil, false
	}
	if hi, okHi = parse(t.upper, t.upperOpen); !okHi {
		return nil, nil, false
	}
	return lo, hi, true
}

var dateLayouts = []struct {
	layout   string
	dateOnly bool
}{
	{time.RFC3339Nano, false},
	{"2006-01-02T15:04:05", false},
	{"2006-01-02 15:04:05", false},
	{"2006-01-02T15:04", false},
	{"2006-01-02", true},
	{"2006/01/02", true},
	{"1/2/2006", true},
	{"1/2/06", true},
}

func (p *parser) parseDate(s string) (time.Time, bool, bool) {
	for _, l := range dateLayouts {
		if t, err := time.ParseInLocation(l.layout, s, p.opts.Timezone); err == nil {
			return t.In(p.opts.Timezone), l.dateOnly, true
		}
	}
	return time.Time{}, false, false
}

// dateBounds converts date bounds to a half-open millisecond range
// [lo, hi) rounded to the configured resolution. An inclusive date-only
// upper bound covers the whole day.
func (p *parser) dateBounds(t token) (lo, hi *float64, ok bool) {
	res := p.opts.DateResolution
	if !t.lowerOpen {
		d, _, ok := p.parseDate(t.lower)
		if !ok {
			return nil, nil, false
		}
		start := res.floor(d)
		if !t.inclLower {
			start = res.next(d)
		}
		ms := float64(start.UnixMilli())
		lo = &ms
	}
	if !t.upperOpen {
		d, dateOnly, ok := p.parseDate(t.upper)
		if !ok {
			return nil, nil, false
		}
		var end time.Time
		switch {
		case !t.inclUpper:
			end = res.floor(d)
		case dateOnly && res < ResolutionDay:
			end = ResolutionDay.next(d)
		default:
			end = res.next(d)
		}
		ms := float64(end.UnixMilli())
		hi = &ms
	}
	return lo, hi, true
}
