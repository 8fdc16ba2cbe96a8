package query

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	ixerrors "github.com/Aman-CERP/nrtindex/internal/errors"
)

var (
	errNegative  = errors.New("must not be negative")
	errNonFinite = errors.New("must be a finite number")
)

// Recognized parser option names. Lookup is case-insensitive.
const (
	OptLowercaseExpandedTerms    = "lowercaseexpandedterms"
	OptAllowLeadingWildcard      = "allowleadingwildcard"
	OptAnalyzeRangeTerms         = "analyzerangeterms"
	OptAutoGeneratePhraseQueries = "autogeneratephrasequeries"
	OptDateResolution            = "dateresolution"
	OptDefaultOperator           = "defaultoperator"
	OptFuzzyMinSim               = "fuzzyminsim"
	OptFuzzyPrefixLength         = "fuzzyprefixlength"
	OptLocale                    = "locale"
	OptPhraseSlop                = "phraseslop"
	OptTimezone                  = "timezone"
	OptMultiTermRewriteMethod    = "multitermrewritemethod"
	OptParserType                = "parsertype"
)

// Operator is the boolean operator applied between clauses without an
// explicit conjunction.
type Operator int

const (
	OperatorOr Operator = iota
	OperatorAnd
)

func (o Operator) String() string {
	if o == OperatorAnd {
		return "AND"
	}
	return "OR"
}

// ParserType selects between multi-field and single-field parsing.
type ParserType int

const (
	// ParserInferred parses multi-field unless the query is fully parenthesized.
	ParserInferred ParserType = iota
	// ParserMultiField ORs unfielded terms across every index field.
	ParserMultiField
	// ParserClass parses unfielded terms against the catch-all field.
	ParserClass
)

func (p ParserType) String() string {
	switch p {
	case ParserMultiField:
		return "MultiField"
	case ParserClass:
		return "Class"
	default:
		return "Inferred"
	}
}

// DateResolution is the granularity date range bounds are rounded to.
type DateResolution int

const (
	ResolutionMillisecond DateResolution = iota
	ResolutionSecond
	ResolutionMinute
	ResolutionHour
	ResolutionDay
	ResolutionMonth
	ResolutionYear
)

var resolutionNames = map[string]DateResolution{
	"MILLISECOND": ResolutionMillisecond,
	"SECOND":      ResolutionSecond,
	"MINUTE":      ResolutionMinute,
	"HOUR":        ResolutionHour,
	"DAY":         ResolutionDay,
	"MONTH":       ResolutionMonth,
	"YEAR":        ResolutionYear,
}

func (r DateResolution) String() string {
	for name, v := range resolutionNames {
		if v == r {
			return name
		}
	}
	return "MILLISECOND"
}

// floor truncates t to the resolution in t's location.
func (r DateResolution) floor(t time.Time) time.Time {
	switch r {
	case ResolutionSecond:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, t.Location())
	case ResolutionMinute:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, t.Location())
	case ResolutionHour:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
	case ResolutionDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	case ResolutionMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	case ResolutionYear:
		return time.Date(t.Year(), 1, 1, 0, 0, 0, 0, t.Location())
	default:
		return t.Truncate(time.Millisecond)
	}
}

// next returns the start of the unit following floor(t).
func (r DateResolution) next(t time.Time) time.Time {
	f := r.floor(t)
	switch r {
	case ResolutionSecond:
		return f.Add(time.Second)
	case ResolutionMinute:
		return f.Add(time.Minute)
	case ResolutionHour:
		return f.Add(time.Hour)
	case ResolutionDay:
		return f.AddDate(0, 0, 1)
	case ResolutionMonth:
		return f.AddDate(0, 1, 0)
	case ResolutionYear:
		return f.AddDate(1, 0, 0)
	default:
		return f.Add(time.Millisecond)
	}
}

// RewriteMethod controls how multi-term clauses (wildcard, prefix, regexp,
// range, fuzzy) are scored.
type RewriteMethod int

const (
	RewriteConstantScoreAuto RewriteMethod = iota
	RewriteConstantScoreFilter
	RewriteConstantScoreBoolean
	RewriteScoringBoolean
)

var rewriteNames = map[string]RewriteMethod{
	"CONSTANT_SCORE_AUTO_REWRITE_DEFAULT":  RewriteConstantScoreAuto,
	"CONSTANT_SCORE_FILTER_REWRITE":        RewriteConstantScoreFilter,
	"CONSTANT_SCORE_BOOLEAN_QUERY_REWRITE": RewriteConstantScoreBoolean,
	"SCORING_BOOLEAN_QUERY_REWRITE":        RewriteScoringBoolean,
}

func (m RewriteMethod) String() string {
	for name, v := range rewriteNames {
		if v == m {
			return name
		}
	}
	return "CONSTANT_SCORE_AUTO_REWRITE_DEFAULT"
}

// ConstantScore reports whether multi-term clauses rewritten with m score 0.
func (m RewriteMethod) ConstantScore() bool { return m != RewriteScoringBoolean }

// ParserOptions is the validated form of the free-text parser options.
type ParserOptions struct {
	LowercaseExpandedTerms    bool
	AllowLeadingWildcard      bool
	AnalyzeRangeTerms         bool
	AutoGeneratePhraseQueries bool
	DateResolution            DateResolution
	DefaultOperator           Operator
	FuzzyMinSim               float64
	FuzzyPrefixLength         int
	Locale                    language.Tag
	PhraseSlop                int
	Timezone                  *time.Location
	RewriteMethod             RewriteMethod
	ParserType                ParserType
}

// DefaultParserOptions returns the classic query parser defaults.
func DefaultParserOptions() ParserOptions {
	return ParserOptions{
		LowercaseExpandedTerms: true,
		DefaultOperator:        OperatorOr,
		FuzzyMinSim:            2,
		Locale:                 language.Und,
		Timezone:               time.UTC,
		RewriteMethod:          RewriteConstantScoreAuto,
	}
}

// ParseOptions applies raw over base. Unrecognized names are ignored;
// malformed values fail with a configuration error naming the option.
// Names are case-insensitive, so two spellings of one name are rejected.
func ParseOptions(raw map[string]any, base ParserOptions) (ParserOptions, error) {
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)
	seen := make(map[string]string, len(names))
	for _, name := range names {
		lower := strings.ToLower(name)
		if prev, ok := seen[lower]; ok {
			return base, ixerrors.ConfigError(fmt.Sprintf("parser option %q is given twice, as %q and %q", lower, prev, name), nil).
				WithDetail("option", lower)
		}
		seen[lower] = name
	}

	o := base
	for _, name := range names {
		v := raw[name]
		if v == nil {
			continue
		}
		val := strings.TrimSpace(fmt.Sprint(v))
		var err error
		switch strings.ToLower(name) {
		case OptLowercaseExpandedTerms:
			o.LowercaseExpandedTerms, err = parseBool(v, val)
		case OptAllowLeadingWildcard:
			o.AllowLeadingWildcard, err = parseBool(v, val)
		case OptAnalyzeRangeTerms:
			o.AnalyzeRangeTerms, err = parseBool(v, val)
		case OptAutoGeneratePhraseQueries:
			o.AutoGeneratePhraseQueries, err = parseBool(v, val)
		case OptDateResolution:
			r, ok := resolutionNames[strings.ToUpper(val)]
			if !ok {
				err = fmt.Errorf("unknown date resolution %q", val)
			}
			o.DateResolution = r
		case OptDefaultOperator:
			switch strings.ToUpper(val) {
			case "AND":
				o.DefaultOperator = OperatorAnd
			case "OR":
				o.DefaultOperator = OperatorOr
			default:
				err = fmt.Errorf("unknown operator %q", val)
			}
		case OptFuzzyMinSim:
			o.FuzzyMinSim, err = strconv.ParseFloat(val, 32)
			switch {
			case err != nil:
			case math.IsNaN(o.FuzzyMinSim) || math.IsInf(o.FuzzyMinSim, 0):
				err = errNonFinite
			case o.FuzzyMinSim < 0:
				err = errNegative
			}
		case OptFuzzyPrefixLength:
			o.FuzzyPrefixLength, err = parseNonNegative(val)
		case OptPhraseSlop:
			o.PhraseSlop, err = parseNonNegative(val)
		case OptLocale:
			o.Locale, err = language.Parse(strings.ReplaceAll(val, "_", "-"))
		case OptTimezone:
			o.Timezone, err = time.LoadLocation(val)
		case OptMultiTermRewriteMethod:
			m, ok := rewriteNames[strings.ToUpper(val)]
			if !ok {
				err = fmt.Errorf("unknown rewrite method %q", val)
			}
			o.RewriteMethod = m
		case OptParserType:
			switch strings.ToLower(val) {
			case "multifield":
				o.ParserType = ParserMultiField
			case "class":
				o.ParserType = ParserClass
			default:
				err = fmt.Errorf("unknown parser type %q", val)
			}
		default:
			continue
		}
		if err != nil {
			return base, ixerrors.ConfigError(fmt.Sprintf("invalid value for parser option %q", name), err).
				WithDetail("option", strings.ToLower(name)).
				WithDetail("value", val)
		}
	}
	return o, nil
}

// StringOptions converts a string option map, such as the parser section of
// the configuration file.
func StringOptions(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Lower lowercases s using the locale's case rules.
func (o ParserOptions) Lower(s string) string {
	return cases.Lower(o.Locale).String(s)
}

// FuzzyEdits converts the minimum similarity to an edit distance for a term
// of n runes. Values of 1 or more are edit distances already.
func (o ParserOptions) FuzzyEdits(n int) int {
	sim := o.FuzzyMinSim
	var edits int
	if sim >= 1 {
		edits = int(sim)
	} else {
		edits = int((1 - sim) * float64(n))
	}
	return min(max(edits, 0), 2)
}

// cacheKey is a canonical rendering used to key the parse cache.
func (o ParserOptions) cacheKey() string {
	parts := []string{
		strconv.FormatBool(o.LowercaseExpandedTerms),
		strconv.FormatBool(o.AllowLeadingWildcard),
		strconv.FormatBool(o.AnalyzeRangeTerms),
		strconv.FormatBool(o.AutoGeneratePhraseQueries),
		o.DateResolution.String(),
		o.DefaultOperator.String(),
		strconv.FormatFloat(o.FuzzyMinSim, 'g', -1, 64),
		strconv.Itoa(o.FuzzyPrefixLength),
		o.Locale.String(),
		strconv.Itoa(o.PhraseSlop),
		o.Timezone.String(),
		o.RewriteMethod.String(),
		o.ParserType.String(),
	}
	return strings.Join(parts, "|")
}

// Names lists every recognized option, sorted.
func Names() []string {
	names := []string{
		OptLowercaseExpandedTerms, OptAllowLeadingWildcard, OptAnalyzeRangeTerms,
		OptAutoGeneratePhraseQueries, OptDateResolution, OptDefaultOperator, OptFuzzyMinSim,
		OptFuzzyPrefixLength, OptLocale, OptPhraseSlop, OptTimezone, OptMultiTermRewriteMethod,
		OptParserType,
	}
	sort.Strings(names)
	return names
}

func parseBool(raw any, val string) (bool, error) {
	if b, ok := raw.(bool); ok {
		return b, nil
	}
	return strconv.ParseBool(val)
}

func parseNonNegative(val string) (int, error) {
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errNegative
	}
	return n, nil
}
