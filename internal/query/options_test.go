package query

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	ixerrors "github.com/Aman-CERP/nrtindex/internal/errors"
)

func TestDefaultParserOptions(t *testing.T) {
	o := DefaultParserOptions()

	assert.True(t, o.LowercaseExpandedTerms)
	assert.False(t, o.AllowLeadingWildcard)
	assert.Equal(t, OperatorOr, o.DefaultOperator)
	assert.Equal(t, RewriteConstantScoreAuto, o.RewriteMethod)
	assert.Equal(t, ParserInferred, o.ParserType)
	assert.Equal(t, time.UTC, o.Timezone)
}

func TestParseOptions_AllRecognizedOptions(t *testing.T) {
	// Given: every option, with mixed-case names and typed values
	raw := map[string]any{
		"LowercaseExpandedTerms":    "false",
		"allowLeadingWildcard":      true,
		"analyzerangeterms":         "true",
		"AUTOGENERATEPHRASEQUERIES": "true",
		"dateresolution":            "day",
		"defaultoperator":           "AND",
		"fuzzyminsim":               0.7,
		"fuzzyprefixlength":         2,
		"locale":                    "tr",
		"phraseslop":                "3",
		"timezone":                  "Europe/Rome",
		"multitermrewritemethod":    "scoring_boolean_query_rewrite",
		"parsertype":                "Class",
	}

	// When: parsing over the defaults
	o, err := ParseOptions(raw, DefaultParserOptions())

	// Then: every field reflects its option
	require.NoError(t, err)
	assert.False(t, o.LowercaseExpandedTerms)
	assert.True(t, o.AllowLeadingWildcard)
	assert.True(t, o.AnalyzeRangeTerms)
	assert.True(t, o.AutoGeneratePhraseQueries)
	assert.Equal(t, ResolutionDay, o.DateResolution)
	assert.Equal(t, OperatorAnd, o.DefaultOperator)
	assert.InDelta(t, 0.7, o.FuzzyMinSim, 1e-6)
	assert.Equal(t, 2, o.FuzzyPrefixLength)
	assert.Equal(t, language.Turkish, o.Locale)
	assert.Equal(t, 3, o.PhraseSlop)
	assert.Equal(t, "Europe/Rome", o.Timezone.String())
	assert.Equal(t, RewriteScoringBoolean, o.RewriteMethod)
	assert.Equal(t, ParserClass, o.ParserType)
}

func TestParseOptions_UnknownNamesIgnored(t *testing.T) {
	o, err := ParseOptions(map[string]any{"query": "x", "drilldown": "a/b", "nonsense": 1}, DefaultParserOptions())

	require.NoError(t, err)
	assert.Equal(t, DefaultParserOptions().cacheKey(), o.cacheKey())
}

func TestParseOptions_MalformedValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value any
	}{
		{"non-numeric slop", "phraseslop", "many"},
		{"negative prefix", "fuzzyprefixlength", -1},
		{"non-numeric similarity", "fuzzyminsim", "close"},
		{"NaN similarity", "fuzzyminsim", "NaN"},
		{"infinite similarity", "fuzzyminsim", "+Inf"},
		{"negative infinite similarity", "fuzzyminsim", "-Inf"},
		{"unknown operator", "defaultoperator", "XOR"},
		{"unknown resolution", "dateresolution", "FORTNIGHT"},
		{"unknown rewrite", "multitermrewritemethod", "FAST"},
		{"unknown parser", "parsertype", "Smart"},
		{"bad bool", "allowleadingwildcard", "maybe"},
		{"bad timezone", "timezone", "Mars/Olympus"},
		{"bad locale", "locale", "??"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseOptions(map[string]any{tt.key: tt.value}, DefaultParserOptions())
			require.Error(t, err)
			assert.ErrorIs(t, err, ixerrors.ErrInvalidConf)
		})
	}
}

func TestParseOptions_CaseVariantsOfOneNameRejected(t *testing.T) {
	// Given: the same option spelled twice with different case
	raw := map[string]any{"Locale": "de", "locale": "tr"}

	// When: parsing it repeatedly
	for range 20 {
		_, err := ParseOptions(raw, DefaultParserOptions())

		// Then: it fails the same way every time
		require.Error(t, err)
		assert.ErrorIs(t, err, ixerrors.ErrInvalidConf)
		ie, ok := ixerrors.As(err)
		require.True(t, ok)
		assert.Equal(t, "locale", ie.Details["option"])
		assert.Contains(t, ie.Message, `as "Locale" and "locale"`)
	}
}

func TestParserOptions_FuzzyEdits(t *testing.T) {
	tests := []struct {
		sim  float64
		n    int
		want int
	}{
		{2, 5, 2},
		{1, 5, 1},
		{5, 5, 2},
		{0.5, 4, 2},
		{0.75, 4, 1},
		{0.9, 4, 0},
		{0, 10, 2},
	}
	for _, tt := range tests {
		o := DefaultParserOptions()
		o.FuzzyMinSim = tt.sim
		assert.Equal(t, tt.want, o.FuzzyEdits(tt.n), "sim=%v n=%d", tt.sim, tt.n)
	}
}

func TestParserOptions_LowerUsesLocale(t *testing.T) {
	o := DefaultParserOptions()
	assert.Equal(t, "istanbul", o.Lower("ISTANBUL"))

	o.Locale = language.Turkish
	assert.Equal(t, "ıstanbul", o.Lower("ISTANBUL"))
}

func TestDateResolution_FloorAndNext(t *testing.T) {
	ts := time.Date(2021, 7, 15, 13, 45, 30, 0, time.UTC)

	assert.Equal(t, time.Date(2021, 7, 15, 0, 0, 0, 0, time.UTC), ResolutionDay.floor(ts))
	assert.Equal(t, time.Date(2021, 7, 16, 0, 0, 0, 0, time.UTC), ResolutionDay.next(ts))
	assert.Equal(t, time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), ResolutionYear.floor(ts))
	assert.Equal(t, time.Date(2021, 8, 1, 0, 0, 0, 0, time.UTC), ResolutionMonth.next(ts))
	assert.Equal(t, ts, ResolutionMillisecond.floor(ts))
}

func TestNames_Sorted(t *testing.T) {
	names := Names()
	assert.Len(t, names, 13)
	assert.IsNonDecreasing(t, names)
}
