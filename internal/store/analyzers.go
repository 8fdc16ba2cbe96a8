package store

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/simple"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/single"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"

	ixerrors "github.com/Aman-CERP/nrtindex/internal/errors"
)

const (
	// IdentifierTokenizerName splits identifiers on case changes, digits and separators.
	IdentifierTokenizerName = "identifier_tokenizer"

	// IdentifierAnalyzerName lowercases identifier tokens.
	IdentifierAnalyzerName = "identifier"

	// KeywordLowerAnalyzerName keeps the whole value as one lowercased token.
	KeywordLowerAnalyzerName = "keyword_lc"
)

func init() {
	_ = registry.RegisterTokenizer(IdentifierTokenizerName, identifierTokenizerConstructor)
}

// analyzerAliases maps accepted analyzer names, including Lucene class names
// found in older index metadata, to registered bleve analyzers.
var analyzerAliases = map[string]string{
	"":                   standard.Name,
	"standard":           standard.Name,
	"standardanalyzer":   standard.Name,
	"simple":             simple.Name,
	"simpleanalyzer":     simple.Name,
	"keyword":            keyword.Name,
	"keywordanalyzer":    keyword.Name,
	"en":                 en.AnalyzerName,
	"english":            en.AnalyzerName,
	"englishanalyzer":    en.AnalyzerName,
	"keyword_lc":         KeywordLowerAnalyzerName,
	"identifier":         IdentifierAnalyzerName,
	"identifieranalyzer": IdentifierAnalyzerName,
}

// ResolveAnalyzer maps an analyzer name from index metadata to a bleve
// analyzer name. Fully qualified class names resolve by their last segment.
func ResolveAnalyzer(name string) (string, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if i := strings.LastIndexByte(n, '.'); i >= 0 {
		n = n[i+1:]
	}
	if resolved, ok := analyzerAliases[n]; ok {
		return resolved, nil
	}
	return "", ixerrors.ConfigError(fmt.Sprintf("unknown analyzer %q", name), nil).
		WithSuggestion("Use one of: standard, simple, keyword, en, keyword_lc, identifier")
}

// buildMapping creates an explicit-document mapping: the engine builds
// bleve documents itself, so dynamic mapping is disabled.
func buildMapping(analyzer string) (*mapping.IndexMappingImpl, error) {
	im := mapping.NewIndexMapping()
	im.IndexDynamic = false
	im.StoreDynamic = false
	im.DocValuesDynamic = false

	err := im.AddCustomAnalyzer(KeywordLowerAnalyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     single.Name,
		"token_filters": []string{lowercase.Name},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add %s analyzer: %w", KeywordLowerAnalyzerName, err)
	}
	err = im.AddCustomAnalyzer(IdentifierAnalyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     IdentifierTokenizerName,
		"token_filters": []string{lowercase.Name},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add %s analyzer: %w", IdentifierAnalyzerName, err)
	}

	im.DefaultAnalyzer = analyzer
	return im, nil
}

func identifierTokenizerConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
	return identifierTokenizer{}, nil
}

// identifierTokenizer emits the words of identifiers such as class and
// property names: "OrderLine_v2" -> "Order", "Line", "v", "2";
// "HTTPServer" -> "HTTP", "Server".
type identifierTokenizer struct{}

func (identifierTokenizer) Tokenize(input []byte) analysis.TokenStream {
	var (
		out   analysis.TokenStream
		start = -1
		prev  rune
	)
	emit := func(end int) {
		if start >= 0 && end > start {
			out = append(out, &analysis.Token{
				Term:     append([]byte(nil), input[start:end]...),
				Start:    start,
				End:      end,
				Position: len(out) + 1,
				Type:     analysis.AlphaNumeric,
			})
		}
		start = -1
	}

	for i := 0; i < len(input); {
		r, size := utf8.DecodeRune(input[i:])
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			emit(i)
			prev = r
			i += size
			continue
		}
		if start >= 0 && boundary(prev, r, input[i+size:]) {
			emit(i)
		}
		if start < 0 {
			start = i
		}
		prev = r
		i += size
	}
	emit(len(input))
	return out
}

// boundary reports whether a word break falls between prev and r.
func boundary(prev, r rune, rest []byte) bool {
	switch {
	case unicode.IsDigit(prev) != unicode.IsDigit(r):
		return true
	case unicode.IsLower(prev) && unicode.IsUpper(r):
		return true
	case unicode.IsUpper(prev) && unicode.IsUpper(r):
		next, _ := utf8.DecodeRune(rest)
		return unicode.IsLower(next)
	}
	return false
}
