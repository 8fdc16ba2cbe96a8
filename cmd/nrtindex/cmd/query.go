package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	ixerrors "github.com/Aman-CERP/nrtindex/internal/errors"
	"github.com/Aman-CERP/nrtindex/pkg/engine"
	"github.com/Aman-CERP/nrtindex/pkg/keys"
)

// queryOptions holds CLI flags for query.
type queryOptions struct {
	limit   int
	options []string // parser and facet options as name=value
	format  string   // "text", "json"
}

// queryResult is the JSON form of a query's output.
type queryResult struct {
	Query   string        `json:"query"`
	Total   uint64        `json:"total"`
	Stale   bool          `json:"stale,omitempty"`
	Warning string        `json:"warning,omitempty"`
	Hits    []queryHit    `json:"hits"`
	Facets  []queryFacets `json:"facets,omitempty"`
}

type queryHit struct {
	Identity string  `json:"identity"`
	Score    float64 `json:"score"`
	Key      string  `json:"key,omitempty"`
}

type queryFacets struct {
	Dim    string            `json:"dim"`
	Counts map[string]uint64 `json:"counts"`
}

func newQueryCmd(opts *globalOptions) *cobra.Command {
	var qo queryOptions

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Run a free-text query",
		Long: `Run a free-text query against the index.

The query uses the classic query syntax: field:term, "phrases",
AND/OR/NOT, +required and -excluded clauses, wildcards, fuzzy~ terms
and [lower TO upper] ranges.

Examples:
  nrtindex query "quick AND fox" --index notes --fields body
  nrtindex query "fox*" --option allowLeadingWildcard=true
  nrtindex query "city:*" --facet region --option facets=region --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, opts, strings.Join(args, " "), qo)
		},
	}

	cmd.Flags().IntVarP(&qo.limit, "limit", "n", 10, "Maximum number of hits to print")
	cmd.Flags().StringArrayVarP(&qo.options, "option", "o", nil, "Query option as name=value (repeatable)")
	cmd.Flags().StringVarP(&qo.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runQuery(cmd *cobra.Command, opts *globalOptions, text string, qo queryOptions) (err error) {
	if qo.format != "text" && qo.format != "json" {
		return ixerrors.ValidationError(fmt.Sprintf("unknown format %q", qo.format), nil)
	}
	options, err := parseOptions(qo.options)
	if err != nil {
		return err
	}
	key, err := keys.NewQueryKey(text, options)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	eng, err := opts.openEngine(ctx)
	if err != nil {
		return err
	}
	defer closeEngine(eng, &err)

	rs, err := eng.Get(ctx, key)
	if err != nil {
		return err
	}
	defer rs.Close()

	res := queryResult{Query: text, Total: rs.Total(), Stale: rs.Stale(), Hits: []queryHit{}}
	if w := rs.Warning(); w != nil {
		res.Warning = w.Error()
	}
	for h, err := range rs.All(ctx) {
		if err != nil {
			return err
		}
		if qo.limit > 0 && len(res.Hits) >= qo.limit {
			break
		}
		hit := queryHit{Identity: string(h.Identity), Score: h.Score}
		if h.Key != nil {
			hit.Key = fmt.Sprint(h.Key)
		}
		res.Hits = append(res.Hits, hit)
	}
	for _, dc := range rs.Facets() {
		f := queryFacets{Dim: dc.Dim, Counts: make(map[string]uint64, len(dc.Counts))}
		for _, c := range dc.Counts {
			f.Counts[c.Label.Value] = c.Count
		}
		res.Facets = append(res.Facets, f)
	}
	slog.Debug("query_completed", slog.String("query", text), slog.Uint64("total", res.Total), slog.Int("printed", len(res.Hits)))

	if qo.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	printQueryResult(cmd, opts, res, rs)
	return nil
}

func printQueryResult(cmd *cobra.Command, opts *globalOptions, res queryResult, rs *engine.ResultSet) {
	out := opts.output(cmd)
	if res.Stale {
		out.Warningf("Results may be stale: %s", res.Warning)
	}
	if len(res.Hits) == 0 {
		out.Status("🔍", fmt.Sprintf("No results for %q", res.Query))
		return
	}
	out.Header(fmt.Sprintf("%d of %d results for %q", len(res.Hits), res.Total, res.Query))
	for i, h := range res.Hits {
		out.Hit(i+1, h.Identity, h.Score, h.Key)
	}
	if facets := rs.Facets(); len(facets) > 0 {
		out.Newline()
		for _, dc := range facets {
			labels := make([]string, len(dc.Counts))
			counts := make([]uint64, len(dc.Counts))
			for i, c := range dc.Counts {
				labels[i] = c.Label.Value
				counts[i] = c.Count
			}
			out.Counts(dc.Dim, labels, counts)
		}
	}
}

// parseOptions turns name=value flags into query options.
func parseOptions(raw []string) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	options := make(map[string]any, len(raw))
	for _, kv := range raw {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, ixerrors.ValidationError(fmt.Sprintf("option %q is not name=value", kv), nil)
		}
		options[strings.TrimSpace(name)] = value
	}
	return options, nil
}
