package cmd

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newInfoCmd(opts *globalOptions) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "info",
		Short: "Show index information",
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			ctx := cmd.Context()
			eng, err := opts.openEngine(ctx)
			if err != nil {
				return err
			}
			defer closeEngine(eng, &err)

			info, err := eng.Info(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}

			out := opts.output(cmd)
			out.Header("Index " + info.Name)
			out.Field("Path", valueOr(info.Path, "(in memory)"))
			out.Field("Type", info.Type)
			out.Field("Automatic", info.Automatic)
			out.Field("Fields", valueOr(strings.Join(info.Fields, ", "), "(positional)"))
			out.Field("Analyzer", info.Analyzer)
			out.Field("Facets", valueOr(strings.Join(info.FacetFields, ", "), "(none)"))
			out.Field("Entries", info.Size)
			out.Field("Published", info.Published)
			if info.Committed >= 0 {
				out.Field("Committed", info.CommittedAt.Local().Format(time.DateTime))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output index info as JSON")
	return cmd
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
