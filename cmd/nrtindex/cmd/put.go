package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/nrtindex/pkg/keys"
)

func newPutCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "put <identity> <value>...",
		Short: "Index a key for a record",
		Long: `Index a key for the record with the given identity.

Integer values are indexed as longs and other numbers as doubles.
Several values form a composite key, one value per --fields entry.

Examples:
  nrtindex put '#12:0' "the quick brown fox" --index notes --fields body
  nrtindex put '#3:1' Bergen 285000 --index cities --fields name,population --type exact`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			id := keys.Identity(args[0])
			if err := id.Validate(); err != nil {
				return err
			}
			key, err := parseValues(args[1:])
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			eng, err := opts.openEngine(ctx)
			if err != nil {
				return err
			}
			defer closeEngine(eng, &err)

			if err := eng.Put(ctx, key, id); err != nil {
				return err
			}
			if err := eng.Commit(ctx); err != nil {
				return err
			}
			if err := eng.Flush(ctx); err != nil {
				return err
			}
			opts.output(cmd).Successf("Indexed %s for %s", key, id)
			return nil
		},
	}
}
