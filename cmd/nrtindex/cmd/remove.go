package cmd

import (
	"github.com/spf13/cobra"

	"github.com/Aman-CERP/nrtindex/pkg/keys"
)

func newRemoveCmd(opts *globalOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "remove [<identity> <value>...]",
		Short: "Remove index entries",
		Long: `Remove the entry indexed for a key and record, or with --all
every entry of the index.

Examples:
  nrtindex remove '#12:0' "the quick brown fox" --index notes --fields body
  nrtindex remove --all --index notes`,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if !all && len(args) < 2 {
				return cmd.Help()
			}

			var (
				id  keys.Identity
				key keys.Key
			)
			if !all {
				id = keys.Identity(args[0])
				if err := id.Validate(); err != nil {
					return err
				}
				if key, err = parseValues(args[1:]); err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			eng, err := opts.openEngine(ctx)
			if err != nil {
				return err
			}
			defer closeEngine(eng, &err)

			out := opts.output(cmd)
			if all {
				if err := eng.Clear(ctx); err != nil {
					return err
				}
				if err := eng.Flush(ctx); err != nil {
					return err
				}
				out.Successf("Cleared index %s", eng.Name())
				return nil
			}

			if err := eng.RemoveEntry(ctx, key, id); err != nil {
				return err
			}
			if err := eng.Flush(ctx); err != nil {
				return err
			}
			out.Successf("Removed %s for %s", key, id)
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Remove every entry of the index")
	return cmd
}
