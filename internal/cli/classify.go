package cli

import "github.com/spf13/cobra"

func newClassifyCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "classify <id>...",
		Short: "Classify messages now, including ones already classified",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, false, func(sess *session) error {
				ctx := cmd.Context()
				// The first page supplies headers for ids that are on it.
				if _, err := sess.engine.Reload(ctx); err != nil {
					sess.logger.Debug("could not load headers before classifying", "error", err)
				}

				err := sess.engine.Reclassify(ctx, force, args...)
				for _, id := range args {
					c, entry := sess.engine.Classification(id)
					printClassification(cmd.OutOrStdout(), id, c, entry)
				}
				return err
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Ask the backend to ignore its own cached result")

	return cmd
}
