package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newStopCmd cancels the current run through the shared run registry.
func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Cancel the current run",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res, err := appInstance.Stop(cmd.Context())
			if err != nil {
				return fmt.Errorf("stop: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), res)
			return err
		},
	}
}
