package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"logship/pkg/output"
	"logship/pkg/util/log"
)

func newCheckCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Connect, authenticate and select the database, then exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			props, err := opts.load(cmd)
			if err != nil {
				return err
			}
			out, err := output.New(props, output.WithLogger(log.Default()))
			if err != nil {
				return err
			}
			defer out.Close(context.Background())
			if err := out.Check(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: handshake ok, database %d\n", props.Address(), props.Database)
			return nil
		},
	}
}
