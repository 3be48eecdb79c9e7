package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"logship/pkg/config"
)

func newPeekCommand(opts *options) *cobra.Command {
	var count int64
	cmd := &cobra.Command{
		Use:   "peek",
		Short: "Print the newest lines of the list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			props, err := opts.load(cmd)
			if err != nil {
				return err
			}
			return peek(cmd.Context(), props, count, cmd.OutOrStdout())
		},
	}
	cmd.Flags().Int64VarP(&count, "count", "n", 10, "number of lines to print")
	return cmd
}

// peek reads the tail of the list with a regular client, independent of the
// output's own connection code.
func peek(ctx context.Context, props config.Properties, count int64, w io.Writer) error {
	if count <= 0 {
		return errors.Errorf("count must be positive, got %d", count)
	}
	timeout := props.TimeoutDuration()
	client := goredis.NewClient(&goredis.Options{
		Addr:         props.Address(),
		Password:     props.Password,
		DB:           props.Database,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})
	defer client.Close()

	lines, err := client.LRange(ctx, props.Key, -count, -1).Result()
	if err != nil {
		return errors.Wrapf(err, "read list %s", props.Key)
	}
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
