// Package cli holds the logship command tree.
package cli

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"logship/pkg/config"
	"logship/pkg/util/log"
)

// Version is inserted at build using --ldflags -X
var Version = "v1.0-SNAPSHOT"

type options struct {
	configPath string
	flags      *config.Flags
}

// NewRootCommand builds the command tree. Every subcommand shares the
// connection flags and the optional --config file.
func NewRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "logship",
		Short:         "Ship log lines into a Redis list",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "YAML file with output properties")
	opts.flags = config.BindFlags(pf)

	root.AddCommand(
		newShipCommand(opts),
		newPeekCommand(opts),
		newCheckCommand(opts),
	)
	return root
}

// Execute runs the command tree with ctx and args.
func Execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	root := NewRootCommand()
	root.SetArgs(args)
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

// load resolves properties: defaults, then the config file, then flags.
// It also points the process logger at the command's stderr.
func (o *options) load(cmd *cobra.Command) (config.Properties, error) {
	props := config.Default()
	if o.configPath != "" {
		p, err := config.Load(o.configPath)
		if err != nil {
			return props, err
		}
		props = p
	}
	props = o.flags.Apply(props)

	level := log.ParseLevel(props.LogLevel)
	if props.Debug {
		level = log.LevelDebug
	}
	log.SetLevel(level)
	log.SetOutput(cmd.ErrOrStderr())

	if err := props.Validate(); err != nil {
		return props, errors.Wrap(err, "invalid configuration")
	}
	return props, nil
}
