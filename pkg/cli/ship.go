package cli

import (
	"context"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"logship/pkg/config"
	"logship/pkg/output"
	"logship/pkg/shipper"
	"logship/pkg/util/log"
)

const metricsShutdownTimeout = 5 * time.Second

func newShipCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ship",
		Short: "Push every line of stdin (or --input) onto the list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			props, err := opts.load(cmd)
			if err != nil {
				return err
			}
			return ship(cmd.Context(), props, cmd.InOrStdin())
		},
	}
}

func ship(ctx context.Context, props config.Properties, stdin io.Reader) error {
	in := stdin
	if props.Input != "" {
		f, err := os.Open(props.Input)
		if err != nil {
			return errors.Wrap(err, "open input")
		}
		defer f.Close()
		in = f
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	out, err := output.New(props,
		output.WithMetrics(output.NewMetrics(reg)),
		output.OnStateChange(func(t output.StateTransition) {
			log.Debug("connection %s -> %s", t.From, t.To)
		}),
	)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	// done ends the metrics endpoint once shipping is over.
	done, finish := context.WithCancel(gctx)
	defer finish()

	g.Go(func() error {
		defer finish()
		// a blocked read on stdin does not notice ctx
		if c, ok := in.(io.Closer); ok {
			stop := context.AfterFunc(gctx, func() { _ = c.Close() })
			defer stop()
		}
		stats, err := shipper.New(out, log.Default()).Run(gctx, in)
		log.Info("shipped %d of %d lines to %s, %d retries", stats.Accepted, stats.Read, props.Key, stats.Retried)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	if props.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		srv := &http.Server{Addr: props.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			log.Info("serving metrics on %s", props.MetricsAddr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "metrics endpoint")
			}
			return nil
		})
		g.Go(func() error {
			<-done.Done()
			sctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}
	return g.Wait()
}
