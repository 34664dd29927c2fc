package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/vnykmshr/dirq/internal/consumer"
	"github.com/vnykmshr/dirq/internal/logging"
	"github.com/vnykmshr/dirq/internal/metrics"
	"github.com/vnykmshr/dirq/internal/queue"
	"github.com/vnykmshr/dirq/internal/sweep"
)

type watchFlags struct {
	exec        []string
	metricsAddr string
	maxAttempts int
	retryDelay  time.Duration
	pendingAge  time.Duration
}

func watchCommand(c *cli) *cobra.Command {
	f := &watchFlags{}

	cmd := &cobra.Command{
		Use:   "watch [-- program args...]",
		Short: "Serve metrics and sweep a queue, optionally running a program per item",
		Long: `watch keeps a queue healthy until interrupted. It serves Prometheus
metrics, refreshes the queue gauges, and periodically sweeps stale tmp
files.

When a program is given after --, every item is claimed and the program
runs with the item path appended to its arguments; the payload is not
read into memory. Exit status 0 commits the item. Any other status
requeues it after a backoff until --max-attempts is reached, then
banishes it with the failure as metadata.`,

		RunE: func(cmd *cobra.Command, args []string) error {
			f.exec = args
			if !cmd.Flags().Changed("metrics-addr") {
				f.metricsAddr = c.cfg.MetricsAddr
			}
			return c.watch(cmd.Context(), f)
		},
	}

	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", ":9477", "Listen address of the /metrics endpoint, empty to disable (DIRQ_METRICS_ADDR)")
	cmd.Flags().IntVar(&f.maxAttempts, "max-attempts", 1, "Attempts per item before it is banished")
	cmd.Flags().DurationVar(&f.retryDelay, "retry-delay", time.Second, "Base delay before a failed item is retried")
	cmd.Flags().DurationVar(&f.pendingAge, "pending-age", 0, "Requeue claims older than this during sweeps (0 disables)")
	return cmd
}

func (c *cli) watch(ctx context.Context, f *watchFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}

	collector := metrics.NewCollector(c.cfg.Root)
	q, err := c.open(collector)
	if err != nil {
		return err
	}

	var cons *consumer.Consumer
	if len(f.exec) > 0 {
		cons, err = consumer.New(q, execHandler(f.exec),
			consumer.WithWorkers(c.cfg.Workers),
			consumer.WithPollInterval(c.cfg.PollInterval),
			consumer.WithMaxAttempts(f.maxAttempts),
			consumer.WithRetryDelay(f.retryDelay),
			consumer.WithPathOnly(),
			consumer.WithLogger(c.logger),
		)
		if err != nil {
			return err
		}
	}

	var g run.Group

	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	if f.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collector)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		ln, err := net.Listen("tcp", f.metricsAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", f.metricsAddr, err)
		}
		c.logger.Info("serving metrics", logging.F("addr", ln.Addr().String()))

		g.Add(func() error {
			if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		}, func(error) {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		})
	}

	{
		tickCtx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return c.maintain(tickCtx, q, f.pendingAge)
		}, func(error) {
			cancel()
		})
	}

	if cons != nil {
		consCtx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			if err := cons.Run(consCtx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		}, func(error) {
			cancel()
		})
	}

	err = g.Run()

	var sig run.SignalError
	switch {
	case errors.As(err, &sig):
		c.logger.Info("shutting down", logging.F("signal", sig.Signal.String()))
		return nil
	case errors.Is(err, context.Canceled):
		return nil
	}
	return err
}

// maintain refreshes the queue gauges every poll interval and sweeps once a
// minute.
func (c *cli) maintain(ctx context.Context, q *queue.Queue, pendingAge time.Duration) error {
	refresh := time.NewTicker(c.cfg.PollInterval)
	defer refresh.Stop()
	sweeps := time.NewTicker(time.Minute)
	defer sweeps.Stop()

	policy := sweep.Policy{TmpMaxAge: c.cfg.SweepTmpAge, PendingMaxAge: pendingAge}

	for {
		if err := q.RefreshMetrics(); err != nil {
			c.logger.Warn("failed to refresh metrics", logging.F("error", err.Error()))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-refresh.C:
		case <-sweeps.C:
			res, err := sweep.Sweep(q, policy)
			if err != nil {
				c.logger.Warn("sweep failed", logging.F("error", err.Error()))
			}
			if res != nil && (len(res.TmpRemoved) > 0 || len(res.Requeued) > 0) {
				c.logger.Info("sweep finished",
					logging.F("tmp_removed", len(res.TmpRemoved)),
					logging.F("requeued", len(res.Requeued)),
					logging.F("bytes_freed", res.BytesFreed),
				)
			}
		}
	}
}

// execHandler runs argv with the item path appended. Output goes to the
// process's stdout and stderr.
func execHandler(argv []string) consumer.Handler {
	return func(ctx context.Context, item *queue.Item) error {
		args := append(append([]string{}, argv[1:]...), item.Path)
		cmd := exec.CommandContext(ctx, argv[0], args...) //nolint:gosec // G204: program is chosen by the operator
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		cmd.Env = append(os.Environ(), "DIRQ_ITEM_ID="+item.ID)

		if err := cmd.Run(); err != nil {
			return fmt.Errorf("%s: %w", argv[0], err)
		}
		return nil
	}
}
