// Command parallel runs a bank-transfer workload on a worker pool: producers
// submit random transfers, each transfer locks its two accounts together, and
// the total balance is checked afterwards.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fluxorio/parallel/pkg/concurrency"
	"github.com/fluxorio/parallel/pkg/config"
	"github.com/fluxorio/parallel/pkg/observability/prometheus"
	"github.com/fluxorio/parallel/pkg/observability/tracing"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const initialBalance = 1000

type options struct {
	configPath  string
	envPrefix   string
	accounts    int
	transfers   int
	producers   int
	rate        float64
	metricsAddr string
	trace       string
	logLevel    string
	linger      time.Duration
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("parallel", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.configPath, "config", "", "YAML or JSON config file")
	fs.StringVar(&o.envPrefix, "env-prefix", "PARALLEL", "prefix of environment overrides; empty disables them")
	fs.IntVar(&o.accounts, "accounts", 16, "number of accounts")
	fs.IntVar(&o.transfers, "transfers", 100000, "total transfers to submit")
	fs.IntVar(&o.producers, "producers", 4, "goroutines submitting transfers")
	fs.Float64Var(&o.rate, "rate", 0, "transfers per second across all producers; 0 is unlimited")
	fs.StringVar(&o.metricsAddr, "metrics-addr", "", `metrics listen address, overriding the config; "off" disables`)
	fs.StringVar(&o.trace, "trace", "", "trace exporter (none, stdout, zipkin), overriding the config")
	fs.StringVar(&o.logLevel, "log-level", "", "log level, overriding the config")
	fs.DurationVar(&o.linger, "linger", 0, "keep serving metrics this long after the run")
	if err := fs.Parse(args); err != nil {
		return o, err
	}

	switch {
	case o.accounts < 2:
		return o, fmt.Errorf("-accounts must be at least 2, got %d", o.accounts)
	case o.transfers < 0:
		return o, fmt.Errorf("-transfers must not be negative, got %d", o.transfers)
	case o.producers < 1:
		return o, fmt.Errorf("-producers must be at least 1, got %d", o.producers)
	case o.rate < 0:
		return o, fmt.Errorf("-rate must not be negative, got %v", o.rate)
	}
	return o, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "parallel: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(o options) (*config.Config, error) {
	cfg, err := config.LoadWithEnv(o.configPath, o.envPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.trace != "" {
		cfg.Tracing.Exporter = o.trace
	}
	switch o.metricsAddr {
	case "":
	case "off":
		cfg.Metrics.Enabled = false
	default:
		cfg.Metrics.Enabled = true
		cfg.Metrics.Address = o.metricsAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type counters struct {
	declined atomic.Int64
	failed   atomic.Int64
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	o, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}
	logger, err := cfg.Logger()
	if err != nil {
		return err
	}

	traceOpts := tracing.FromConfig(cfg.Tracing)
	traceOpts.Writer = stderr
	tp, err := tracing.NewProvider(ctx, traceOpts)
	if err != nil {
		return err
	}
	tracing.Install(tp)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("tracer shutdown: %v", err)
		}
	}()

	var c counters
	wpc, err := cfg.WorkerPoolConfig(
		config.WithLogger(logger),
		config.WithErrorHandler(func(err error) {
			c.failed.Add(1)
			logger.Errorf("transfer failed: %v", err)
		}),
	)
	if err != nil {
		return err
	}
	wpc.TracerProvider = tp

	pool, err := concurrency.NewWorkerPool(ctx, wpc)
	if err != nil {
		return err
	}
	defer pool.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewPoolCollector(pool),
		prometheus.NewQueueDepthGauge("task_queue", pool.ID(), pool),
	)
	taskMetrics := prometheus.NewTaskMetrics(reg)

	metricsCtx, stopMetrics := context.WithCancel(ctx)
	defer stopMetrics()
	if cfg.Metrics.Enabled {
		srv := prometheus.NewServer(cfg.Metrics.Path, reg)
		go func() {
			if err := srv.ListenAndServe(metricsCtx, cfg.Metrics.Address); err != nil {
				logger.Warnf("metrics server: %v", err)
			}
		}()
		logger.Infof("serving metrics on %s%s", cfg.Metrics.Address, srv.Path())
	}

	b := newBank(o.accounts, initialBalance)
	before, err := b.total()
	if err != nil {
		return err
	}

	start := time.Now()
	produceErr := produce(ctx, o, pool, b, taskMetrics, &c)

	stopCtx := context.Background()
	if d := cfg.Pool.StopTimeout.Std(); d > 0 {
		var cancel context.CancelFunc
		stopCtx, cancel = context.WithTimeout(stopCtx, d)
		defer cancel()
	}
	stopErr := pool.Stop(stopCtx)
	elapsed := time.Since(start)

	after, err := b.total()
	if err != nil {
		return err
	}

	stats := pool.Stats()
	fmt.Fprintf(stdout, "pool %s: %d workers, policy %s, state %s\n", stats.ID, stats.Workers, wpc.ShutdownPolicy, stats.State)
	fmt.Fprintf(stdout, "transfers: submitted=%d completed=%d declined=%d failed=%d discarded=%d rejected=%d in %v\n",
		stats.Submitted, stats.Completed, c.declined.Load(), c.failed.Load(), stats.Discarded, stats.Rejected, elapsed.Round(time.Millisecond))

	if after != before {
		return fmt.Errorf("balance not conserved: %d before, %d after", before, after)
	}
	fmt.Fprintf(stdout, "total balance conserved: %d across %d accounts\n", after, o.accounts)

	if o.linger > 0 && cfg.Metrics.Enabled {
		select {
		case <-ctx.Done():
		case <-time.After(o.linger):
		}
	}

	if produceErr != nil && ctx.Err() == nil {
		return produceErr
	}
	return stopErr
}

// produce fans transfers out over o.producers goroutines, sharing one rate
// limiter when o.rate is set.
func produce(ctx context.Context, o options, pool *concurrency.WorkerPool, b *bank, m *prometheus.TaskMetrics, c *counters) error {
	var limiter *rate.Limiter
	if o.rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(o.rate), o.producers)
	}

	g, gctx := errgroup.WithContext(ctx)
	for p := 0; p < o.producers; p++ {
		n := o.transfers / o.producers
		if p < o.transfers%o.producers {
			n++
		}
		rng := rand.New(rand.NewPCG(uint64(p), uint64(time.Now().UnixNano())))

		g.Go(func() error {
			for i := 0; i < n; i++ {
				if limiter != nil {
					if err := limiter.Wait(gctx); err != nil {
						return err
					}
				}

				from := rng.IntN(o.accounts)
				to := rng.IntN(o.accounts - 1)
				if to >= from {
					to++
				}
				amount := rng.Int64N(initialBalance/10) + 1

				task := m.Instrument("transfer", func() {
					if err := b.transfer(from, to, amount); errors.Is(err, errInsufficientFunds) {
						c.declined.Add(1)
					} else if err != nil {
						panic(err)
					}
				})
				if err := pool.Submit(task); err != nil {
					return fmt.Errorf("producer %d: %w", p, err)
				}
			}
			return nil
		})
	}
	return g.Wait()
}
