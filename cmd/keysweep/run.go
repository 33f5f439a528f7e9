package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dreamware/keysweep/internal/aggregate"
	"github.com/dreamware/keysweep/internal/config"
	"github.com/dreamware/keysweep/internal/job"
	"github.com/dreamware/keysweep/internal/metrics"
	"github.com/dreamware/keysweep/internal/oracle"
)

type runFlags struct {
	config       string
	start, end   uint64
	chunk        uint64
	repetitions  int
	strategy     string
	participants int
	cipher       string
	keyword      string
	target       uint64
	metricsAddr  string
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Search a keyspace",
		Long: `Search a keyspace with the DES keyword oracle, or with --target for a
synthetic oracle that accepts exactly one key.

Examples:
  keysweep run --cipher secret.bin --keyword keyword.txt --end 0xffffff
  keysweep run --target 427 --end 999 --strategy dynamic --chunk 100 -n 4
  keysweep run --config job.yaml --repetitions 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runJob(ctx, cmd, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVarP(&f.config, "config", "c", "", "YAML job file")
	fl.Uint64Var(&f.start, "start", 0, "first key of the keyspace")
	fl.Uint64Var(&f.end, "end", 0, "last key of the keyspace (inclusive)")
	fl.Uint64Var(&f.chunk, "chunk", 0, "keys per dynamic chunk")
	fl.IntVarP(&f.repetitions, "repetitions", "r", 0, "static trials to run")
	fl.StringVarP(&f.strategy, "strategy", "s", "", "static or dynamic")
	fl.IntVarP(&f.participants, "participants", "n", 0, "participants, coordinator included")
	fl.StringVar(&f.cipher, "cipher", "", "ciphertext file")
	fl.StringVar(&f.keyword, "keyword", "", "keyword file")
	fl.Uint64Var(&f.target, "target", 0, "search for this key with a synthetic oracle")
	fl.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")
	return cmd
}

// jobConfig layers the flags that were set over the loaded configuration.
func jobConfig(cmd *cobra.Command, f runFlags) (config.JobConfig, error) {
	cfg, err := config.Load(f.config)
	if err != nil {
		return cfg, err
	}
	fl := cmd.Flags()
	if fl.Changed("start") {
		cfg.KeyspaceStart = f.start
	}
	if fl.Changed("end") {
		cfg.KeyspaceEnd = f.end
	}
	if fl.Changed("chunk") {
		cfg.ChunkSize = f.chunk
	}
	if fl.Changed("repetitions") {
		cfg.Repetitions = f.repetitions
	}
	if fl.Changed("strategy") {
		cfg.Strategy = config.Strategy(f.strategy)
	}
	if fl.Changed("participants") {
		cfg.Participants = f.participants
	}
	if fl.Changed("cipher") {
		cfg.Ciphertext = f.cipher
	}
	if fl.Changed("keyword") {
		cfg.Keyword = f.keyword
	}
	return cfg, cfg.Validate()
}

func runJob(ctx context.Context, cmd *cobra.Command, f runFlags) error {
	cfg, err := jobConfig(cmd, f)
	if err != nil {
		return err
	}

	var opts job.Options
	var o oracle.Oracle
	switch {
	case cmd.Flags().Changed("target"):
		o = oracle.Equals(f.target)
	case cfg.Ciphertext != "" && cfg.Keyword != "":
		kw, err := oracle.LoadKeywordOracle(cfg.Ciphertext, cfg.Keyword)
		if err != nil {
			return err
		}
		o, opts.Decrypter, opts.Payload = kw, kw, kw.Ciphertext()
	default:
		return fmt.Errorf("%w: need --cipher and --keyword, or --target", config.ErrConfiguration)
	}

	opts.Sink = aggregate.TextSink{W: cmd.OutOrStdout()}
	if f.metricsAddr != "" {
		opts.Metrics = metrics.NewRegistry(metrics.DefaultConfig())
		stop, err := serveMetrics(f.metricsAddr, opts.Metrics)
		if err != nil {
			return err
		}
		defer stop()
	}

	_, err = job.Run(ctx, cfg, oracle.Safe(o), opts)
	return err
}

func serveMetrics(addr string, reg *metrics.Registry) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	srv := &http.Server{Handler: reg.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Warn("metrics server stopped")
		}
	}()
	log.WithField("addr", ln.Addr().String()).Info("serving metrics")
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
