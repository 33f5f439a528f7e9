// Package main runs the dynamic-dispatch coordinator as a standalone HTTP
// service. Worker nodes (cmd/node) register, pull chunks, report a match and
// post their summaries; the coordinator prints the final report and exits
// once every expected worker has reported or been declared lost.
//
// Architecture:
//
//	┌──────────────────────────────────────────┐
//	│               Coordinator                │
//	├──────────────────────────────────────────┤
//	│  HTTP API (chi):                         │
//	│    POST /register  - join the job        │
//	│    POST /chunk     - next task           │
//	│    POST /found     - report a match      │
//	│    POST /summary   - final worker report │
//	│    GET  /status    - progress            │
//	│    GET  /health    - liveness            │
//	│    GET  /metrics   - Prometheus          │
//	├──────────────────────────────────────────┤
//	│  Components:                             │
//	│    Coordinator     - dispatch actor      │
//	│    Roster          - registered nodes    │
//	│    HealthMonitor   - lost-node detection │
//	│    HTTPBroadcaster - found relay         │
//	└──────────────────────────────────────────┘
//
// Configuration:
//   - COORDINATOR_ADDR: listen address (default ":8080")
//   - COORDINATOR_WORKERS: worker nodes to wait for (default participants-1)
//   - HEALTH_INTERVAL: node probe interval (default "2s")
//   - REGISTER_TIMEOUT: time allowed for every worker to register (default "30s")
//   - KEYSWEEP_CONFIG: optional YAML job file
//   - KEYSWEEP_*: job overrides (see internal/config)
//   - KEYSWEEP_LOG_LEVEL: log level (default "info")
//
// Example usage:
//
//	KEYSWEEP_KEYSPACE_END=99999999 KEYSWEEP_CHUNK_SIZE=100000 \
//	KEYSWEEP_CIPHERTEXT=secret.bin COORDINATOR_WORKERS=3 ./coordinator
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/dreamware/keysweep/internal/aggregate"
	"github.com/dreamware/keysweep/internal/config"
	"github.com/dreamware/keysweep/internal/coordinator"
	"github.com/dreamware/keysweep/internal/job"
	"github.com/dreamware/keysweep/internal/metrics"
	"github.com/dreamware/keysweep/internal/oracle"
)

// logFatal is a variable so tests can intercept fatal errors.
var logFatal = log.Fatalf

// errRegistration fails a job no worker registered for in time.
var errRegistration = errors.New("registration deadline passed")

// settings is everything the coordinator reads from its environment.
type settings struct {
	addr           string
	workers        int
	healthInterval time.Duration
	// registerTimeout bounds the wait for workers; zero waits forever.
	registerTimeout time.Duration
	job             config.JobConfig
	payload         []byte
}

func main() {
	if err := setupLogging(getenv("KEYSWEEP_LOG_LEVEL", "info")); err != nil {
		logFatal("%v", err)
	}
	set, err := loadSettings()
	if err != nil {
		logFatal("configuration: %v", err)
	}

	ln, err := net.Listen("tcp", set.addr)
	if err != nil {
		logFatal("listen: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, set, ln, os.Stdout); err != nil {
		logFatal("coordinator: %v", err)
	}
	log.Info("coordinator stopped")
}

func setupLogging(level string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return err
	}
	log.SetLevel(lvl)
	log.SetOutput(os.Stderr)
	return nil
}

// loadSettings reads the job and the service variables. The job is forced
// to the dynamic strategy and validated.
func loadSettings() (settings, error) {
	cfg, err := config.Load(os.Getenv("KEYSWEEP_CONFIG"))
	if err != nil {
		return settings{}, err
	}
	cfg.Strategy = config.Dynamic

	set := settings{
		addr:            getenv("COORDINATOR_ADDR", ":8080"),
		workers:         max(cfg.Participants-1, 1),
		healthInterval:  2 * time.Second,
		registerTimeout: 30 * time.Second,
		job:             cfg,
	}
	if v := os.Getenv("COORDINATOR_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return settings{}, fmt.Errorf("%w: COORDINATOR_WORKERS=%q must be a positive integer", config.ErrConfiguration, v)
		}
		set.workers = n
	}
	set.job.Participants = set.workers + 1
	if v := os.Getenv("HEALTH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return settings{}, fmt.Errorf("%w: HEALTH_INTERVAL=%q must be a positive duration", config.ErrConfiguration, v)
		}
		set.healthInterval = d
	}
	if v := os.Getenv("REGISTER_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return settings{}, fmt.Errorf("%w: REGISTER_TIMEOUT=%q must be a positive duration", config.ErrConfiguration, v)
		}
		set.registerTimeout = d
	}
	if err := set.job.Validate(); err != nil {
		return settings{}, err
	}
	if set.payload, err = loadPayload(set.job); err != nil {
		return settings{}, err
	}
	return set, nil
}

// loadPayload checks the files the nodes will search with and returns the
// ciphertext for the final report. Without either file there is nothing to
// render; one without the other is an error.
func loadPayload(cfg config.JobConfig) ([]byte, error) {
	switch {
	case cfg.Ciphertext == "" && cfg.Keyword == "":
		return nil, nil
	case cfg.Ciphertext == "" || cfg.Keyword == "":
		return nil, fmt.Errorf("%w: %s and %s must be set together", config.ErrConfiguration, config.EnvCiphertext, config.EnvKeyword)
	}
	ct, err := oracle.LoadCiphertext(cfg.Ciphertext)
	if err != nil {
		return nil, err
	}
	kw, err := oracle.LoadKeyword(cfg.Keyword)
	if err != nil {
		return nil, err
	}
	if _, err := oracle.NewKeyword(ct, kw); err != nil {
		return nil, err
	}
	return ct, nil
}

// run serves the API on ln until the job finishes or ctx ends, then
// writes the final report to out.
func run(ctx context.Context, set settings, ln net.Listener, out io.Writer) error {
	jobID := uuid.NewString()
	logger := log.WithFields(log.Fields{"component": "coordinator-main", "job": jobID})

	reg := metrics.NewRegistry(metrics.DefaultConfig())
	roster := coordinator.NewRoster(set.workers)
	coord, err := coordinator.New(coordinator.Config{
		Keyspace:  set.job.Keyspace(),
		ChunkSize: set.job.ChunkSize,
		Workers:   set.workers,
		Known:     roster.Known,
	}, coordinator.HTTPBroadcaster{Roster: roster, Timeout: 4 * time.Second}, reg.DispatchMetrics())
	if err != nil {
		return err
	}

	api := coordinator.NewServer(jobID, coord, roster, reg)
	httpSrv := &http.Server{
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.WithField("addr", ln.Addr().String()).Info("coordinator listening")
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("serve")
		}
	}()

	monitor := coordinator.NewHealthMonitor(set.healthInterval, 3)
	monitor.SetOnLost(func(nodeID string) {
		mctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := coord.MarkLost(mctx, nodeID); err != nil && !errors.Is(err, coordinator.ErrClosed) {
			logger.WithError(err).WithField("node", nodeID).Warn("could not mark node lost")
		}
	})
	mctx, stopMonitor := context.WithCancel(ctx)
	go monitor.Start(mctx, roster.List)

	runCtx, abort := context.WithCancelCause(ctx)
	defer abort(nil)
	if set.registerTimeout > 0 {
		go awaitRegistration(runCtx, set.registerTimeout, roster, coord, abort, logger)
	}

	outcome, runErr := coord.Run(runCtx)
	if cause := context.Cause(runCtx); runErr != nil && cause != nil {
		runErr = cause
	}

	stopMonitor()
	monitor.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("server shutdown")
	}
	if runErr != nil {
		return runErr
	}

	report := aggregate.FinalReport{
		Strategy:     string(config.Dynamic),
		Participants: set.workers + 1,
		ChunkSize:    set.job.ChunkSize,
		Trials:       1,
		Average:      outcome.Result.ParallelElapsed,
		Iterations:   outcome.Result.TotalIterations,
		Match:        outcome.Result.Match,
		Unsearched:   outcome.UnsearchedKeys(),
	}
	if report.Match.Found {
		report.Plaintext, report.Truncated = job.Render(oracle.DecryptFunc(oracle.Decrypt), set.payload, report.Match.Key)
	}
	aggregate.TextSink{W: out}.Final(report)
	if len(outcome.Lost) > 0 {
		logger.WithField("lost", outcome.Lost).Warn("some workers were lost")
	}
	if len(outcome.Unsearched) > 0 {
		logger.WithField("unsearched", outcome.Unsearched).Warn("search incomplete")
	}
	return nil
}

// awaitRegistration gives nodes timeout to fill the roster. Slots still
// empty after that are written off as lost workers; if no node registered at
// all the job is aborted with errRegistration.
func awaitRegistration(ctx context.Context, timeout time.Duration, roster *coordinator.Roster,
	coord *coordinator.Coordinator, abort context.CancelCauseFunc, logger *log.Entry,
) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-coord.Done():
		return
	case <-timer.C:
	}

	missing := roster.Seal()
	if missing == 0 {
		return
	}
	if roster.Len() == 0 {
		abort(fmt.Errorf("%w: no worker registered within %s", errRegistration, timeout))
		return
	}
	logger.WithFields(log.Fields{"missing": missing, "timeout": timeout}).
		Warn("writing off workers that never registered")
	for i := 1; i <= missing; i++ {
		if err := coord.MarkLost(ctx, fmt.Sprintf("unregistered-%d", i)); err != nil {
			return
		}
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
