package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/mediarun/mediarun/internal/builtin"
	"github.com/mediarun/mediarun/internal/capability"
	"github.com/mediarun/mediarun/internal/config"
	"github.com/mediarun/mediarun/internal/data/wire"
	"github.com/mediarun/mediarun/internal/executor"
	"github.com/mediarun/mediarun/internal/ipc"
	"github.com/mediarun/mediarun/internal/manifest"
	"github.com/mediarun/mediarun/internal/observability"
	"github.com/mediarun/mediarun/internal/session"
)

var (
	metricsAddr string
	observeCron string
)

// runCmd loads a manifest, builds a session.Runner over it, and pumps
// RuntimeData wire frames between stdin/stdout and the session's external
// input/output edges. It stands in for the out-of-scope gRPC/WebRTC/
// WebSocket transports spec.md places outside this runtime's boundary: a
// minimal, in-tree transport that exercises the same session surface
// (Input/Output/Close) a real transport adapter would drive.
var runCmd = &cobra.Command{
	Use:   "run [manifest]",
	Short: "Run a manifest as a session, reading/writing RuntimeData frames on stdio",
	Long: `Loads a node graph manifest, creates a session from it, and streams
RuntimeData wire frames: input frames are read from stdin and fed to the
session's entry node, output frames are written to stdout as they arrive
from the session's exit node.

This is a minimal stdio transport for local testing and scripting. A
production deployment drives internal/session.Runner from a real
transport (gRPC, WebRTC, WebSocket) instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address (e.g. :9090)")
	runCmd.Flags().StringVar(&observeCron, "observe-cron", "", "if set, a cron expression scheduling periodic session-health log lines (e.g. \"@every 30s\")")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	m, err := manifest.LoadFile(args[0])
	if err != nil {
		return fmt.Errorf("loading manifest %s: %w", args[0], err)
	}

	reg := capability.NewRegistry()
	if err := builtin.Register(reg); err != nil {
		return fmt.Errorf("registering builtin node types: %w", err)
	}

	logger := observability.LoggerFromContext(ctx)
	metrics := observability.NewMetrics()
	if metricsAddr != "" {
		go serveMetrics(logger, metrics)
	}

	runner, err := session.NewBuilder().
		WithRegistry(reg).
		WithMetrics(metrics).
		WithLogger(logger).
		WithConfig(sessionConfigFrom(cfg)).
		Build()
	if err != nil {
		return fmt.Errorf("building session runner: %w", err)
	}

	sess, err := runner.CreateSession(ctx, m)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	logger.Info("session created", "session_id", sess.ID.String(), "manifest", m.Metadata.Name)

	if observeCron != "" {
		observer, err := startSessionObserver(observeCron, sess, logger)
		if err != nil {
			return fmt.Errorf("starting session observer: %w", err)
		}
		defer observer.Stop()
	}

	go pumpStdinToSession(ctx, sess, logger)

	var runErr error
	for td := range sess.Output() {
		if err := wire.WriteFrame(os.Stdout, td.Data); err != nil {
			runErr = fmt.Errorf("writing output frame: %w", err)
			break
		}
	}
	if runErr == nil {
		runErr = sess.LastError()
	}

	if err := runner.Close(sess); err != nil {
		logger.Warn("session close", "session_id", sess.ID.String(), "error", err)
	}
	return runErr
}

func pumpStdinToSession(ctx context.Context, sess *session.Session, logger *slog.Logger) {
	for {
		v, err := wire.ReadFrame(os.Stdin)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Warn("reading input frame", "error", err)
			}
			return
		}
		select {
		case sess.Input() <- session.TransportData{Data: v}:
		case <-ctx.Done():
			return
		}
	}
}

// startSessionObserver schedules a periodic log of a session's lifecycle
// state on the given cron expression. This is the minimal, in-tree stand-in
// for the scheduled observation hooks an auto-healing controller would use
// to decide when a session needs intervention (restart, alert, manifest
// replay); the controller itself is out of scope here, so the job only
// observes and logs.
func startSessionObserver(expr string, sess *session.Session, logger *slog.Logger) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(expr, func() {
		logger.Info("session observation",
			"session_id", sess.ID.String(),
			"state", sess.State(),
			"uptime", time.Since(sess.CreatedAt()).String(),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid --observe-cron expression %q: %w", expr, err)
	}
	c.Start()
	return c, nil
}

func serveMetrics(logger *slog.Logger, m *observability.Metrics) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	if err := http.ListenAndServe(metricsAddr, mux); err != nil {
		logger.Error("metrics server stopped", "error", err)
	}
}

func executorConfigFrom(cfg *config.Config) executor.Config {
	ec := executor.DefaultConfig()
	ec.NodeTimeout = cfg.Runtime.NodeTimeout
	ec.CircuitBreakerThreshold = cfg.Runtime.CircuitBreakerThreshold
	ec.CircuitBreakerReset = cfg.Runtime.CircuitBreakerResetTimeout
	return ec
}

func sessionConfigFrom(cfg *config.Config) session.Config {
	return session.Config{
		Executor:              executorConfigFrom(cfg),
		DefaultEdgeCapacity:   cfg.Runtime.DefaultEdgeCapacity,
		DefaultOverflowPolicy: ipc.OverflowPolicy(cfg.Runtime.DefaultOverflowPolicy),
		CloseDeadline:         cfg.Runtime.CloseDeadline,
		MaxConcurrentSessions: cfg.Runtime.MaxConcurrentSessions,
		Worker: session.WorkerConfig{
			Command:           cfg.Worker.Command,
			Args:              cfg.Worker.Args,
			SocketDir:         cfg.IPC.SocketDir,
			ShmDir:            cfg.IPC.ShmDir,
			SpawnTimeout:      cfg.Worker.SpawnTimeout,
			HeartbeatInterval: cfg.Worker.HeartbeatInterval,
			HeartbeatTimeout:  cfg.Worker.HeartbeatTimeout,
			MaxRestarts:       cfg.Worker.MaxRestartAttempts,
			RingSlotCount:     cfg.Worker.RingSlotCount,
			RingSlotSize:      int(cfg.Worker.RingSlotSize.Int64()),
		},
	}
}
