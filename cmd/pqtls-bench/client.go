package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pzverkov/pqtls-bench/internal/config"
	"github.com/pzverkov/pqtls-bench/pkg/latency"
	"github.com/pzverkov/pqtls-bench/pkg/loadgen"
	"github.com/pzverkov/pqtls-bench/pkg/metrics"
	"github.com/pzverkov/pqtls-bench/pkg/pqc"
)

func newClientCmd() *cobra.Command {
	def := config.Default()
	cmd := &cobra.Command{
		Use:   "client-run",
		Short: "Run the closed-loop load generator",
		Long: `Run the closed-loop load generator.

Each concurrent user repeatedly connects, completes a TLS 1.3 handshake over
the one requested group, posts a payload and reads the echo, with no delay
between attempts. Cumulative successes, failures and TPS are printed every
report interval. SIGINT or SIGTERM stops the workers and prints a final line.`,
		Example: `  pqtls-bench client-run --server-host 127.0.0.1 --server-port 4433 \
      --concurrent-user 64 --tls-group x25519_mlkem768 --data-length 1024

  # Pace the whole pool at 500 attempts per second
  pqtls-bench client-run --server-host 10.0.0.2 --server-port 4433 \
      --concurrent-user 16 --tls-group p384_mlkem1024 --data-length 100 --rate 500`,
		Args: cobra.NoArgs,
		RunE: runClient,
	}

	flags := cmd.Flags()
	flags.String("server-host", def.Client.ServerHost, "Server host name or address")
	flags.Int("server-port", 0, "Server port (required)")
	flags.Int("concurrent-user", def.Client.Concurrency, "Number of concurrent workers")
	flags.String("tls-group", "", "Key-exchange group to offer (required)")
	flags.String("sigalgs", def.Client.SigAlgs, "Colon-separated signature algorithms accepted from the server")
	flags.Int("data-length", def.Client.PayloadSize, "Request body length in bytes")
	flags.Float64("rate", 0, "Attempts per second across all workers (0 = no pacing)")
	flags.Int("max-attempts", 0, "Stop each worker after this many attempts (0 = run until interrupted)")
	flags.Duration("report-interval", def.Client.ReportInterval, "Throughput report period")
	flags.String("log-dir", def.Log.Dir, "Directory for the latency log")
	flags.String("obs-addr", "", "Metrics and health server address (empty disables)")
	flags.String("max-heap", "", "Report unhealthy while the Go heap exceeds this size (e.g. 512MB)")
	return cmd
}

func applyClientFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	setString(flags, "server-host", &cfg.Client.ServerHost)
	setInt(flags, "server-port", &cfg.Client.ServerPort)
	setInt(flags, "concurrent-user", &cfg.Client.Concurrency)
	setString(flags, "tls-group", &cfg.Client.Group)
	setString(flags, "sigalgs", &cfg.Client.SigAlgs)
	setInt(flags, "data-length", &cfg.Client.PayloadSize)
	setFloat(flags, "rate", &cfg.Client.Rate)
	setDuration(flags, "report-interval", &cfg.Client.ReportInterval)
}

func runClient(cmd *cobra.Command, _ []string) (err error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyClientFlags(cmd, cfg)
	if err := cfg.ValidateClient(); err != nil {
		return err
	}
	maxAttempts, _ := cmd.Flags().GetInt("max-attempts")

	rt, err := setupObservability(cmd, cfg, metrics.RoleClient)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, rt.close()) }()
	if _, err := pqc.Install(); err != nil {
		return err
	}

	sink, err := latency.Open(cfg.Log.Dir, latency.RoleClient, time.Now())
	if err != nil {
		return err
	}

	h, err := loadgen.New(loadgen.Config{
		Host:           cfg.Client.ServerHost,
		Port:           cfg.Client.ServerPort,
		Concurrency:    cfg.Client.Concurrency,
		Group:          cfg.Client.Group,
		PayloadSize:    cfg.Client.PayloadSize,
		SigAlgs:        cfg.Client.SigAlgs,
		Rate:           cfg.Client.Rate,
		MaxAttempts:    maxAttempts,
		ReportInterval: cfg.Client.ReportInterval,
		Recorder:       sink,
		Out:            cmd.OutOrStdout(),
		Logger:         rt.logger,
		Collector:      rt.collector,
		Tracer:         rt.tracer,
	})
	if err != nil {
		return errors.Join(err, sink.Discard())
	}
	defer func() {
		if cerr := sink.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	ctx := cmd.Context()
	rt.serveObservability(ctx, cfg.Observability.Addr, nil)

	fmt.Fprintf(cmd.OutOrStdout(), "Connecting to %s:%d with %d workers over %s, logging to %s\n",
		cfg.Client.ServerHost, cfg.Client.ServerPort, cfg.Client.Concurrency, cfg.Client.Group, sink.Path())
	return h.Run(ctx)
}
