package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pzverkov/pqtls-bench/internal/config"
	"github.com/pzverkov/pqtls-bench/pkg/latency"
	"github.com/pzverkov/pqtls-bench/pkg/metrics"
	"github.com/pzverkov/pqtls-bench/pkg/policy"
	"github.com/pzverkov/pqtls-bench/pkg/pqc"
	"github.com/pzverkov/pqtls-bench/pkg/server"
)

func newServerCmd() *cobra.Command {
	def := config.Default()
	cmd := &cobra.Command{
		Use:   "server-run",
		Short: "Run the TLS 1.3 echo server",
		Long: `Run the TLS 1.3 echo server.

Every accepted connection completes a handshake over the configured groups,
then each HTTP/1.1 request is answered with its body echoed back. The server
writes one latency line per completed cycle. SIGINT or SIGTERM stops
accepting, waits for open sessions and flushes the log.`,
		Example: `  pqtls-bench server-run --port 4433 \
      --certificate-file server.crt --private-key-file server.key

  # Bound concurrency and pace handshakes, expose /metrics on :9090
  pqtls-bench server-run --port 4433 --certificate-file server.crt \
      --private-key-file server.key --max-sessions 512 --handshake-rate 2000 \
      --obs-addr :9090`,
		Args: cobra.NoArgs,
		RunE: runServer,
	}

	flags := cmd.Flags()
	flags.Int("port", 0, "Port to listen on (required)")
	flags.String("certificate-file", "", "PEM certificate file (required)")
	flags.String("private-key-file", "", "PEM private key file (required)")
	flags.String("groups", def.Server.Groups, "Colon-separated key-exchange group preference")
	flags.String("sigalgs", def.Server.SigAlgs, "Colon-separated signature algorithm preference")
	flags.Int64("max-sessions", 0, "Maximum concurrent sessions (0 = unbounded)")
	flags.Int("max-sessions-per-peer", 0, "Maximum concurrent sessions from one client IP (0 = unbounded)")
	flags.Float64("handshake-rate", 0, "Handshakes per second across all sessions (0 = unlimited)")
	flags.Int("handshake-burst", 0, "Handshake rate burst (default 1 when a rate is set)")
	flags.String("log-dir", def.Log.Dir, "Directory for the latency log")
	flags.String("obs-addr", "", "Metrics and health server address (empty disables)")
	flags.String("max-heap", "", "Report unhealthy while the Go heap exceeds this size (e.g. 512MB)")
	return cmd
}

func applyServerFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	setInt(flags, "port", &cfg.Server.Port)
	setString(flags, "certificate-file", &cfg.Server.CertificateFile)
	setString(flags, "private-key-file", &cfg.Server.PrivateKeyFile)
	setString(flags, "groups", &cfg.Server.Groups)
	setString(flags, "sigalgs", &cfg.Server.SigAlgs)
	setInt64(flags, "max-sessions", &cfg.Server.MaxSessions)
	setInt(flags, "max-sessions-per-peer", &cfg.Server.MaxSessionsPerPeer)
	setFloat(flags, "handshake-rate", &cfg.Server.HandshakeRate)
	setInt(flags, "handshake-burst", &cfg.Server.HandshakeBurst)
}

func runServer(cmd *cobra.Command, _ []string) (err error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyServerFlags(cmd, cfg)
	if err := cfg.ValidateServer(); err != nil {
		return err
	}

	rt, err := setupObservability(cmd, cfg, metrics.RoleServer)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, rt.close()) }()
	if _, err := pqc.Install(); err != nil {
		return err
	}

	pol, err := policy.Parse(cfg.Server.Groups, cfg.Server.SigAlgs)
	if err != nil {
		return err
	}

	sink, err := latency.Open(cfg.Log.Dir, latency.RoleServer, time.Now())
	if err != nil {
		return err
	}

	l, err := server.Create(cfg.Server.Port, cfg.Server.CertificateFile, cfg.Server.PrivateKeyFile, server.Options{
		Policy:             pol,
		Recorder:           sink,
		Logger:             rt.logger,
		Collector:          rt.collector,
		Tracer:             rt.tracer,
		MaxSessions:        cfg.Server.MaxSessions,
		MaxSessionsPerPeer: cfg.Server.MaxSessionsPerPeer,
		HandshakeRate:      cfg.Server.HandshakeRate,
		HandshakeBurst:     cfg.Server.HandshakeBurst,
	})
	if err != nil {
		// Nothing was measured; leave no header-only log behind.
		return errors.Join(err, sink.Discard())
	}
	defer func() {
		if cerr := sink.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	ctx := cmd.Context()
	rt.serveObservability(ctx, cfg.Observability.Addr, l.Running)

	fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s, logging to %s\n", l.Addr(), sink.Path())
	return l.Run(ctx)
}
