package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/pzverkov/pqtls-bench/pkg/credentials"
	"github.com/pzverkov/pqtls-bench/pkg/latency"
	"github.com/pzverkov/pqtls-bench/pkg/loadgen"
	"github.com/pzverkov/pqtls-bench/pkg/metrics"
	"github.com/pzverkov/pqtls-bench/pkg/pqc"
	"github.com/pzverkov/pqtls-bench/pkg/server"
	pkgversion "github.com/pzverkov/pqtls-bench/pkg/version"
)

func newBenchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run server and load generator in one process over loopback",
		Long: `Run a server and the load generator in one process over loopback and
print a summary of handshake latency and throughput.

No latency log files are written; use server-run and client-run on separate
hosts for measurements meant to be published.`,
		Example: `  # 30 seconds of hybrid ML-KEM handshakes with 8 workers
  pqtls-bench bench --tls-group x25519_mlkem768 --concurrent-user 8 --duration 30s

  # Compare against a classical-only server certificate type
  pqtls-bench bench --tls-group p384_mlkem1024 --algo-name rsa3072 --size 16KB`,
		Args: cobra.NoArgs,
		RunE: runBench,
	}

	flags := cmd.Flags()
	flags.String("tls-group", "x25519_mlkem768", "Key-exchange group to offer")
	flags.String("algo-name", "p256", "Server certificate key algorithm")
	flags.Int("concurrent-user", 4, "Number of concurrent workers")
	flags.String("size", "1KB", "Request body size (e.g. 100, 16KB, 1MB)")
	flags.Duration("duration", 10*time.Second, "How long to run")
	return cmd
}

func runBench(cmd *cobra.Command, _ []string) (err error) {
	flags := cmd.Flags()
	group, _ := flags.GetString("tls-group")
	algo, _ := flags.GetString("algo-name")
	workers, _ := flags.GetInt("concurrent-user")
	sizeStr, _ := flags.GetString("size")
	duration, _ := flags.GetDuration("duration")

	size, err := parseSize(sizeStr)
	if err != nil {
		return err
	}
	if duration <= 0 {
		return fmt.Errorf("invalid duration: %s", duration)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	rt, err := setupObservability(cmd, cfg, metrics.RoleClient)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, rt.close()) }()
	if _, err := pqc.Install(); err != nil {
		return err
	}

	creds, err := credentials.Generate(algo)
	if err != nil {
		return err
	}
	serverCollector := metrics.NewCollector(metrics.Labels{"service": pkgversion.Name, "role": metrics.RoleServer})
	l, err := server.New(0, creds.TLSCertificate(), server.Options{
		Host:      "127.0.0.1",
		Recorder:  latency.NewMemory(),
		Logger:    rt.logger,
		Collector: serverCollector,
		Tracer:    rt.tracer,
	})
	if err != nil {
		return err
	}

	h, err := loadgen.New(loadgen.Config{
		Host:        "127.0.0.1",
		Port:        l.Addr().(*net.TCPAddr).Port,
		Concurrency: workers,
		Group:       group,
		PayloadSize: int(size),
		Recorder:    latency.NewMemory(),
		Out:         cmd.OutOrStdout(),
		Logger:      rt.logger,
		Collector:   rt.collector,
		Tracer:      rt.tracer,
	})
	if err != nil {
		_ = l.Close()
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Benchmarking %s with a %s certificate (%d workers, %s bodies, %s)\n",
		group, algo, workers, formatSize(size), duration)
	fmt.Fprintln(out, strings.Repeat("─", 60))

	// Attempts cut off by cancel classify as shutdown teardowns; a deadline
	// would surface as timeouts.
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	timer := time.AfterFunc(duration, cancel)
	defer timer.Stop()

	var wg sync.WaitGroup
	var serverErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		serverErr = l.Run(ctx)
	}()

	start := time.Now()
	runErr := h.Run(ctx)
	elapsed := time.Since(start)
	cancel()
	wg.Wait()

	printBenchSummary(out, h.Counters(), rt.collector, serverCollector, elapsed)
	return errors.Join(runErr, serverErr)
}

func printBenchSummary(out io.Writer, counters *loadgen.Counters, client, srv *metrics.Collector, elapsed time.Duration) {
	success, failure := counters.Snapshot()
	hs := client.HandshakeLatency()
	snap := client.Snapshot()

	fmt.Fprintln(out)
	fmt.Fprintln(out, "Results:")
	fmt.Fprintf(out, "  Attempts:        %d (%d failed)\n", success+failure, failure)
	if secs := elapsed.Seconds(); secs > 0 {
		fmt.Fprintf(out, "  Throughput:      %.2f req/s\n", float64(success+failure)/secs)
		fmt.Fprintf(out, "  Successful:      %.2f req/s\n", float64(success)/secs)
	}
	if hs.Count() > 0 {
		fmt.Fprintf(out, "  Handshake mean:  %v\n", metrics.Duration(hs.Mean()).Round(time.Microsecond))
		fmt.Fprintf(out, "  Handshake p50:   %v\n", metrics.Duration(hs.Percentile(0.50)).Round(time.Microsecond))
		fmt.Fprintf(out, "  Handshake p99:   %v\n", metrics.Duration(hs.Percentile(0.99)).Round(time.Microsecond))
	}
	fmt.Fprintf(out, "  Client sent:     %s\n", formatSize(int64(snap.BytesSent)))
	fmt.Fprintf(out, "  Client received: %s\n", formatSize(int64(snap.BytesReceived)))
	fmt.Fprintf(out, "  Server cycles:   %d\n", srv.Snapshot().CyclesTotal)
}

// parseSize parses sizes like "100", "16KB" or "1MB".
func parseSize(in string) (int64, error) {
	s := strings.TrimSpace(strings.ToUpper(in))
	s = strings.TrimSuffix(s, "B")

	multiplier := int64(1)
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
	}
	if multiplier > 1 {
		s = s[:len(s)-1]
	}

	value, err := strconv.ParseInt(s, 10, 64)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("invalid size: %q", in)
	}
	return value * multiplier, nil
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	units := []string{"KB", "MB", "GB", "TB"}
	return fmt.Sprintf("%.2f %s", float64(bytes)/float64(div), units[exp])
}
