// Command pqtls-bench runs the TLS 1.3 post-quantum benchmark server and load
// generator.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	pkgversion "github.com/pzverkov/pqtls-bench/pkg/version"
)

// Build-time variables (set via -ldflags)
var (
	version   = ""        // Set via -ldflags "-X main.version=x.y.z"
	buildTime = "unknown" // Set via -ldflags "-X main.buildTime=..."
	gitCommit = "unknown" // Set via -ldflags "-X main.gitCommit=..."
)

func getVersion() string {
	if version != "" {
		return version
	}
	return pkgversion.String()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pqtls-bench",
		Short: "pqtls-bench - TLS 1.3 post-quantum handshake and throughput benchmark",
		Long: `pqtls-bench measures the cost of post-quantum and hybrid key exchange in
TLS 1.3 with a closed-loop HTTP/1.1 echo workload.

Both ends write one latency line per completed request/response cycle:
  <start>_log_server.csv  hs_duration_us;recv_size;recv_duration_us;write_size;write_duration_us
  <start>_log_client.csv  hs_duration_us;write_size;write_duration_us;recv_size;recv_duration_us`,
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "YAML configuration file (flags override it, PQTLS_* variables sit in between)")
	flags.String("log-level", "", "Log level: debug, info, warn, error, silent (default info)")
	flags.String("log-format", "", "Log format: text or json (default text)")
	flags.String("tracing", "", "Tracing mode: none, log (debug lines, last spans kept), otel (default none)")
	flags.String("trace-output", "", "File receiving exported OpenTelemetry spans (default stderr)")

	rootCmd.AddCommand(
		newServerCmd(),
		newClientCmd(),
		newBenchCmd(),
		newGenCertCmd(),
		newAlgosCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s version %s\n", pkgversion.Name, getVersion())
			if buildTime != "unknown" {
				fmt.Fprintf(out, "Built: %s\n", buildTime)
			}
			if gitCommit != "unknown" {
				fmt.Fprintf(out, "Commit: %s\n", gitCommit)
			}
		},
	}
}
