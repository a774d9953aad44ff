// Package pqtlsbench measures the cost of post-quantum key exchange in TLS 1.3.
//
// pqtls-bench pairs an echo server with a closed-loop load generator. Every
// client attempt opens a fresh connection, completes a TLS 1.3 handshake over
// one configured key-exchange group, posts an HTTP/1.1 payload and reads the
// echo. Both sides write one latency line per completed request/response
// cycle, and the client prints cumulative throughput every few seconds.
//
// # Quick Start
//
// Generate a credential pair and start the server:
//
//	pqtls-bench gen-cert --algo-name p256 \
//	    --output-certificate-file server.crt --private-key-file server.key
//	pqtls-bench server-run --port 4433 \
//	    --certificate-file server.crt --private-key-file server.key
//
// Drive it with 64 concurrent users over the hybrid ML-KEM group:
//
//	pqtls-bench client-run --server-host 127.0.0.1 --server-port 4433 \
//	    --concurrent-user 64 --tls-group x25519_mlkem768 --data-length 1024
//
// Or run both ends in one process on loopback:
//
//	pqtls-bench bench --tls-group x25519_mlkem768 --duration 30s
//
// # Package Structure
//
//   - pkg/policy: Group and signature algorithm lists and the TLS 1.3 configuration built from them
//   - pkg/pqc: Extended post-quantum scheme provider with install-time self-tests
//   - pkg/credentials: Self-signed certificate generation and loading
//   - pkg/server: Listener and per-connection echo sessions
//   - pkg/loadgen: Worker pool, outcome counters and the throughput reporter
//   - pkg/httpwire: HTTP/1.1 framing with exact byte accounting
//   - pkg/latency: Per-cycle latency log files
//   - pkg/metrics: Logging, Prometheus metrics, tracing, health endpoints
//   - internal/config: YAML, environment and flag configuration
//   - internal/constants: Compiled-in algorithm lists and protocol constants
//   - internal/errors: Error taxonomy separating expected teardowns from real failures
//
// # Latency Logs
//
// Logs are named <start>_log_<role>.csv, use ';' as the field separator and
// CRLF line endings. Durations are microseconds and sizes are bytes:
//
//	server: hs_duration_us;recv_size;recv_duration_us;write_size;write_duration_us
//	client: hs_duration_us;write_size;write_duration_us;recv_size;recv_duration_us
//
// # Testing
//
//	go test ./...                               # All tests
//	go test -fuzz=FuzzReadRequest ./pkg/httpwire  # Fuzz the request reader
//	go test -bench=. ./pkg/server                 # Loopback handshake benchmarks
package pqtlsbench
