package server

import (
	"bytes"
	"context"
	"crypto/tls"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	qerrors "github.com/pzverkov/pqtls-bench/internal/errors"
	"github.com/pzverkov/pqtls-bench/pkg/credentials"
	"github.com/pzverkov/pqtls-bench/pkg/httpwire"
	"github.com/pzverkov/pqtls-bench/pkg/latency"
	"github.com/pzverkov/pqtls-bench/pkg/metrics"
	"github.com/pzverkov/pqtls-bench/pkg/policy"
)

// syncBuffer is a bytes.Buffer safe for the logger and the test to share.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type testServer struct {
	listener  *Listener
	records   *latency.Memory
	collector *metrics.Collector
	log       *syncBuffer
	cancel    context.CancelFunc
	done      chan struct{}
	err       error
}

func startServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	creds, err := credentials.Generate("p256")
	require.NoError(t, err)

	ts := &testServer{
		records:   latency.NewMemory(),
		collector: metrics.NewCollector(nil),
		log:       &syncBuffer{},
		done:      make(chan struct{}),
	}
	opts.Host = "127.0.0.1"
	opts.Recorder = ts.records
	opts.Collector = ts.collector
	opts.Logger = metrics.TestLogger(ts.log)
	opts.Tracer = metrics.NoOpTracer{}

	ts.listener, err = New(0, creds.TLSCertificate(), opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ts.cancel = cancel
	go func() {
		ts.err = ts.listener.Run(ctx)
		close(ts.done)
	}()
	t.Cleanup(ts.stop)
	return ts
}

func (ts *testServer) stop() {
	ts.cancel()
	select {
	case <-ts.done:
	case <-time.After(5 * time.Second):
	}
}

func (ts *testServer) dial(t *testing.T) *tls.Conn {
	t.Helper()
	conn, err := tls.Dial("tcp", ts.listener.Addr().String(), policy.Default().ClientTLSConfig(""))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

// exchange sends one payload request over conn and reads the echo.
func exchange(t *testing.T, conn net.Conn, reader *httpwire.Reader, size int, keepAlive bool) (written, read int) {
	t.Helper()
	req, err := httpwire.PayloadRequest("localhost", size)
	require.NoError(t, err)
	if keepAlive {
		req.Close = false
		req.Header.Set("Connection", "keep-alive")
	}
	written, err = httpwire.Write(conn, req)
	require.NoError(t, err)
	_, body, read, err := reader.ReadResponse(req)
	require.NoError(t, err)
	require.Len(t, body, size)
	return written, read
}

func TestCreateSetupErrors(t *testing.T) {
	dir := t.TempDir()
	creds, err := credentials.Generate("p256")
	require.NoError(t, err)
	certFile := filepath.Join(dir, "cert.pem")
	keyFile := filepath.Join(dir, "key.pem")
	require.NoError(t, creds.WritePEM(certFile, keyFile))

	opts := Options{Recorder: latency.NewMemory(), Logger: metrics.NullLogger()}

	_, err = Create(0, certFile, keyFile, opts)
	assert.ErrorIs(t, err, qerrors.ErrInvalidPort)
	assert.True(t, qerrors.IsSetup(err))

	_, err = Create(4433, filepath.Join(dir, "missing.pem"), keyFile, opts)
	assert.True(t, qerrors.IsSetup(err), "missing certificate should be a setup error")

	_, err = New(0, creds.TLSCertificate(), Options{})
	assert.True(t, qerrors.IsSetup(err), "a listener needs a recorder")

	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()
	port := busy.Addr().(*net.TCPAddr).Port

	opts.Host = "127.0.0.1"
	_, err = Create(port, certFile, keyFile, opts)
	assert.True(t, qerrors.IsSetup(err), "bind failure should be a setup error")

	l, err := Create(freePort(t), certFile, keyFile, opts)
	require.NoError(t, err)
	assert.NoError(t, l.Close())
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestListenerEchoOverTLS(t *testing.T) {
	ts := startServer(t, Options{})
	conn := ts.dial(t)

	state := conn.ConnectionState()
	assert.Equal(t, uint16(tls.VersionTLS13), state.Version)
	assert.Equal(t, tls.X25519MLKEM768, state.CurveID)

	written, read := exchange(t, conn, httpwire.NewReader(conn), 100, false)

	eventually(t, func() bool { return ts.records.Len() == 1 }, "expected one server record")
	r := ts.records.Records()[0]
	assert.Equal(t, written, r.Size1, "bytes read equal the encoded request size")
	assert.Equal(t, read, r.Size2, "bytes written equal the encoded response size")
	assert.GreaterOrEqual(t, r.Handshake, time.Duration(0))

	eventually(t, func() bool { return ts.collector.Snapshot().SessionsActive == 0 }, "session should close")
	assert.NotContains(t, ts.log.String(), "ERROR")
}

func TestListenerKeepAliveCycles(t *testing.T) {
	ts := startServer(t, Options{})
	conn := ts.dial(t)
	reader := httpwire.NewReader(conn)

	const cycles = 5
	for i := 0; i < cycles-1; i++ {
		exchange(t, conn, reader, 64, true)
	}
	exchange(t, conn, reader, 64, false)

	eventually(t, func() bool { return ts.collector.Snapshot().CyclesTotal == cycles }, "expected every cycle counted")
	assert.Equal(t, cycles, ts.records.Len(), "one record per cycle")
	assert.Equal(t, uint64(1), ts.collector.Snapshot().SessionsTotal)
}

func TestListenerSurvivesBenignAbort(t *testing.T) {
	ts := startServer(t, Options{})

	// A scanner connects and leaves mid-handshake.
	raw, err := net.Dial("tcp", ts.listener.Addr().String())
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	eventually(t, func() bool { return ts.collector.Snapshot().SessionsFailed == 1 }, "aborted handshake should be counted")
	assert.Zero(t, ts.records.Len())
	assert.NotContains(t, ts.log.String(), "ERROR", "benign teardown must not be logged")

	// The accept loop keeps serving.
	conn := ts.dial(t)
	exchange(t, conn, httpwire.NewReader(conn), 10, false)
	eventually(t, func() bool { return ts.records.Len() == 1 }, "listener should still serve")
	assert.True(t, ts.listener.Running())
}

func TestListenerLogsOperationalHandshakeFailure(t *testing.T) {
	ts := startServer(t, Options{})

	raw, err := net.Dial("tcp", ts.listener.Addr().String())
	require.NoError(t, err)
	defer raw.Close()
	_, err = raw.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
	require.NoError(t, err)

	eventually(t, func() bool { return strings.Contains(ts.log.String(), "handshake failed") },
		"plain HTTP on the TLS port should be logged as a handshake failure")
	assert.Zero(t, ts.records.Len())
}

func TestListenerMaxSessions(t *testing.T) {
	ts := startServer(t, Options{MaxSessions: 1})

	first := ts.dial(t)
	firstReader := httpwire.NewReader(first)
	exchange(t, first, firstReader, 8, true)

	secondDone := make(chan error, 1)
	go func() {
		conn, err := tls.Dial("tcp", ts.listener.Addr().String(), policy.Default().ClientTLSConfig(""))
		if err == nil {
			_ = conn.Close()
		}
		secondDone <- err
	}()

	select {
	case err := <-secondDone:
		t.Fatalf("second handshake completed while the only slot was held: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	exchange(t, first, firstReader, 8, false)

	select {
	case err := <-secondDone:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("second session was never admitted")
	}
}

func TestListenerHandshakeRate(t *testing.T) {
	ts := startServer(t, Options{HandshakeRate: 1000, HandshakeBurst: 2})
	for i := 0; i < 3; i++ {
		conn := ts.dial(t)
		exchange(t, conn, httpwire.NewReader(conn), 4, false)
	}
	eventually(t, func() bool { return ts.records.Len() == 3 }, "paced handshakes should all complete")
}

func TestListenerRunCancel(t *testing.T) {
	ts := startServer(t, Options{})

	// An idle keep-alive session must not hold Run open after cancellation.
	conn := ts.dial(t)
	exchange(t, conn, httpwire.NewReader(conn), 4, true)
	eventually(t, func() bool { return ts.collector.Snapshot().SessionsActive == 1 }, "session should be active")

	ts.cancel()
	select {
	case <-ts.done:
		assert.NoError(t, ts.err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.False(t, ts.listener.Running())
	assert.Equal(t, uint64(0), ts.collector.Snapshot().SessionsActive)
	assert.NotContains(t, ts.log.String(), "ERROR")

	_, err := net.DialTimeout("tcp", ts.listener.Addr().String(), time.Second)
	assert.Error(t, err, "listening socket should be closed")
}

func TestListenerClose(t *testing.T) {
	ts := startServer(t, Options{})
	eventually(t, ts.listener.Running, "listener should start")
	require.NoError(t, ts.listener.Close())

	select {
	case <-ts.done:
		assert.ErrorIs(t, ts.err, qerrors.ErrListenerClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Close")
	}
}

func TestNextBackoff(t *testing.T) {
	d := nextBackoff(0)
	assert.Equal(t, minAcceptBackoff, d)
	for i := 0; i < 20; i++ {
		d = nextBackoff(d)
	}
	assert.Equal(t, maxAcceptBackoff, d)
}

func TestOptionsDefaults(t *testing.T) {
	creds, err := credentials.Generate("ed25519")
	require.NoError(t, err)

	// The compiled-in policy lists ed25519, so the server can present it.
	l, err := New(0, creds.TLSCertificate(), Options{Host: "127.0.0.1", Recorder: latency.NewMemory()})
	require.NoError(t, err)
	defer l.Close()

	assert.Nil(t, l.sem)
	assert.Nil(t, l.limiter)
	_, port, err := net.SplitHostPort(l.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	assert.NotZero(t, p)
}
