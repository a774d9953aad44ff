package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/pzverkov/pqtls-bench/pkg/httpwire"
	"github.com/pzverkov/pqtls-bench/pkg/latency"
	"github.com/pzverkov/pqtls-bench/pkg/metrics"
)

// pipeStream is a Stream over net.Pipe with a scripted handshake result.
type pipeStream struct {
	net.Conn
	handshakeErr error
}

func (p *pipeStream) HandshakeContext(context.Context) error { return p.handshakeErr }
func (p *pipeStream) NetConn() net.Conn                      { return p.Conn }

func newPipeSession(t *testing.T, handshakeErr error) (*Session, net.Conn, *latency.Memory, *metrics.Collector, *bytes.Buffer) {
	t.Helper()
	srv, cli := net.Pipe()
	t.Cleanup(func() {
		_ = srv.Close()
		_ = cli.Close()
	})

	var buf bytes.Buffer
	mem := latency.NewMemory()
	collector := metrics.NewCollector(nil)
	obs := metrics.NewObserver(metrics.ObserverConfig{
		Collector: collector,
		Tracer:    metrics.NoOpTracer{},
		Logger:    metrics.TestLogger(&buf),
		Role:      metrics.RoleServer,
	})
	return NewSession(&pipeStream{Conn: srv, handshakeErr: handshakeErr}, mem, obs), cli, mem, collector, &buf
}

func runSession(ctx context.Context, s *Session) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	return done
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
	}
}

func TestSessionStateString(t *testing.T) {
	tests := []struct {
		state    SessionState
		expected string
	}{
		{StateHandshaking, "Handshaking"},
		{StateServing, "Serving"},
		{StateClosing, "Closing"},
		{StateClosed, "Closed"},
		{SessionState(9), "Unknown"},
	}
	for _, tt := range tests {
		if tt.state.String() != tt.expected {
			t.Errorf("expected %q, got %q", tt.expected, tt.state.String())
		}
	}
}

func TestSessionSingleCycle(t *testing.T) {
	s, cli, mem, collector, buf := newPipeSession(t, nil)
	if s.State() != StateHandshaking {
		t.Fatalf("new session should be Handshaking, got %s", s.State())
	}
	done := runSession(context.Background(), s)

	req, err := httpwire.PayloadRequest("localhost", 100)
	if err != nil {
		t.Fatal(err)
	}
	written, err := httpwire.Write(cli, req)
	if err != nil {
		t.Fatalf("write request: %v", err)
	}

	resp, body, read, err := httpwire.NewReader(cli).ReadResponse(req)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	waitDone(t, done)

	if resp.StatusCode != 400 {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if !bytes.Equal(body, bytes.Repeat([]byte{'A'}, 100)) {
		t.Error("echoed body differs from request body")
	}
	if s.State() != StateClosed {
		t.Errorf("state = %s, want Closed", s.State())
	}

	records := mem.Records()
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	r := records[0]
	if r.Size1 != written {
		t.Errorf("recorded read size %d, client wrote %d", r.Size1, written)
	}
	if r.Size2 != read {
		t.Errorf("recorded write size %d, client read %d", r.Size2, read)
	}
	if r.Handshake < 0 || r.Duration1 < 0 || r.Duration2 < 0 {
		t.Errorf("negative duration in %+v", r)
	}

	snap := collector.Snapshot()
	if snap.CyclesTotal != 1 || snap.SessionsActive != 0 {
		t.Errorf("cycles/active = %d/%d, want 1/0", snap.CyclesTotal, snap.SessionsActive)
	}
	if strings.Contains(buf.String(), "ERROR") {
		t.Errorf("unexpected error log: %s", buf.String())
	}
}

func TestSessionKeepAliveLoop(t *testing.T) {
	s, cli, mem, _, _ := newPipeSession(t, nil)
	done := runSession(context.Background(), s)

	reader := httpwire.NewReader(cli)
	const cycles = 4
	for i := 0; i < cycles; i++ {
		req, err := httpwire.PayloadRequest("localhost", 10*(i+1))
		if err != nil {
			t.Fatal(err)
		}
		req.Close = false
		req.Header.Set("Connection", "keep-alive")
		if _, err := httpwire.Write(cli, req); err != nil {
			t.Fatalf("cycle %d write: %v", i, err)
		}
		resp, body, _, err := reader.ReadResponse(req)
		if err != nil {
			t.Fatalf("cycle %d read: %v", i, err)
		}
		if resp.Header.Get("Connection") != "keep-alive" {
			t.Errorf("cycle %d: Connection = %q", i, resp.Header.Get("Connection"))
		}
		if len(body) != 10*(i+1) {
			t.Errorf("cycle %d: body length %d", i, len(body))
		}
	}
	if s.State() != StateServing {
		t.Errorf("state between requests = %s, want Serving", s.State())
	}

	// Clean close between requests ends the session gracefully.
	_ = cli.Close()
	waitDone(t, done)

	records := mem.Records()
	if len(records) != cycles {
		t.Fatalf("expected %d records, got %d", cycles, len(records))
	}
	for i := 1; i < cycles; i++ {
		if records[i].Size1 <= records[i-1].Size1 {
			t.Errorf("records out of order: %d then %d", records[i-1].Size1, records[i].Size1)
		}
		if records[i].Handshake != records[0].Handshake {
			t.Error("every record of a session carries the same handshake duration")
		}
	}
}

func TestSessionHandshakeFailure(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		logged bool
	}{
		{"truncated by scanner", io.EOF, false},
		{"operational", errors.New("tls: client offered only unsupported versions"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, mem, collector, buf := newPipeSession(t, tt.err)
			waitDone(t, runSession(context.Background(), s))

			if s.State() != StateClosed {
				t.Errorf("state = %s, want Closed", s.State())
			}
			if mem.Len() != 0 {
				t.Error("failed handshake must not produce a record")
			}
			if collector.Snapshot().SessionsFailed != 1 {
				t.Error("failed handshake should count as failed session")
			}
			if got := strings.Contains(buf.String(), "ERROR"); got != tt.logged {
				t.Errorf("logged = %v, want %v: %s", got, tt.logged, buf.String())
			}
		})
	}
}

func TestSessionReadErrorIsSilent(t *testing.T) {
	s, cli, mem, _, buf := newPipeSession(t, nil)
	done := runSession(context.Background(), s)

	if _, err := cli.Write([]byte("NOT-HTTP\r\n\r\n")); err != nil {
		t.Fatal(err)
	}
	waitDone(t, done)

	if mem.Len() != 0 {
		t.Error("malformed request must not produce a record")
	}
	if strings.Contains(buf.String(), "ERROR") {
		t.Errorf("read errors are not logged: %s", buf.String())
	}
}

func TestSessionCancel(t *testing.T) {
	s, _, mem, collector, buf := newPipeSession(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := runSession(ctx, s)

	time.Sleep(20 * time.Millisecond)
	cancel()
	waitDone(t, done)

	if s.State() != StateClosed {
		t.Errorf("state = %s, want Closed", s.State())
	}
	if mem.Len() != 0 {
		t.Error("no cycle completed")
	}
	if collector.Snapshot().SessionsActive != 0 {
		t.Error("cancelled session should no longer be active")
	}
	if strings.Contains(buf.String(), "ERROR") {
		t.Errorf("cancellation is not an error: %s", buf.String())
	}
}
