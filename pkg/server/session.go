package server

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"time"

	qerrors "github.com/pzverkov/pqtls-bench/internal/errors"
	"github.com/pzverkov/pqtls-bench/pkg/httpwire"
	"github.com/pzverkov/pqtls-bench/pkg/latency"
	"github.com/pzverkov/pqtls-bench/pkg/metrics"
)

// SessionState represents the lifecycle state of a server session.
type SessionState int32

const (
	// StateHandshaking indicates the server handshake is in progress
	StateHandshaking SessionState = iota

	// StateServing indicates the session is reading requests and echoing them
	StateServing

	// StateClosing indicates the secure stream is being shut down
	StateClosing

	// StateClosed indicates the session has terminated
	StateClosed
)

// String returns a human-readable name for the session state.
func (s SessionState) String() string {
	switch s {
	case StateHandshaking:
		return "Handshaking"
	case StateServing:
		return "Serving"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Stream is the secure stream a session runs over. *tls.Conn satisfies it.
type Stream interface {
	net.Conn
	HandshakeContext(ctx context.Context) error
	// NetConn returns the transport beneath the secure layer, closed
	// directly when a session aborts.
	NetConn() net.Conn
}

// Session serves one accepted connection: handshake, request/response loop,
// then shutdown. A Session is run once by the goroutine that owns it.
type Session struct {
	stream   Stream
	recorder latency.Recorder
	observer *metrics.Observer
	state    atomic.Int32
}

// NewSession creates a session in StateHandshaking.
func NewSession(stream Stream, recorder latency.Recorder, observer *metrics.Observer) *Session {
	if observer == nil {
		observer = metrics.NewObserver(metrics.ObserverConfig{Role: metrics.RoleServer})
	}
	return &Session{
		stream:   stream,
		recorder: recorder,
		observer: observer,
	}
}

// State returns the current session state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

func (s *Session) setState(st SessionState) {
	s.state.Store(int32(st))
}

// Run drives the session to StateClosed. Failures are handled here and never
// returned: benign teardowns are dropped, operational errors logged.
// Cancelling ctx closes the stream, which unblocks any pending I/O.
func (s *Session) Run(ctx context.Context) {
	s.observer.OnSessionStart()
	defer s.observer.OnSessionEnd()

	stop := context.AfterFunc(ctx, func() { _ = s.stream.NetConn().Close() })
	defer stop()

	hs, ok := s.handshake(ctx)
	if !ok {
		s.abort()
		return
	}

	s.setState(StateServing)
	if !s.serve(ctx, hs) {
		s.abort()
		return
	}

	s.setState(StateClosing)
	if err := s.stream.Close(); err != nil {
		s.observer.OnError(qerrors.PhaseOf(ctx, qerrors.PhaseShutdown), err)
	}
	s.setState(StateClosed)
}

func (s *Session) handshake(ctx context.Context) (time.Duration, bool) {
	s.setState(StateHandshaking)
	hctx, done := s.observer.OnHandshakeStart(ctx)
	err := s.stream.HandshakeContext(hctx)
	if err != nil {
		err = qerrors.Classify(qerrors.PhaseOf(ctx, qerrors.PhaseHandshake), err)
	}
	hs := done(err)
	return hs, err == nil
}

// serve runs the request/response loop. It reports false when the session
// must abort without a graceful shutdown.
func (s *Session) serve(ctx context.Context, hs time.Duration) bool {
	reader := httpwire.NewReader(s.stream)
	for {
		start := time.Now()
		req, body, readSize, err := reader.ReadRequest()
		readDur := time.Since(start)
		if err != nil {
			// A clean close between requests is the normal end of a session.
			// Any other read failure ends it without a response or a log line.
			return errors.Is(err, qerrors.ErrEndOfStream)
		}
		s.observer.OnRead(readSize, readDur)

		_, endCycle := s.observer.OnCycleStart(ctx)
		start = time.Now()
		writeSize, err := httpwire.Write(s.stream, httpwire.EchoResponse(req, body))
		writeDur := time.Since(start)
		if err != nil {
			s.observer.OnError(qerrors.PhaseOf(ctx, qerrors.PhaseWrite), err)
			endCycle(err)
			return false
		}
		s.observer.OnWrite(writeSize, writeDur)

		if err := s.recorder.Record(latency.ServerRecord(hs, readSize, readDur, writeSize, writeDur)); err != nil {
			s.observer.Logger().Error("latency record failed", metrics.Fields{"error": err})
		}
		endCycle(nil)

		if !httpwire.KeepAlive(req) {
			return true
		}
	}
}

// abort drops the transport without a close_notify.
func (s *Session) abort() {
	_ = s.stream.NetConn().Close()
	s.setState(StateClosed)
}
