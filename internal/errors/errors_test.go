package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"syscall"
	"testing"
)

// opErr builds the error shape the net package returns for socket failures.
func opErr(op string, errno syscall.Errno) error {
	return &net.OpError{Op: op, Net: "tcp", Err: os.NewSyscallError(op, errno)}
}

// TestErrorType tests the tagged Error type.
func TestErrorType(t *testing.T) {
	baseErr := errors.New("base error")
	err := Setup(PhaseSetup, baseErr)

	errStr := err.Error()
	if !strings.Contains(errStr, "setup") {
		t.Errorf("Error string should contain phase: %q", errStr)
	}
	if !strings.Contains(errStr, "base error") {
		t.Errorf("Error string should contain base error: %q", errStr)
	}
	if err.Unwrap() != baseErr {
		t.Errorf("Unwrap() returned %v, want %v", err.Unwrap(), baseErr)
	}
	if !IsSetup(err) {
		t.Error("IsSetup() should be true for Setup()")
	}
	if KindOf(LogSink(baseErr)) != KindLogSink {
		t.Error("LogSink() should carry KindLogSink")
	}
}

// TestClassify tests benign teardown detection per phase.
func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		phase  Phase
		err    error
		benign bool
	}{
		{"reset during handshake", PhaseHandshake, opErr("read", syscall.ECONNRESET), true},
		{"broken pipe during write", PhaseWrite, opErr("write", syscall.EPIPE), true},
		{"truncated handshake", PhaseHandshake, io.EOF, true},
		{"unexpected EOF on read", PhaseRead, io.ErrUnexpectedEOF, true},
		{"truncated shutdown", PhaseShutdown, fmt.Errorf("close notify: %w", io.EOF), true},
		{"refused on connect", PhaseConnect, opErr("dial", syscall.ECONNREFUSED), true},
		{"refused outside connect", PhaseHandshake, opErr("read", syscall.ECONNREFUSED), false},
		{"plain EOF on read", PhaseRead, io.EOF, false},
		{"dns failure", PhaseConnect, &net.DNSError{Err: "no such host", Name: "nowhere"}, false},
		{"tls alert", PhaseHandshake, errors.New("remote error: tls: handshake failure"), false},
		{"closed socket on shutdown", PhaseShutdown, net.ErrClosed, true},
		{"cancelled on shutdown", PhaseShutdown, context.Canceled, true},
		{"cancelled during read", PhaseRead, context.Canceled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Classify(tt.phase, tt.err)
			if got := IsBenignTeardown(err); got != tt.benign {
				t.Errorf("IsBenignTeardown(%v) = %v, want %v", err, got, tt.benign)
			}
			if !errors.Is(err, tt.err) {
				t.Error("classified error should wrap the original")
			}
			var tagged *Error
			if !As(err, &tagged) || tagged.Phase != tt.phase {
				t.Errorf("classified error should carry phase %q", tt.phase)
			}
		})
	}
}

// TestClassifyPassThrough tests that nil and already tagged errors are not re-wrapped.
func TestClassifyPassThrough(t *testing.T) {
	if Classify(PhaseRead, nil) != nil {
		t.Error("Classify(nil) should be nil")
	}

	tagged := Setup(PhaseHandshake, ErrPeerKeyRejected)
	if Classify(PhaseHandshake, tagged) != error(tagged) {
		t.Error("Classify should return an already tagged error unchanged")
	}
	if IsBenignTeardown(nil) {
		t.Error("nil is not a benign teardown")
	}
}

// TestPhaseOf tests that cancellation turns every phase into shutdown.
func TestPhaseOf(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	if got := PhaseOf(ctx, PhaseRead); got != PhaseRead {
		t.Errorf("PhaseOf(live ctx) = %q, want %q", got, PhaseRead)
	}
	cancel()
	if got := PhaseOf(ctx, PhaseRead); got != PhaseShutdown {
		t.Errorf("PhaseOf(cancelled ctx) = %q, want %q", got, PhaseShutdown)
	}
	if !IsBenignTeardown(Classify(PhaseOf(ctx, PhaseHandshake), context.Canceled)) {
		t.Error("a handshake interrupted by cancellation is a benign teardown")
	}
}

// TestKindString tests Kind names.
func TestKindString(t *testing.T) {
	tests := []struct {
		kind     Kind
		expected string
	}{
		{KindOperational, "operational"},
		{KindSetup, "setup"},
		{KindBenignTeardown, "benign"},
		{KindLogSink, "log-sink"},
		{Kind(42), "unknown"},
	}

	for _, tt := range tests {
		if tt.kind.String() != tt.expected {
			t.Errorf("expected %q, got %q", tt.expected, tt.kind.String())
		}
	}
}

// TestSentinelErrors tests all sentinel error definitions.
func TestSentinelErrors(t *testing.T) {
	sentinels := []error{
		ErrInvalidPort, ErrUnsupportedGroup, ErrUnsupportedSigAlg, ErrNoNativeAlgorithm,
		ErrKeyMismatch, ErrProviderSelfTest, ErrInvalidConfig, ErrUnsupportedAlgorithm,
		ErrEndOfStream, ErrPeerKeyRejected, ErrListenerClosed,
	}
	for _, err := range sentinels {
		if err == nil || err.Error() == "" {
			t.Errorf("sentinel %v should have a message", err)
		}
		if !Is(fmt.Errorf("wrapped: %w", err), err) {
			t.Errorf("wrapped %v should match with Is", err)
		}
	}
}
