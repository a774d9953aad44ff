// Package errors defines the error taxonomy of the pqtls-bench harness.
//
// Every failure that crosses a package boundary is either a plain sentinel
// (configuration and wire-level conditions) or an *Error tagged with a Kind:
//
//   - KindSetup: fatal to the operation that attempted it (bad credentials,
//     bind failure, unsupported algorithm policy).
//   - KindBenignTeardown: routine peer disconnects and scanner connections. These are
//     absorbed and never logged.
//   - KindOperational: any other failure during handshake, read or write. Logged,
//     ends the session or attempt it occurred in.
//   - KindLogSink: the latency log could not be opened. Halts the process.
//
// Classification happens in one place, Classify, so that sessions and workers
// agree on what counts as benign.
package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// Sentinel errors for setup
var (
	// ErrInvalidPort indicates a listen or dial port outside 1..65535
	ErrInvalidPort = errors.New("setup: invalid port")

	// ErrUnsupportedGroup indicates a key-exchange group name the stack does not know
	ErrUnsupportedGroup = errors.New("setup: unsupported key exchange group")

	// ErrUnsupportedSigAlg indicates a signature algorithm name the stack does not know
	ErrUnsupportedSigAlg = errors.New("setup: unsupported signature algorithm")

	// ErrNoNativeAlgorithm indicates a policy list none of whose entries can be negotiated
	ErrNoNativeAlgorithm = errors.New("setup: no algorithm in list is negotiable")

	// ErrKeyMismatch indicates the private key does not match the certificate
	ErrKeyMismatch = errors.New("setup: private key does not match certificate")

	// ErrProviderSelfTest indicates the extended algorithm provider failed its self-test
	ErrProviderSelfTest = errors.New("setup: extended algorithm self-test failed")

	// ErrInvalidConfig indicates a configuration value out of range
	ErrInvalidConfig = errors.New("setup: invalid configuration")

	// ErrUnsupportedAlgorithm indicates a known signature algorithm that the TLS
	// stack cannot serve, so no credentials are generated for it
	ErrUnsupportedAlgorithm = errors.New("setup: algorithm cannot be served by the tls stack")
)

// Sentinel errors for the request/response cycle
var (
	// ErrEndOfStream indicates the peer closed the stream cleanly between requests
	ErrEndOfStream = errors.New("wire: end of stream")

	// ErrPeerKeyRejected indicates the peer certificate key cannot produce any
	// signature scheme allowed by the policy
	ErrPeerKeyRejected = errors.New("handshake: peer key not allowed by policy")

	// ErrListenerClosed indicates the listener was closed while accepting
	ErrListenerClosed = errors.New("listener: closed")
)

// Kind tags an Error with its place in the taxonomy.
type Kind int

const (
	KindOperational Kind = iota
	KindSetup
	KindBenignTeardown
	KindLogSink
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindOperational:
		return "operational"
	case KindSetup:
		return "setup"
	case KindBenignTeardown:
		return "benign"
	case KindLogSink:
		return "log-sink"
	default:
		return "unknown"
	}
}

// Phase identifies where in a connection lifecycle an error happened.
type Phase string

const (
	PhaseSetup     Phase = "setup"
	PhaseAccept    Phase = "accept"
	PhaseConnect   Phase = "connect"
	PhaseHandshake Phase = "handshake"
	PhaseRead      Phase = "read"
	PhaseWrite     Phase = "write"
	PhaseShutdown  Phase = "shutdown"
)

// Error wraps an underlying error with its Kind and Phase.
type Error struct {
	Kind  Kind
	Phase Phase
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Phase, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Setup wraps err as a SetupError raised during phase.
func Setup(phase Phase, err error) *Error {
	return &Error{Kind: KindSetup, Phase: phase, Err: err}
}

// LogSink wraps err as a fatal log-sink error.
func LogSink(err error) *Error {
	return &Error{Kind: KindLogSink, Phase: PhaseSetup, Err: err}
}

// Classify tags a transport error from phase as benign teardown or operational.
// A nil err yields nil. An err that is already an *Error is returned unchanged.
func Classify(phase Phase, err error) error {
	if err == nil {
		return nil
	}
	var tagged *Error
	if errors.As(err, &tagged) {
		return err
	}
	kind := KindOperational
	if isBenign(phase, err) {
		kind = KindBenignTeardown
	}
	return &Error{Kind: kind, Phase: phase, Err: err}
}

func isBenign(phase Phase, err error) bool {
	switch {
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, io.ErrUnexpectedEOF):
		return true
	case errors.Is(err, io.EOF):
		// Truncated stream: the peer went away mid-handshake or before close_notify.
		return phase == PhaseHandshake || phase == PhaseShutdown || phase == PhaseWrite
	case errors.Is(err, syscall.ECONNREFUSED):
		return phase == PhaseConnect
	case errors.Is(err, net.ErrClosed), errors.Is(err, context.Canceled):
		return phase == PhaseShutdown
	}
	return false
}

// PhaseOf returns phase, or PhaseShutdown once ctx is done: failures after
// cancellation come from the connection being torn down.
func PhaseOf(ctx context.Context, phase Phase) Phase {
	if ctx.Err() != nil {
		return PhaseShutdown
	}
	return phase
}

// KindOf returns the Kind of err, or KindOperational for untagged errors.
func KindOf(err error) Kind {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	return KindOperational
}

// IsBenignTeardown reports whether err was classified as a benign teardown.
func IsBenignTeardown(err error) bool {
	return err != nil && KindOf(err) == KindBenignTeardown
}

// IsSetup reports whether err is a SetupError.
func IsSetup(err error) bool {
	return err != nil && KindOf(err) == KindSetup
}

// Is reports whether any error in err's chain matches target.
// This is a convenience wrapper around errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
// This is a convenience wrapper around errors.As.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
