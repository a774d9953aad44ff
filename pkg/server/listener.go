// Package server implements the benchmark listener: an accept loop that
// hands every connection to its own Session, which performs the TLS
// handshake, echoes HTTP/1.1 requests and records one latency line per
// completed cycle.
//
// By default fan-out is unbounded and sessions run without timeouts. Options
// can bound concurrent sessions and pace handshakes.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/pzverkov/pqtls-bench/internal/constants"
	qerrors "github.com/pzverkov/pqtls-bench/internal/errors"
	"github.com/pzverkov/pqtls-bench/pkg/credentials"
	"github.com/pzverkov/pqtls-bench/pkg/latency"
	"github.com/pzverkov/pqtls-bench/pkg/metrics"
	"github.com/pzverkov/pqtls-bench/pkg/policy"
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Options configures a Listener. The zero value (plus a Recorder) gives the
// default behaviour: compiled-in policy, all interfaces, no admission limits.
type Options struct {
	// Host to bind. Empty means constants.DefaultServerHost.
	Host string

	// Policy applied to every session. Nil means policy.Default().
	Policy *policy.Policy

	// Recorder receives one record per completed cycle.
	Recorder latency.Recorder

	Logger    *metrics.Logger
	Collector *metrics.Collector
	Tracer    metrics.Tracer

	// MaxSessions bounds concurrent sessions; the accept loop waits for a
	// free slot before accepting. 0 means unbounded.
	MaxSessions int64

	// HandshakeRate paces handshakes per second across all sessions.
	// 0 means unlimited.
	HandshakeRate float64

	// HandshakeBurst is the limiter bucket size. Defaults to 1 when
	// HandshakeRate is set.
	HandshakeBurst int

	// MaxSessionsPerPeer bounds concurrent sessions from one remote IP.
	// Connections over the cap are closed before the handshake. 0 means
	// unbounded.
	MaxSessionsPerPeer int
}

// Listener owns the listening socket and the server TLS configuration.
type Listener struct {
	ln        net.Listener
	tlsConfig *tls.Config
	recorder  latency.Recorder
	logger    *metrics.Logger
	base      *metrics.Logger
	collector *metrics.Collector
	tracer    metrics.Tracer
	observer  *metrics.Observer

	sem     *semaphore.Weighted
	limiter *rate.Limiter
	peers   *peerLimiter

	sessions sync.WaitGroup
	running  atomic.Bool
	closed   atomic.Bool
}

// Create loads the credential pair and binds port on all interfaces.
func Create(port int, certFile, keyFile string, opts Options) (*Listener, error) {
	if port < 1 || port > 65535 {
		return nil, qerrors.Setup(qerrors.PhaseSetup, fmt.Errorf("%w: %d", qerrors.ErrInvalidPort, port))
	}
	cert, err := credentials.Load(certFile, keyFile)
	if err != nil {
		return nil, err
	}
	return New(port, cert, opts)
}

// New binds port with an already loaded certificate. Port 0 picks an
// ephemeral port.
func New(port int, cert tls.Certificate, opts Options) (*Listener, error) {
	if port < 0 || port > 65535 {
		return nil, qerrors.Setup(qerrors.PhaseSetup, fmt.Errorf("%w: %d", qerrors.ErrInvalidPort, port))
	}
	if opts.Recorder == nil {
		return nil, qerrors.Setup(qerrors.PhaseSetup, errors.New("server: nil latency recorder"))
	}
	if opts.Policy == nil {
		opts.Policy = policy.Default()
	}
	if opts.Host == "" {
		opts.Host = constants.DefaultServerHost
	}
	if opts.Logger == nil {
		opts.Logger = metrics.GetLogger()
	}
	if opts.Collector == nil {
		opts.Collector = metrics.Global()
	}
	if opts.Tracer == nil {
		opts.Tracer = metrics.GetTracer()
	}

	tlsConfig, err := opts.Policy.ServerTLSConfig(cert)
	if err != nil {
		return nil, err
	}

	lc := net.ListenConfig{Control: control}
	ln, err := lc.Listen(context.Background(), "tcp", net.JoinHostPort(opts.Host, strconv.Itoa(port)))
	if err != nil {
		return nil, qerrors.Setup(qerrors.PhaseSetup, fmt.Errorf("server: listen: %w", err))
	}

	l := &Listener{
		ln:        ln,
		tlsConfig: tlsConfig,
		recorder:  opts.Recorder,
		logger:    opts.Logger.Named("server"),
		base:      opts.Logger,
		collector: opts.Collector,
		tracer:    opts.Tracer,
		observer: metrics.NewObserver(metrics.ObserverConfig{
			Collector: opts.Collector,
			Tracer:    opts.Tracer,
			Logger:    opts.Logger,
			Role:      metrics.RoleServer,
		}),
	}
	if opts.MaxSessions > 0 {
		l.sem = semaphore.NewWeighted(opts.MaxSessions)
	}
	if opts.HandshakeRate > 0 {
		burst := opts.HandshakeBurst
		if burst < 1 {
			burst = 1
		}
		l.limiter = rate.NewLimiter(rate.Limit(opts.HandshakeRate), burst)
	}
	if opts.MaxSessionsPerPeer > 0 {
		l.peers = newPeerLimiter(opts.MaxSessionsPerPeer)
	}
	return l, nil
}

// Run accepts connections until ctx is cancelled or the listener is closed.
// Each connection runs in its own goroutine, independently of the loop and
// of every other session. Accept errors are logged and the loop continues.
// After the loop stops Run waits for the sessions it spawned, which are
// unblocked by the same cancellation.
func (l *Listener) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = l.ln.Close() })
	defer stop()

	l.running.Store(true)
	defer l.running.Store(false)
	l.logger.Info("listening", metrics.Fields{"addr": l.Addr().String()})

	var delay time.Duration
	for {
		if l.sem != nil {
			if err := l.sem.Acquire(ctx, 1); err != nil {
				break
			}
		}

		conn, err := l.ln.Accept()
		if err != nil {
			l.release()
			if ctx.Err() != nil || l.closed.Load() || errors.Is(err, net.ErrClosed) {
				break
			}
			l.observer.OnAcceptError(err)

			delay = nextBackoff(delay)
			select {
			case <-ctx.Done():
			case <-time.After(delay):
			}
			continue
		}
		delay = 0

		l.sessions.Add(1)
		go l.serve(ctx, conn)
	}

	l.sessions.Wait()
	if ctx.Err() != nil {
		l.logger.Info("listener stopped", metrics.Fields{"reason": ctx.Err()})
		return nil
	}
	return qerrors.ErrListenerClosed
}

func (l *Listener) serve(ctx context.Context, conn net.Conn) {
	defer l.sessions.Done()
	defer l.release()

	ip := peerIP(conn.RemoteAddr())
	if !l.peers.allow(ip) {
		l.logger.Debug("session rejected", metrics.Fields{"remote": conn.RemoteAddr().String(), "reason": "per-peer limit"})
		_ = conn.Close()
		return
	}
	defer l.peers.release(ip)

	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			_ = conn.Close()
			return
		}
	}

	observer := metrics.NewObserver(metrics.ObserverConfig{
		Collector: l.collector,
		Tracer:    l.tracer,
		Logger:    l.base,
		SessionID: uuid.NewString(),
		Role:      metrics.RoleServer,
		Remote:    conn.RemoteAddr().String(),
	})
	NewSession(tls.Server(conn, l.tlsConfig), l.recorder, observer).Run(ctx)
}

func (l *Listener) release() {
	if l.sem != nil {
		l.sem.Release(1)
	}
}

// nextBackoff doubles the accept retry delay up to maxAcceptBackoff.
func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return minAcceptBackoff
	}
	d *= 2
	if d > maxAcceptBackoff {
		d = maxAcceptBackoff
	}
	return d
}

// Addr returns the listener's network address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Running reports whether Run is accepting connections.
func (l *Listener) Running() bool {
	return l.running.Load()
}

// Close closes the listening socket. Sessions already running are not
// affected; cancel the context passed to Run to stop them.
func (l *Listener) Close() error {
	l.closed.Store(true)
	return l.ln.Close()
}
