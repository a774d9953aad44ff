package server

import (
	"crypto/tls"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pzverkov/pqtls-bench/pkg/httpwire"
	"github.com/pzverkov/pqtls-bench/pkg/policy"
)

func TestPeerLimiter(t *testing.T) {
	l := newPeerLimiter(2)
	ip, other := "192.0.2.1", "192.0.2.2"

	assert.True(t, l.allow(ip))
	assert.True(t, l.allow(ip))
	assert.False(t, l.allow(ip), "third session from one peer is over the cap")
	assert.True(t, l.allow(other), "caps are per peer")
	assert.Equal(t, 2, l.active(ip))

	l.release(ip)
	assert.True(t, l.allow(ip), "a released slot is reusable")

	l.release(other)
	l.release(other)
	assert.Zero(t, l.active(other), "extra releases never go negative")
	assert.NotContains(t, l.sessions, other, "idle peers are dropped from the map")

	var unbounded *peerLimiter
	for i := 0; i < 100; i++ {
		assert.True(t, unbounded.allow(ip))
	}
	unbounded.release(ip)

	zero := newPeerLimiter(0)
	for i := 0; i < 100; i++ {
		assert.True(t, zero.allow(ip))
	}
}

func TestPeerIP(t *testing.T) {
	assert.Equal(t, "127.0.0.1", peerIP(&net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 4433}))
	assert.Equal(t, "::1", peerIP(&net.TCPAddr{IP: net.IPv6loopback, Port: 4433}))
	assert.Equal(t, "pipe", peerIP(pipeAddr{}))
}

type pipeAddr struct{}

func (pipeAddr) Network() string { return "pipe" }
func (pipeAddr) String() string  { return "pipe" }

func TestListenerMaxSessionsPerPeer(t *testing.T) {
	ts := startServer(t, Options{MaxSessionsPerPeer: 1})

	first := ts.dial(t)
	firstReader := httpwire.NewReader(first)
	exchange(t, first, firstReader, 8, true)

	// Over the cap the server closes before answering the ClientHello.
	second, err := tls.Dial("tcp", ts.listener.Addr().String(), policy.Default().ClientTLSConfig(""))
	if err == nil {
		_ = second.Close()
	}
	require.Error(t, err)

	exchange(t, first, firstReader, 8, false)
	eventually(t, func() bool { return ts.listener.peers.active("127.0.0.1") == 0 }, "closed session should release its slot")

	third := ts.dial(t)
	exchange(t, third, httpwire.NewReader(third), 8, false)
	eventually(t, func() bool { return ts.records.Len() == 3 }, "admitted sessions record every cycle")
}
