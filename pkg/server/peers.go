package server

import (
	"net"
	"sync"
)

// peerLimiter caps concurrent sessions per remote IP.
type peerLimiter struct {
	mu       sync.Mutex
	sessions map[string]int
	max      int
}

func newPeerLimiter(max int) *peerLimiter {
	return &peerLimiter{
		sessions: make(map[string]int),
		max:      max,
	}
}

// allow admits one more session from ip, counting it when admitted.
func (l *peerLimiter) allow(ip string) bool {
	if l == nil || l.max <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sessions[ip] >= l.max {
		return false
	}
	l.sessions[ip]++
	return true
}

// release ends one admitted session from ip.
func (l *peerLimiter) release(ip string) {
	if l == nil || l.max <= 0 {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sessions[ip] > 0 {
		l.sessions[ip]--
		if l.sessions[ip] == 0 {
			delete(l.sessions, ip)
		}
	}
}

// active returns the number of admitted sessions from ip.
func (l *peerLimiter) active(ip string) int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sessions[ip]
}

// peerIP strips the port from a remote address.
func peerIP(addr net.Addr) string {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
