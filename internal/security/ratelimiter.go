package security

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ConnectionLimiter caps concurrent websocket connections per client IP.
type ConnectionLimiter struct {
	mu          sync.Mutex
	connections map[string]int
	maxConn     int
}

func NewConnectionLimiter(maxConn int) *ConnectionLimiter {
	return &ConnectionLimiter{
		connections: make(map[string]int),
		maxConn:     maxConn,
	}
}

func (cl *ConnectionLimiter) TryConnect(ip string) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.maxConn > 0 && cl.connections[ip] >= cl.maxConn {
		return false
	}
	cl.connections[ip]++
	return true
}

func (cl *ConnectionLimiter) Disconnect(ip string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	if cl.connections[ip] > 0 {
		cl.connections[ip]--
		if cl.connections[ip] == 0 {
			delete(cl.connections, ip)
		}
	}
}

// Active returns the number of open connections from ip.
func (cl *ConnectionLimiter) Active(ip string) int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.connections[ip]
}

// DefaultTrustedProxies are the networks whose forwarding headers are
// believed when no list is configured.
var DefaultTrustedProxies = []string{"127.0.0.0/8", "::1/128", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"}

// ProxyResolver finds the client address behind trusted reverse proxies.
type ProxyResolver struct {
	trusted []*net.IPNet
}

// NewProxyResolver parses cidrs, skipping malformed entries. An empty list
// means DefaultTrustedProxies.
func NewProxyResolver(cidrs []string) *ProxyResolver {
	if len(cidrs) == 0 {
		cidrs = DefaultTrustedProxies
	}
	pr := &ProxyResolver{}
	for _, cidr := range cidrs {
		if _, network, err := net.ParseCIDR(strings.TrimSpace(cidr)); err == nil {
			pr.trusted = append(pr.trusted, network)
		}
	}
	return pr
}

func (pr *ProxyResolver) isTrusted(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, network := range pr.trusted {
		if network.Contains(parsed) {
			return true
		}
	}
	return false
}

// ClientIP returns the peer address of r, or the forwarded client address
// when the peer is a trusted proxy.
func (pr *ProxyResolver) ClientIP(r *http.Request) string {
	peer, _, _ := net.SplitHostPort(r.RemoteAddr)
	if peer == "" {
		peer = r.RemoteAddr
	}
	if !pr.isTrusted(peer) {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); net.ParseIP(ip) != nil {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-Ip")); net.ParseIP(xri) != nil {
		return xri
	}
	return peer
}

// BruteForceProtector blocks an IP after too many failed token checks.
type BruteForceProtector struct {
	mu            sync.Mutex
	attempts      map[string]*ipAttempts
	maxAttempts   int
	blockDuration time.Duration
	now           func() time.Time
	stop          chan struct{}
	stopOnce      sync.Once
}

type ipAttempts struct {
	count     int
	blockedAt time.Time
}

func NewBruteForceProtector(maxAttempts int, blockDuration time.Duration) *BruteForceProtector {
	bf := &BruteForceProtector{
		attempts:      make(map[string]*ipAttempts),
		maxAttempts:   maxAttempts,
		blockDuration: blockDuration,
		now:           time.Now,
		stop:          make(chan struct{}),
	}
	go bf.cleanup()
	return bf
}

// Check reports whether ip may try again.
func (bf *BruteForceProtector) Check(ip string) bool {
	bf.mu.Lock()
	defer bf.mu.Unlock()

	attempts, exists := bf.attempts[ip]
	if !exists {
		return true
	}

	if !attempts.blockedAt.IsZero() {
		if bf.now().Sub(attempts.blockedAt) < bf.blockDuration {
			return false
		}
		delete(bf.attempts, ip)
		return true
	}

	return attempts.count < bf.maxAttempts
}

func (bf *BruteForceProtector) RecordFailure(ip string) {
	bf.mu.Lock()
	defer bf.mu.Unlock()

	attempts, exists := bf.attempts[ip]
	if !exists {
		attempts = &ipAttempts{}
		bf.attempts[ip] = attempts
	}

	attempts.count++
	if attempts.count >= bf.maxAttempts {
		attempts.blockedAt = bf.now()
	}
}

func (bf *BruteForceProtector) RecordSuccess(ip string) {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	delete(bf.attempts, ip)
}

// Stop ends the background cleanup.
func (bf *BruteForceProtector) Stop() {
	bf.stopOnce.Do(func() { close(bf.stop) })
}

func (bf *BruteForceProtector) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			bf.mu.Lock()
			for ip, attempts := range bf.attempts {
				if !attempts.blockedAt.IsZero() && bf.now().Sub(attempts.blockedAt) > bf.blockDuration {
					delete(bf.attempts, ip)
				}
			}
			bf.mu.Unlock()
		case <-bf.stop:
			return
		}
	}
}
