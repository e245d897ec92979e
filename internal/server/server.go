package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"holedeck/internal/config"
	"holedeck/internal/constants"
	"holedeck/internal/security"
	"holedeck/internal/session"
	"holedeck/internal/tunnel"
)

// Server is the rendezvous relay. Serving endpoints register a key and hold
// a websocket open; connectors reach them through that key.
type Server struct {
	Store                session.StoreInterface
	Tunnels              map[string]*tunnel.Tunnel
	TunnelMu             sync.RWMutex
	Host                 string
	Port                 string
	RegistrationDuration time.Duration
	ConnLimiter          *security.ConnectionLimiter
	BruteProtector       *security.BruteForceProtector
	Proxies              *security.ProxyResolver

	certFile  string
	keyFile   string
	enableTLS bool

	stop     chan struct{}
	stopOnce sync.Once
}

// NewServer wires a relay around store.
func NewServer(cfg config.Settings, store session.StoreInterface) *Server {
	duration := cfg.RegistrationDuration
	if duration <= 0 {
		duration = constants.RegistrationDuration
	}
	maxConn := cfg.MaxConnectionsPerIP
	if maxConn <= 0 {
		maxConn = constants.MaxConnectionsPerIP
	}

	s := &Server{
		Store:                store,
		Tunnels:              make(map[string]*tunnel.Tunnel),
		Host:                 cfg.PublicHost,
		Port:                 cfg.Port,
		RegistrationDuration: duration,
		ConnLimiter:          security.NewConnectionLimiter(maxConn),
		BruteProtector:       security.NewBruteForceProtector(constants.MaxAuthAttempts, constants.BlockDuration),
		Proxies:              security.NewProxyResolver(cfg.TrustedProxies),
		certFile:             cfg.TLSCert,
		keyFile:              cfg.TLSKey,
		enableTLS:            cfg.EnableTLS,
		stop:                 make(chan struct{}),
	}

	s.Store.OnExpire(func(keyHash string) {
		if s.closeTunnel(keyHash) {
			log.Printf("🗑 Tunnel closed (expired): %s", short(keyHash))
		}
	})
	go s.sweepLoop()

	return s
}

// Handler returns the relay's routes wrapped in its middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+constants.EndpointRegister, s.HandleRegister)
	mux.HandleFunc("DELETE "+constants.EndpointRegister+"/{key}", s.HandleUnregister)
	mux.HandleFunc("GET "+constants.EndpointServe+"{key}", s.HandleServe)
	mux.HandleFunc("GET "+constants.EndpointConnect+"{key}", s.HandleConnect)
	mux.HandleFunc("GET "+constants.EndpointHealth, s.HandleHealth)

	var handler http.Handler = mux
	handler = security.SecurityHeaders(handler)
	handler = RecoveryMiddleware(handler)
	return handler
}

// Run serves until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	handler := s.Handler()

	useTLS := false
	if s.enableTLS {
		if _, err := os.Stat(s.certFile); err == nil {
			if _, err := os.Stat(s.keyFile); err == nil {
				useTLS = true
			}
		}
		if !useTLS {
			log.Printf("Warning: HOLEDECK_ENABLE_TLS is true but certs not found at %s", s.certFile)
		}
	}

	if !useTLS {
		handler = h2c.NewHandler(handler, &http2.Server{})
	}

	server := &http.Server{
		Addr:              ":" + s.Port,
		Handler:           handler,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errc := make(chan error, 1)
	go func() {
		var err error
		if useTLS {
			log.Printf("🔒 HTTPS enabled (HTTP/2)")
			err = server.ListenAndServeTLS(s.certFile, s.keyFile)
		} else {
			log.Printf("🌐 HTTP mode (HTTP/2 enabled)")
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()

	log.Printf("🚀 holedeck relay starting on :%s", s.Port)

	select {
	case err := <-errc:
		s.Cleanup()
		if err != nil {
			return fmt.Errorf("relay server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Println("🛑 Shutting down relay...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.Cleanup()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Relay forced to shutdown: %v", err)
	}
	log.Println("✅ Relay stopped")
	return nil
}

// sweepLoop closes tunnels whose registration vanished from the store, which
// is how Redis TTL expiry reaches this relay.
func (s *Server) sweepLoop() {
	ticker := time.NewTicker(constants.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Server) sweep() {
	s.TunnelMu.RLock()
	hashes := make([]string, 0, len(s.Tunnels))
	for keyHash := range s.Tunnels {
		hashes = append(hashes, keyHash)
	}
	s.TunnelMu.RUnlock()

	for _, keyHash := range hashes {
		if _, ok := s.Store.Get(keyHash); !ok && s.closeTunnel(keyHash) {
			log.Printf("🗑 Tunnel closed (registration gone): %s", short(keyHash))
		}
	}
}

func (s *Server) lookupTunnel(keyHash string) (*tunnel.Tunnel, bool) {
	s.TunnelMu.RLock()
	defer s.TunnelMu.RUnlock()
	t, ok := s.Tunnels[keyHash]
	return t, ok
}

// trackTunnel stores t unless another tunnel already serves the key.
func (s *Server) trackTunnel(keyHash string, t *tunnel.Tunnel) bool {
	s.TunnelMu.Lock()
	defer s.TunnelMu.Unlock()
	if _, ok := s.Tunnels[keyHash]; ok {
		return false
	}
	s.Tunnels[keyHash] = t
	return true
}

func (s *Server) untrackTunnel(keyHash string, t *tunnel.Tunnel) {
	s.TunnelMu.Lock()
	defer s.TunnelMu.Unlock()
	if s.Tunnels[keyHash] == t {
		delete(s.Tunnels, keyHash)
	}
}

func (s *Server) closeTunnel(keyHash string) bool {
	s.TunnelMu.Lock()
	t, ok := s.Tunnels[keyHash]
	delete(s.Tunnels, keyHash)
	s.TunnelMu.Unlock()

	if ok {
		t.Close()
	}
	return ok
}

// Cleanup closes every tunnel and the store.
func (s *Server) Cleanup() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.BruteProtector.Stop()

		s.TunnelMu.Lock()
		for keyHash, t := range s.Tunnels {
			t.Close()
			delete(s.Tunnels, keyHash)
		}
		s.TunnelMu.Unlock()

		s.Store.Close()
	})
}

func short(keyHash string) string {
	if len(keyHash) > 12 {
		return keyHash[:12]
	}
	return keyHash
}
