package server

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"holedeck/internal/constants"
	"holedeck/internal/session"
	"holedeck/internal/tunnel"
	"holedeck/internal/types"
	"holedeck/internal/utils"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.ErrorResponse{Error: msg})
}

func (s *Server) HandleRegister(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxConfigBodySize)

	var req types.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, constants.MsgInvalidJSON)
		return
	}

	key := strings.TrimSpace(req.Key)
	if key == "" {
		generated, err := utils.GenerateKey()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to generate key")
			return
		}
		key = generated
	} else if err := utils.ValidateKey(key); err != nil {
		writeError(w, http.StatusBadRequest, constants.MsgInvalidKey+": "+err.Error())
		return
	}

	token := uuid.New().String()
	reg := session.NewRegistration(key, token, req.Secure, s.RegistrationDuration)

	ok, err := s.Store.Claim(reg)
	if err != nil {
		log.Printf("❌ Register: store error: %v", err)
		writeError(w, http.StatusServiceUnavailable, "registration store unavailable")
		return
	}
	if !ok {
		writeError(w, http.StatusConflict, constants.MsgKeyInUse)
		return
	}

	host := r.Host
	if s.Host != "" {
		host = s.Host
		if s.Port != "" {
			host = net.JoinHostPort(s.Host, s.Port)
		}
	}

	log.Printf("🔔 Register: tunnel %s reserved (secure: %v)", short(reg.KeyHash), req.Secure)
	writeJSON(w, http.StatusOK, types.RegisterResponse{
		Key:       key,
		URL:       utils.ConstructURL(utils.GetScheme(r), host, constants.EndpointConnect+key),
		Token:     token,
		Secure:    req.Secure,
		ExpiresIn: s.RegistrationDuration,
	})
}

// HandleUnregister drops a reservation that never got served, so the key
// can be claimed again right away.
func (s *Server) HandleUnregister(w http.ResponseWriter, r *http.Request) {
	clientIP := s.Proxies.ClientIP(r)

	if !s.BruteProtector.Check(clientIP) {
		http.Error(w, "Too many failed attempts. Try again later.", http.StatusTooManyRequests)
		return
	}

	key := r.PathValue("key")
	if utils.ValidateKey(key) != nil {
		http.Error(w, constants.MsgInvalidKey, http.StatusBadRequest)
		return
	}
	keyHash := utils.HashSHA256(key)

	reg, ok := s.Store.Get(keyHash)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" || !reg.VerifyToken(token) {
		s.BruteProtector.RecordFailure(clientIP)
		http.Error(w, constants.MsgUnauthorized, http.StatusUnauthorized)
		return
	}
	s.BruteProtector.RecordSuccess(clientIP)

	if _, busy := s.lookupTunnel(keyHash); busy {
		http.Error(w, constants.MsgKeyInUse, http.StatusConflict)
		return
	}

	s.Store.Delete(keyHash)
	log.Printf("🗑 Register: reservation %s released", short(keyHash))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) HandleServe(w http.ResponseWriter, r *http.Request) {
	clientIP := s.Proxies.ClientIP(r)

	if !s.BruteProtector.Check(clientIP) {
		http.Error(w, "Too many failed attempts. Try again later.", http.StatusTooManyRequests)
		return
	}

	if !s.ConnLimiter.TryConnect(clientIP) {
		http.Error(w, constants.MsgConnLimit, http.StatusTooManyRequests)
		return
	}
	defer s.ConnLimiter.Disconnect(clientIP)

	key := r.PathValue("key")
	if utils.ValidateKey(key) != nil {
		http.Error(w, constants.MsgInvalidKey, http.StatusBadRequest)
		return
	}
	keyHash := utils.HashSHA256(key)

	reg, ok := s.Store.Get(keyHash)
	if !ok {
		http.Error(w, constants.MsgTunnelNotFound, http.StatusNotFound)
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" || !reg.VerifyToken(token) {
		s.BruteProtector.RecordFailure(clientIP)
		http.Error(w, constants.MsgUnauthorized, http.StatusUnauthorized)
		return
	}
	s.BruteProtector.RecordSuccess(clientIP)

	if _, busy := s.lookupTunnel(keyHash); busy {
		http.Error(w, constants.MsgKeyInUse, http.StatusConflict)
		return
	}

	conn, err := tunnel.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("❌ WebSocket upgrade error: %v", err)
		return
	}
	conn.SetReadLimit(int64(constants.MaxWSMessageSize))

	t, err := tunnel.NewTunnel(key, conn, reg.Secure)
	if err != nil {
		log.Printf("❌ Tunnel setup failed: %v", err)
		conn.Close()
		return
	}
	if !s.trackTunnel(keyHash, t) {
		t.Close()
		return
	}

	log.Printf("🔌 Tunnel serving: %s from %s", short(keyHash), clientIP)
	<-t.Done()

	t.Close()
	s.untrackTunnel(keyHash, t)
	s.Store.Delete(keyHash)

	in, out := t.Stats()
	log.Printf("🔌 Tunnel disconnected: %s (%d streams, %d bytes in, %d bytes out)", short(keyHash), t.TotalStreams.Load(), in, out)
}

func (s *Server) HandleConnect(w http.ResponseWriter, r *http.Request) {
	clientIP := s.Proxies.ClientIP(r)

	if !s.ConnLimiter.TryConnect(clientIP) {
		http.Error(w, constants.MsgConnLimit, http.StatusTooManyRequests)
		return
	}
	defer s.ConnLimiter.Disconnect(clientIP)

	key := r.PathValue("key")
	if utils.ValidateKey(key) != nil {
		http.Error(w, constants.MsgInvalidKey, http.StatusBadRequest)
		return
	}
	keyHash := utils.HashSHA256(key)

	if _, ok := s.Store.Get(keyHash); !ok {
		http.Error(w, constants.MsgTunnelNotFound, http.StatusNotFound)
		return
	}
	t, ok := s.lookupTunnel(keyHash)
	if !ok {
		http.Error(w, constants.MsgTunnelNotFound, http.StatusNotFound)
		return
	}

	secure := "0"
	if t.Secure {
		secure = "1"
	}
	header := http.Header{}
	header.Set(constants.HeaderSecureTunnel, secure)

	conn, err := tunnel.Upgrader.Upgrade(w, r, header)
	if err != nil {
		log.Printf("❌ WebSocket upgrade error: %v", err)
		return
	}
	conn.SetReadLimit(int64(constants.MaxWSMessageSize))

	log.Printf("🔗 Connector %s attached to %s", clientIP, short(keyHash))
	if err := t.Bridge(conn, clientIP); err != nil {
		log.Printf("Bridge error: %v", err)
	}
	log.Printf("🔗 Connector %s detached from %s", clientIP, short(keyHash))
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.TunnelMu.RLock()
	n := len(s.Tunnels)
	s.TunnelMu.RUnlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"tunnels": n,
		"version": constants.Version,
	})
}
