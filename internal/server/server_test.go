package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"holedeck/internal/config"
	"holedeck/internal/constants"
	"holedeck/internal/engine"
	"holedeck/internal/lifecycle"
	"holedeck/internal/session"
	"holedeck/internal/tunnel"
	"holedeck/internal/types"
	"holedeck/internal/utils"
)

func newRelay(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	srv := NewServer(config.Settings{RegistrationDuration: time.Hour}, session.NewMemoryStore())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.Cleanup()
		ts.Close()
	})
	return srv, ts
}

func echoServer(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				io.Copy(c, c)
			}()
		}
	}()
	return l.Addr().(*net.TCPAddr).Port
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func roundTrip(t *testing.T, addr, msg string) string {
	t.Helper()
	c, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer c.Close()
	c.SetDeadline(time.Now().Add(5 * time.Second))

	_, err = c.Write([]byte(msg))
	require.NoError(t, err)
	buf := make([]byte, len(msg))
	_, err = io.ReadFull(c, buf)
	require.NoError(t, err)
	return string(buf)
}

func TestTunnelEndToEnd(t *testing.T) {
	for _, secure := range []bool{false, true} {
		name := "plain"
		if secure {
			name = "secure"
		}
		t.Run(name, func(t *testing.T) {
			_, ts := newRelay(t)
			echoPort := echoServer(t)
			m := lifecycle.NewManager(tunnel.NewFactory(ts.URL, false), lifecycle.WithReadyTimeout(10*time.Second))
			ctx := context.Background()
			defer m.Close(ctx)

			served, err := m.Start(ctx, "s1", engine.ModeServer, lifecycle.RawConfig{
				Port:   strconv.Itoa(echoPort),
				Host:   "127.0.0.1",
				Secure: secure,
			})
			require.NoError(t, err)
			assert.Contains(t, served.URL, constants.KeyScheme)
			assert.Equal(t, secure, served.Secure)

			localPort := freePort(t)
			connected, err := m.Start(ctx, "c1", engine.ModeClient, lifecycle.RawConfig{
				Port:             strconv.Itoa(localPort),
				Host:             "127.0.0.1",
				ConnectionString: served.URL,
			})
			require.NoError(t, err)
			assert.Equal(t, served.Key, connected.Key)
			assert.Equal(t, secure, connected.Secure)

			addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(localPort))
			assert.Equal(t, "hello through the relay", roundTrip(t, addr, "hello through the relay"))
			assert.Equal(t, "second connection", roundTrip(t, addr, "second connection"))

			assert.Equal(t, lifecycle.Stopped, m.Stop(ctx, "c1"))
			assert.Equal(t, lifecycle.Stopped, m.Stop(ctx, "s1"))
			assert.Equal(t, lifecycle.NotFound, m.Stop(ctx, "s1"))
		})
	}
}

func TestConnectUnknownKeyIsPeerUnreachable(t *testing.T) {
	_, ts := newRelay(t)
	m := lifecycle.NewManager(tunnel.NewFactory(ts.URL, false))
	defer m.Close(context.Background())

	_, err := m.Start(context.Background(), "c1", engine.ModeClient, lifecycle.RawConfig{
		Port:             strconv.Itoa(freePort(t)),
		ConnectionString: "hs://xyz",
	})
	var startErr *lifecycle.EngineStartError
	require.ErrorAs(t, err, &startErr)
	assert.EqualError(t, err, "peer unreachable")
	assert.Empty(t, m.Sessions())
}

func TestCustomKeyConflict(t *testing.T) {
	_, ts := newRelay(t)
	echoPort := strconv.Itoa(echoServer(t))
	m := lifecycle.NewManager(tunnel.NewFactory(ts.URL, false))
	ctx := context.Background()
	defer m.Close(ctx)

	info, err := m.Start(ctx, "a", engine.ModeServer, lifecycle.RawConfig{Port: echoPort, CustomKey: " shared-key "})
	require.NoError(t, err)
	assert.Equal(t, "hs://shared-key", info.URL)

	_, err = m.Start(ctx, "b", engine.ModeServer, lifecycle.RawConfig{Port: echoPort, CustomKey: "shared-key"})
	assert.EqualError(t, err, constants.MsgKeyInUse)

	require.Equal(t, lifecycle.Stopped, m.Stop(ctx, "a"))
	assert.Eventually(t, func() bool {
		_, err := m.Start(ctx, "b", engine.ModeServer, lifecycle.RawConfig{Port: echoPort, CustomKey: "shared-key"})
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)
}

func TestFailedServeReleasesReservation(t *testing.T) {
	srv := NewServer(config.Settings{RegistrationDuration: time.Hour}, session.NewMemoryStore())
	var rejected atomic.Bool
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, constants.EndpointServe) && rejected.CompareAndSwap(false, true) {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		srv.Handler().ServeHTTP(w, r)
	}))
	t.Cleanup(func() {
		srv.Cleanup()
		ts.Close()
	})

	m := lifecycle.NewManager(tunnel.NewFactory(ts.URL, false))
	ctx := context.Background()
	defer m.Close(ctx)
	raw := lifecycle.RawConfig{Port: strconv.Itoa(echoServer(t)), CustomKey: "deck"}

	_, err := m.Start(ctx, "s1", engine.ModeServer, raw)
	require.EqualError(t, err, "relay returned 503")
	_, ok := srv.Store.Get(utils.HashSHA256("deck"))
	assert.False(t, ok)

	info, err := m.Start(ctx, "s1", engine.ModeServer, raw)
	require.NoError(t, err)
	assert.Equal(t, "hs://deck", info.URL)
}

func unregister(t *testing.T, h http.Handler, key, token string) int {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodDelete, constants.EndpointRegister+"/"+key+"?token="+token, nil)
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestHandleUnregister(t *testing.T) {
	srv, _ := newRelay(t)
	h := srv.Handler()

	rec := postRegister(t, h, `{"key":"k1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp types.RegisterResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))

	assert.Equal(t, http.StatusUnauthorized, unregister(t, h, "k1", "wrong"))
	_, ok := srv.Store.Get(utils.HashSHA256("k1"))
	assert.True(t, ok)

	assert.Equal(t, http.StatusNoContent, unregister(t, h, "k1", resp.Token))
	_, ok = srv.Store.Get(utils.HashSHA256("k1"))
	assert.False(t, ok)
	assert.Equal(t, http.StatusNoContent, unregister(t, h, "k1", resp.Token))

	assert.Equal(t, http.StatusOK, postRegister(t, h, `{"key":"k1"}`).Code)
}

func TestRelayLossFailsSessions(t *testing.T) {
	srv, ts := newRelay(t)
	m := lifecycle.NewManager(tunnel.NewFactory(ts.URL, false))
	ctx := context.Background()
	defer m.Close(ctx)

	served, err := m.Start(ctx, "s1", engine.ModeServer, lifecycle.RawConfig{Port: strconv.Itoa(echoServer(t))})
	require.NoError(t, err)
	_, err = m.Start(ctx, "c1", engine.ModeClient, lifecycle.RawConfig{
		Port:             strconv.Itoa(freePort(t)),
		Host:             "127.0.0.1",
		ConnectionString: served.Key,
	})
	require.NoError(t, err)

	require.True(t, srv.closeTunnel(utils.HashSHA256(served.Key)))

	assert.Eventually(t, func() bool {
		return len(m.Sessions()) == 0
	}, 5*time.Second, 20*time.Millisecond)
}

func postRegister(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, constants.EndpointRegister, bytes.NewBufferString(body))
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleRegister(t *testing.T) {
	srv, _ := newRelay(t)
	h := srv.Handler()

	rec := postRegister(t, h, `{"secure":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp types.RegisterResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Len(t, resp.Key, constants.GeneratedKeyLen*2)
	assert.True(t, resp.Secure)
	assert.NotEmpty(t, resp.Token)
	assert.Contains(t, resp.URL, constants.EndpointConnect+resp.Key)

	reg, ok := srv.Store.Get(utils.HashSHA256(resp.Key))
	require.True(t, ok)
	assert.True(t, reg.VerifyToken(resp.Token))

	rec = postRegister(t, h, `{"key":"mine"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = postRegister(t, h, `{"key":"mine"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = postRegister(t, h, `{"key":"not valid"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postRegister(t, h, `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestHandleServeRejectsBadToken(t *testing.T) {
	srv, ts := newRelay(t)

	rec := postRegister(t, srv.Handler(), `{"key":"k1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	resp, err := http.Get(ts.URL + constants.EndpointServe + "k1?token=wrong")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(ts.URL + constants.EndpointServe + "unknown?token=x")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleHealth(t *testing.T) {
	_, ts := newRelay(t)

	resp, err := http.Get(ts.URL + constants.EndpointHealth)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(0), body["tunnels"])
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
