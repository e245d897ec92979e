package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConnectionLimiter(t *testing.T) {
	cl := NewConnectionLimiter(2)

	assert.True(t, cl.TryConnect("10.0.0.1"))
	assert.True(t, cl.TryConnect("10.0.0.1"))
	assert.False(t, cl.TryConnect("10.0.0.1"))
	assert.True(t, cl.TryConnect("10.0.0.2"))

	cl.Disconnect("10.0.0.1")
	assert.Equal(t, 1, cl.Active("10.0.0.1"))
	assert.True(t, cl.TryConnect("10.0.0.1"))

	cl.Disconnect("10.0.0.9")
	assert.Equal(t, 0, cl.Active("10.0.0.9"))
}

func TestBruteForceProtector(t *testing.T) {
	bf := NewBruteForceProtector(3, time.Minute)
	defer bf.Stop()

	now := time.Now()
	bf.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		assert.True(t, bf.Check("1.2.3.4"))
		bf.RecordFailure("1.2.3.4")
	}
	assert.False(t, bf.Check("1.2.3.4"))
	assert.True(t, bf.Check("5.6.7.8"))

	now = now.Add(2 * time.Minute)
	assert.True(t, bf.Check("1.2.3.4"))

	bf.RecordFailure("1.2.3.4")
	bf.RecordSuccess("1.2.3.4")
	assert.True(t, bf.Check("1.2.3.4"))
}

func TestClientIP(t *testing.T) {
	pr := NewProxyResolver(nil)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "127.0.0.1:5555"
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", pr.ClientIP(r))

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "198.51.100.1:5555"
	r.Header.Set("X-Forwarded-For", "203.0.113.7")
	assert.Equal(t, "198.51.100.1", pr.ClientIP(r))

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "127.0.0.1:5555"
	r.Header.Set("X-Real-Ip", "203.0.113.9")
	assert.Equal(t, "203.0.113.9", pr.ClientIP(r))
}

func TestClientIPCustomProxies(t *testing.T) {
	pr := NewProxyResolver([]string{"198.51.100.0/24", "not-a-cidr"})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "198.51.100.1:5555"
	r.Header.Set("X-Forwarded-For", "203.0.113.7")
	assert.Equal(t, "203.0.113.7", pr.ClientIP(r))

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "127.0.0.1:5555"
	r.Header.Set("X-Forwarded-For", "203.0.113.7")
	assert.Equal(t, "127.0.0.1", pr.ClientIP(r))
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))
}
