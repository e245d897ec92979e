package utils

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeRelayURL(t *testing.T) {
	u, skip := NormalizeRelayURL("https://localhost:8443/")
	assert.Equal(t, "https://localhost:8443", u)
	assert.True(t, skip)

	u, skip = NormalizeRelayURL("http://relay.example.com")
	assert.Equal(t, "http://relay.example.com", u)
	assert.False(t, skip)
}

func TestWebSocketURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8080/ws/connect/abc",
		WebSocketURL("http://localhost:8080", "/ws/connect/abc", nil))
	assert.Equal(t, "wss://relay.example.com/ws/serve/abc?token=t1",
		WebSocketURL("https://relay.example.com/", "/ws/serve/abc", url.Values{"token": {"t1"}}))
	assert.Equal(t, "ws://relay:9000/x", WebSocketURL("relay:9000", "/x", nil))
}

func TestConstructURL(t *testing.T) {
	assert.Equal(t, "http://relay.example.com/", ConstructURL("http", "relay.example.com:80", "/"))
	assert.Equal(t, "https://relay.example.com:8443/", ConstructURL("https", "relay.example.com:8443", ""))
}
