package utils

import (
	"net/url"
	"strings"
)

// NormalizeRelayURL trims trailing slash and determines if TLS verification should be skipped
func NormalizeRelayURL(relayURL string) (string, bool) {
	relayURL = strings.TrimSuffix(strings.TrimSpace(relayURL), "/")
	useHTTPS := strings.HasPrefix(relayURL, "https://")
	skipTLSVerify := useHTTPS && (strings.Contains(relayURL, "localhost") ||
		strings.Contains(relayURL, "127.0.0.1"))
	return relayURL, skipTLSVerify
}

// WebSocketURL rewrites an http(s) relay URL into a ws(s) URL for path
func WebSocketURL(relayURL, path string, query url.Values) string {
	wsURL := relayURL
	switch {
	case strings.HasPrefix(wsURL, "https://"):
		wsURL = "wss://" + strings.TrimPrefix(wsURL, "https://")
	case strings.HasPrefix(wsURL, "http://"):
		wsURL = "ws://" + strings.TrimPrefix(wsURL, "http://")
	case strings.HasPrefix(wsURL, "ws://"), strings.HasPrefix(wsURL, "wss://"):
	default:
		wsURL = "ws://" + wsURL
	}

	wsURL = strings.TrimSuffix(wsURL, "/") + path
	if len(query) > 0 {
		wsURL += "?" + query.Encode()
	}
	return wsURL
}
