package tunnel

import (
	"crypto/tls"
	"io"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/yamux"

	"holedeck/internal/constants"
)

// Upgrader is shared by the relay's websocket endpoints.
var Upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  constants.WSBufferSize,
	WriteBufferSize: constants.WSBufferSize,
}

func yamuxConfig() *yamux.Config {
	config := yamux.DefaultConfig()
	config.MaxStreamWindowSize = constants.YamuxMaxStreamWindowSize
	config.AcceptBacklog = constants.YamuxAcceptBacklog
	config.EnableKeepAlive = constants.YamuxEnableKeepAlive
	config.KeepAliveInterval = constants.YamuxKeepAliveInterval
	config.LogOutput = io.Discard
	return config
}

func newDialer(skipTLSVerify bool) *websocket.Dialer {
	dialer := &websocket.Dialer{
		ReadBufferSize:   constants.WSBufferSize,
		WriteBufferSize:  constants.WSBufferSize,
		HandshakeTimeout: constants.WSHandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	if skipTLSVerify {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return dialer
}
