package tunnel

import (
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/yamux"

	"holedeck/internal/constants"
)

// Tunnel is the relay's view of one serving endpoint: a websocket carrying a
// yamux session over which the relay opens a stream per connector stream.
type Tunnel struct {
	Key    string
	Secure bool

	conn    *wsConn
	session *yamux.Session

	mu       sync.Mutex
	isClosed bool

	TotalStreams  atomic.Int64
	ActiveStreams atomic.Int64
	Connectors    atomic.Int64
}

// NewTunnel starts the relay side of a serving endpoint's session.
func NewTunnel(key string, ws *websocket.Conn, secure bool) (*Tunnel, error) {
	conn := newWSConn(ws)
	session, err := yamux.Server(conn, yamuxConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create yamux session: %w", err)
	}
	return &Tunnel{
		Key:     key,
		Secure:  secure,
		conn:    conn,
		session: session,
	}, nil
}

// Done is closed once the serving endpoint is gone.
func (t *Tunnel) Done() <-chan struct{} {
	return t.session.CloseChan()
}

// OpenProxyStream opens a stream to the serving endpoint for one connection.
func (t *Tunnel) OpenProxyStream() (net.Conn, error) {
	stream, err := t.session.OpenStream()
	if err != nil {
		return nil, err
	}

	if _, err := stream.Write([]byte{constants.StreamTypeProxy}); err != nil {
		stream.Close()
		return nil, err
	}
	return stream, nil
}

// SendLog delivers a notice to the serving endpoint.
func (t *Tunnel) SendLog(message string) error {
	stream, err := t.session.OpenStream()
	if err != nil {
		return err
	}
	defer stream.Close()

	if _, err := stream.Write(append([]byte{constants.StreamTypeLog}, message...)); err != nil {
		return err
	}
	return nil
}

// Bridge serves one connector: every stream the connector opens is paired
// with a proxy stream to the serving endpoint. It returns when either side
// goes away.
func (t *Tunnel) Bridge(ws *websocket.Conn, remote string) error {
	conn := newWSConn(ws)
	session, err := yamux.Server(conn, yamuxConfig())
	if err != nil {
		ws.Close()
		return fmt.Errorf("failed to create yamux session: %w", err)
	}
	defer session.Close()

	t.Connectors.Add(1)
	defer t.Connectors.Add(-1)

	if err := t.SendLog(fmt.Sprintf("peer connected from %s", remote)); err != nil {
		log.Printf("⚠️  Tunnel %s: notice failed: %v", short(t.Key), err)
	}

	go func() {
		select {
		case <-t.Done():
			session.Close()
		case <-session.CloseChan():
		}
	}()

	for {
		stream, err := session.AcceptStream()
		if err != nil {
			if session.IsClosed() {
				t.SendLog(fmt.Sprintf("peer %s disconnected", remote))
				return nil
			}
			return fmt.Errorf("failed to accept stream: %w", err)
		}
		go t.forward(stream)
	}
}

func (t *Tunnel) forward(stream net.Conn) {
	target, err := t.OpenProxyStream()
	if err != nil {
		stream.Close()
		return
	}

	t.TotalStreams.Add(1)
	t.ActiveStreams.Add(1)
	defer t.ActiveStreams.Add(-1)

	Pipe(stream, target)
}

// Stats returns bytes received from and sent to the serving endpoint.
func (t *Tunnel) Stats() (in, out int64) {
	return t.conn.bytesIn.Load(), t.conn.bytesOut.Load()
}

func (t *Tunnel) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.isClosed {
		return nil
	}
	t.isClosed = true

	t.session.Close()
	return t.conn.Close()
}

func short(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
