package tunnel

import (
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// wsConn adapts a websocket to net.Conn so yamux can run over it.
type wsConn struct {
	conn   *websocket.Conn
	reader io.Reader
	mu     sync.Mutex

	bytesIn  atomic.Int64
	bytesOut atomic.Int64
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

func (w *wsConn) Read(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		if w.reader == nil {
			_, w.reader, err = w.conn.NextReader()
			if err != nil {
				return 0, err
			}
		}

		n, err = w.reader.Read(p)
		if err == io.EOF {
			w.reader = nil
			err = nil
			if n == 0 {
				continue
			}
		}
		w.bytesIn.Add(int64(n))
		return n, err
	}
}

func (w *wsConn) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	w.bytesOut.Add(int64(len(p)))
	return len(p), nil
}

func (w *wsConn) Close() error                       { return w.conn.Close() }
func (w *wsConn) LocalAddr() net.Addr                { return w.conn.LocalAddr() }
func (w *wsConn) RemoteAddr() net.Addr               { return w.conn.RemoteAddr() }
func (w *wsConn) SetDeadline(t time.Time) error      { return nil }
func (w *wsConn) SetReadDeadline(t time.Time) error  { return w.conn.SetReadDeadline(t) }
func (w *wsConn) SetWriteDeadline(t time.Time) error { return w.conn.SetWriteDeadline(t) }
