package tunnel

import (
	"io"
	"net"
	"sync"

	"holedeck/internal/constants"
)

var bufferPool = sync.Pool{
	New: func() interface{} {
		return make([]byte, constants.CopyBufferSize)
	},
}

func GetBuffer() []byte {
	return bufferPool.Get().([]byte)
}

func PutBuffer(buf []byte) {
	if cap(buf) >= constants.CopyBufferSize {
		bufferPool.Put(buf[:constants.CopyBufferSize])
	}
}

// Pipe copies between a and b until either side finishes, then closes both.
// It returns the bytes copied a->b and b->a.
func Pipe(a, b io.ReadWriteCloser) (int64, int64) {
	if tcp, ok := a.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
	}
	if tcp, ok := b.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
	}

	type result struct {
		aToB bool
		n    int64
	}
	done := make(chan result, 2)

	cp := func(dst io.Writer, src io.Reader, aToB bool) {
		buf := GetBuffer()
		defer PutBuffer(buf)
		n, _ := io.CopyBuffer(dst, src, buf)
		done <- result{aToB, n}
	}
	go cp(b, a, true)
	go cp(a, b, false)

	var sent, received int64
	record := func(r result) {
		if r.aToB {
			sent = r.n
		} else {
			received = r.n
		}
	}

	record(<-done)
	a.Close()
	b.Close()
	record(<-done)
	return sent, received
}
