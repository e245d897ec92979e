package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
)

// MaxFrameSize bounds a single sealed frame on the wire.
const MaxFrameSize = 1 << 20

// SecureConn wraps a net.Conn with XChaCha20-Poly1305 framing. Each
// direction uses its own key.
type SecureConn struct {
	net.Conn
	seal    cipher.AEAD
	open    cipher.AEAD
	wmu     sync.Mutex
	readBuf []byte
}

// NewSecureConn builds a SecureConn from the keys produced by Handshake.
func NewSecureConn(conn net.Conn, keys SessionKeys) (*SecureConn, error) {
	seal, err := chacha20poly1305.NewX(keys.Send)
	if err != nil {
		return nil, err
	}
	open, err := chacha20poly1305.NewX(keys.Recv)
	if err != nil {
		return nil, err
	}
	return &SecureConn{
		Conn: conn,
		seal: seal,
		open: open,
	}, nil
}

// Write seals p into one or more frames of nonce + ciphertext, each prefixed
// with its big-endian length.
func (s *SecureConn) Write(p []byte) (int, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	maxPlain := MaxFrameSize - s.seal.NonceSize() - s.seal.Overhead()
	written := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > maxPlain {
			chunk = chunk[:maxPlain]
		}

		frame := make([]byte, 4+s.seal.NonceSize(), 4+s.seal.NonceSize()+len(chunk)+s.seal.Overhead())
		nonce := frame[4:]
		if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
			return written, err
		}
		frame = s.seal.Seal(frame, nonce, chunk, nil)
		binary.BigEndian.PutUint32(frame[:4], uint32(len(frame)-4))

		if _, err := s.Conn.Write(frame); err != nil {
			return written, err
		}
		written += len(chunk)
		p = p[len(chunk):]
	}
	return written, nil
}

func (s *SecureConn) Read(p []byte) (int, error) {
	if len(s.readBuf) > 0 {
		n := copy(p, s.readBuf)
		s.readBuf = s.readBuf[n:]
		return n, nil
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(s.Conn, lenBuf[:]); err != nil {
		return 0, err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > MaxFrameSize || int(length) < s.open.NonceSize()+s.open.Overhead() {
		return 0, fmt.Errorf("invalid frame length %d", length)
	}

	frame := make([]byte, length)
	if _, err := io.ReadFull(s.Conn, frame); err != nil {
		return 0, err
	}

	nonce, sealed := frame[:s.open.NonceSize()], frame[s.open.NonceSize():]
	plain, err := s.open.Open(sealed[:0], nonce, sealed, nil)
	if err != nil {
		return 0, fmt.Errorf("decryption failed: %w", err)
	}

	n := copy(p, plain)
	if n < len(plain) {
		s.readBuf = plain[n:]
	}
	return n, nil
}

// GenerateKeyPair generates a X25519 key pair.
func GenerateKeyPair() (privateKey, publicKey [32]byte, err error) {
	if _, err := io.ReadFull(rand.Reader, privateKey[:]); err != nil {
		return [32]byte{}, [32]byte{}, err
	}
	curve25519.ScalarBaseMult(&publicKey, &privateKey)
	return privateKey, publicKey, nil
}

// DeriveSharedSecret derives a shared secret using X25519.
func DeriveSharedSecret(privateKey, remotePublicKey [32]byte) ([32]byte, error) {
	sharedSecret, err := curve25519.X25519(privateKey[:], remotePublicKey[:])
	if err != nil {
		return [32]byte{}, err
	}
	var res [32]byte
	copy(res[:], sharedSecret)
	return res, nil
}
