package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"
	"net"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Role is the side of a stream performing the handshake.
type Role int

const (
	// RoleDialer opens the stream and sends its public key first.
	RoleDialer Role = iota
	// RoleAcceptor answers the dialer.
	RoleAcceptor
)

// SessionKeys holds one key per direction.
type SessionKeys struct {
	Send []byte
	Recv []byte
}

const (
	infoDialerToAcceptor = "holedeck e2ee dialer->acceptor"
	infoAcceptorToDialer = "holedeck e2ee acceptor->dialer"
)

// Handshake runs an X25519 exchange over conn and derives direction keys
// with HKDF-SHA256, salted with the tunnel key so both ends must agree on it.
func Handshake(conn net.Conn, role Role, tunnelKey string) (SessionKeys, error) {
	priv, pub, err := GenerateKeyPair()
	if err != nil {
		return SessionKeys{}, fmt.Errorf("failed to generate key pair: %w", err)
	}

	var remotePub [32]byte
	switch role {
	case RoleAcceptor:
		if _, err := io.ReadFull(conn, remotePub[:]); err != nil {
			return SessionKeys{}, fmt.Errorf("failed to read peer public key: %w", err)
		}
		if _, err := conn.Write(pub[:]); err != nil {
			return SessionKeys{}, fmt.Errorf("failed to send public key: %w", err)
		}
	default:
		if _, err := conn.Write(pub[:]); err != nil {
			return SessionKeys{}, fmt.Errorf("failed to send public key: %w", err)
		}
		if _, err := io.ReadFull(conn, remotePub[:]); err != nil {
			return SessionKeys{}, fmt.Errorf("failed to read peer public key: %w", err)
		}
	}

	shared, err := DeriveSharedSecret(priv, remotePub)
	if err != nil {
		return SessionKeys{}, fmt.Errorf("failed to derive shared secret: %w", err)
	}

	d2a, err := expand(shared[:], tunnelKey, infoDialerToAcceptor)
	if err != nil {
		return SessionKeys{}, err
	}
	a2d, err := expand(shared[:], tunnelKey, infoAcceptorToDialer)
	if err != nil {
		return SessionKeys{}, err
	}

	if role == RoleAcceptor {
		return SessionKeys{Send: a2d, Recv: d2a}, nil
	}
	return SessionKeys{Send: d2a, Recv: a2d}, nil
}

func expand(secret []byte, salt, info string) ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, []byte(salt), []byte(info)), key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

// Secure performs the handshake and wraps conn.
func Secure(conn net.Conn, role Role, tunnelKey string) (*SecureConn, error) {
	keys, err := Handshake(conn, role, tunnelKey)
	if err != nil {
		return nil, err
	}
	return NewSecureConn(conn, keys)
}
