package constants

import "time"

// Network defaults
const (
	DefaultBindHost    = "0.0.0.0"
	LoopbackHost       = "127.0.0.1"
	DefaultRelayURL    = "http://localhost:8080"
	DefaultRelayPort   = "8080"
	DefaultControlAddr = "127.0.0.1:7070"
	MinPort            = 1
	MaxPort            = 65535
	WSBufferSize       = 131072 // 128KB WebSocket buffer
	CopyBufferSize     = 262144 // 256KB for io.Copy operations
	MaxWSMessageSize   = 4 * 1024 * 1024
	DialTimeout        = 10 * time.Second
	WSHandshakeTimeout = 15 * time.Second
	CleanupInterval    = 30 * time.Second
)

// Yamux tuning
const (
	YamuxMaxStreamWindowSize = 4 * 1024 * 1024
	YamuxAcceptBacklog       = 512
	YamuxEnableKeepAlive     = true
	YamuxKeepAliveInterval   = 30 * time.Second
)

// Stream type bytes written at the head of every relay-opened stream
const (
	StreamTypeProxy byte = 0x01
	StreamTypeLog   byte = 0x02
)

// Tunnel keys
const (
	KeyScheme       = "hs://"
	GeneratedKeyLen = 32 // random bytes, hex encoded
	MaxKeyLength    = 128
)

// Relay registration lifetime
const (
	RegistrationDuration = 24 * time.Hour
	RedisKeyPrefix       = "holedeck:tunnel:"
	MaxConnectionsPerIP  = 32
	MaxAuthAttempts      = 5
	BlockDuration        = 15 * time.Minute
	MaxConfigBodySize    = 4096
)

// Lifecycle defaults
const (
	DefaultReadyTimeout    = 60 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

// Control API event feed
const (
	FeedMaxEntries   = 200
	FeedReadBuffer   = 1024
	FeedWriteBuffer  = 4096
	FeedWriteTimeout = 5 * time.Second
	FeedClientQueue  = 64
)

// Relay endpoints
const (
	EndpointRegister   = "/api/register"
	EndpointServe      = "/ws/serve/"
	EndpointConnect    = "/ws/connect/"
	EndpointHealth     = "/healthz"
	HeaderSecureTunnel = "X-Holedeck-Secure"
)

// ANSI color codes
const (
	ColorReset  = "\033[0m"
	ColorBold   = "\033[1m"
	ColorDim    = "\033[2m"
	ColorCyan   = "\033[36m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorRed    = "\033[31m"
	ColorPurple = "\033[35m"
)

// Messages
const (
	MsgInvalidJSON      = "Invalid JSON"
	MsgMethodNotAllowed = "Method not allowed"
	MsgInvalidKey       = "Invalid tunnel key"
	MsgKeyInUse         = "Tunnel key already in use"
	MsgTunnelNotFound   = "Tunnel not found"
	MsgUnauthorized     = "Unauthorized: invalid or missing token"
	MsgConnLimit        = "Connection limit exceeded"
	MsgPeerUnreachable  = "peer unreachable"
)

const Version = "0.3.0"
