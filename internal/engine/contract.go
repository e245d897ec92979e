package engine

// Mode selects which side of a tunnel an engine runs.
type Mode string

const (
	// ModeServer exposes a local TCP port through a tunnel key.
	ModeServer Mode = "server"
	// ModeClient connects to a tunnel key and binds it to a local port.
	ModeClient Mode = "client"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeServer || m == ModeClient
}

// Contract is the normalized startup configuration handed to an engine.
//
// For server mode Host/Port name the local service to expose and Key is the
// optional custom key; an empty Key asks the engine to generate one. For
// client mode Host/Port name the local bind address and Key is the remote
// tunnel key to connect to.
type Contract struct {
	Mode   Mode   `json:"mode"`
	Host   string `json:"host"`
	Port   int    `json:"port"`
	Secure bool   `json:"secure,omitempty"`
	Key    string `json:"key,omitempty"`
}

// HasKey reports whether the contract carries a key.
func (c Contract) HasKey() bool {
	return c.Key != ""
}

// Info is what an engine reports once it is ready.
type Info struct {
	// URL is the shareable connection string (server mode).
	URL string `json:"url,omitempty"`
	// Key is the tunnel key in use.
	Key string `json:"key,omitempty"`
	// Address is the local address the engine serves or binds.
	Address string `json:"address,omitempty"`
	Secure  bool   `json:"secure"`
}
