package lifecycle

import (
	"strings"

	"holedeck/internal/constants"
	"holedeck/internal/engine"
	"holedeck/internal/utils"
)

// RawConfig is a start request as received from the presentation layer.
type RawConfig struct {
	Port             string `json:"port"`
	Host             string `json:"host,omitempty"`
	CustomKey        string `json:"customKey,omitempty"`
	Secure           bool   `json:"secure,omitempty"`
	ConnectionString string `json:"connectionString,omitempty"`
}

// Normalize validates raw for mode and builds the engine contract.
//
// A server contract carries a key only when CustomKey is non-empty after
// trimming; otherwise the engine generates one. A client contract always
// carries the connection string as its target key.
func Normalize(mode engine.Mode, raw RawConfig) (engine.Contract, error) {
	if !mode.Valid() {
		return engine.Contract{}, invalidf("unknown mode: %q", mode)
	}

	port, err := utils.ParsePort(raw.Port)
	if err != nil {
		return engine.Contract{}, &InvalidConfigError{Reason: err.Error()}
	}

	host := strings.TrimSpace(raw.Host)
	if host == "" {
		host = constants.DefaultBindHost
	}

	c := engine.Contract{
		Mode: mode,
		Host: host,
		Port: port,
	}

	switch mode {
	case engine.ModeServer:
		c.Secure = raw.Secure
		if key := strings.TrimSpace(raw.CustomKey); key != "" {
			if err := utils.ValidateKey(key); err != nil {
				return engine.Contract{}, &InvalidConfigError{Reason: err.Error()}
			}
			c.Key = key
		}
	case engine.ModeClient:
		target := strings.TrimSpace(raw.ConnectionString)
		if target == "" {
			return engine.Contract{}, invalidf("connection string is required in client mode")
		}
		c.Key = target
	}

	return c, nil
}
