package utils

import (
	"fmt"
	"strconv"
	"strings"

	"holedeck/internal/constants"
)

// ParsePort parses a decimal port number and checks its range
func ParsePort(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("port is required")
	}
	p, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid port number: %s", s)
	}
	if p < constants.MinPort || p > constants.MaxPort {
		return 0, fmt.Errorf("port number out of range: %d", p)
	}
	return p, nil
}

// DialHost maps a wildcard bind address to the loopback address
func DialHost(host string) string {
	switch host {
	case "", constants.DefaultBindHost, "::", "[::]":
		return constants.LoopbackHost
	}
	return host
}
