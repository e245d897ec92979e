package utils

import (
	"fmt"
	"strings"

	"holedeck/internal/constants"
)

// GenerateKey returns a fresh random tunnel key
func GenerateKey() (string, error) {
	return RandomHex(constants.GeneratedKeyLen)
}

// ValidateKey reports whether key can be used as a tunnel key.
// Keys travel in URL paths, so only unreserved URL characters are allowed.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("key is empty")
	}
	if len(key) > constants.MaxKeyLength {
		return fmt.Errorf("key longer than %d characters", constants.MaxKeyLength)
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.', r == '~':
		default:
			return fmt.Errorf("key contains invalid character %q", r)
		}
	}
	return nil
}

// ParseConnectionKey accepts either a bare key or an hs:// connection string
func ParseConnectionKey(s string) (string, error) {
	key := strings.TrimSpace(s)
	if strings.HasPrefix(strings.ToLower(key), constants.KeyScheme) {
		key = key[len(constants.KeyScheme):]
	}
	key = strings.TrimSuffix(key, "/")
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return key, nil
}

// KeyURL builds the shareable connection string for key
func KeyURL(key string) string {
	return constants.KeyScheme + key
}
