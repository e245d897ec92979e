package types

import "time"

// RegisterRequest asks the relay to reserve a tunnel key.
type RegisterRequest struct {
	Key    string `json:"key,omitempty"`
	Secure bool   `json:"secure"`
}

// RegisterResponse carries the reserved key and the token needed to serve it.
type RegisterResponse struct {
	Key       string        `json:"key"`
	URL       string        `json:"url"`
	Token     string        `json:"token"`
	Secure    bool          `json:"secure"`
	ExpiresIn time.Duration `json:"expires_in"`
}

// ErrorResponse is the body of every relay error.
type ErrorResponse struct {
	Error string `json:"error"`
}
