package session

// StoreInterface keeps relay registrations keyed by key hash.
type StoreInterface interface {
	// Claim saves reg unless an unexpired registration holds its key.
	Claim(reg *Registration) (bool, error)
	Get(keyHash string) (*Registration, bool)
	Delete(keyHash string)
	OnExpire(func(keyHash string))
	Close() error
}
