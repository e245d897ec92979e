package session

import (
	"log"

	"holedeck/internal/config"
)

// NewStore picks Redis when configured and falls back to memory when Redis
// cannot be reached.
func NewStore(cfg config.Settings) StoreInterface {
	addr := cfg.RedisAddr()
	if addr == "" {
		log.Println("💾 Using in-memory registration store")
		return NewMemoryStore()
	}

	store, err := NewRedisStore(RedisOptions{
		Addr:     addr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		log.Printf("⚠️  Redis connection failed: %v", err)
		log.Println("💾 Falling back to in-memory registration store")
		return NewMemoryStore()
	}
	log.Printf("💾 Using Redis registration store: %s", addr)
	return store
}
