package session

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"holedeck/internal/constants"
)

type RedisStore struct {
	client   *redis.Client
	mu       sync.Mutex
	onExpire func(keyHash string)
	ctx      context.Context
	cancel   func()
	wg       sync.WaitGroup
}

// RedisOptions locates the Redis server.
type RedisOptions struct {
	Addr     string
	Username string
	Password string
	DB       int
}

func NewRedisStore(o RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     o.Addr,
		Username: o.Username,
		Password: o.Password,
		DB:       o.DB,
	})

	ctx, cancel := context.WithCancel(context.Background())

	store := &RedisStore{
		client: client,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := store.client.Ping(ctx).Err(); err != nil {
		cancel()
		client.Close()
		return nil, err
	}

	store.startCleanup()

	return store, nil
}

func (st *RedisStore) OnExpire(fn func(keyHash string)) {
	st.mu.Lock()
	st.onExpire = fn
	st.mu.Unlock()
}

func (st *RedisStore) expired(keyHash string) {
	st.mu.Lock()
	fn := st.onExpire
	st.mu.Unlock()
	if fn != nil {
		fn(keyHash)
	}
}

func (st *RedisStore) Claim(reg *Registration) (bool, error) {
	ttl := time.Until(reg.ExpiresAt)
	if ttl <= 0 {
		return false, nil
	}

	data, err := json.Marshal(reg)
	if err != nil {
		return false, err
	}

	ok, err := st.client.SetNX(st.ctx, constants.RedisKeyPrefix+reg.KeyHash, data, ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		log.Printf("💾 Saving registration to Redis: %s (TTL: %v)", short(reg.KeyHash), ttl)
	}
	return ok, nil
}

func (st *RedisStore) Get(keyHash string) (*Registration, bool) {
	data, err := st.client.Get(st.ctx, constants.RedisKeyPrefix+keyHash).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		log.Printf("Failed to get registration from Redis: %v", err)
		return nil, false
	}

	var reg Registration
	if err := json.Unmarshal(data, &reg); err != nil {
		log.Printf("Failed to unmarshal registration: %v", err)
		return nil, false
	}

	if reg.IsExpired() {
		st.Delete(keyHash)
		st.expired(keyHash)
		return nil, false
	}

	return &reg, true
}

func (st *RedisStore) Delete(keyHash string) {
	if err := st.client.Del(st.ctx, constants.RedisKeyPrefix+keyHash).Err(); err != nil {
		log.Printf("Failed to delete registration from Redis: %v", err)
	}
}

func (st *RedisStore) Close() error {
	st.cancel()
	st.wg.Wait()
	return st.client.Close()
}

func (st *RedisStore) startCleanup() {
	st.wg.Add(1)
	go func() {
		defer st.wg.Done()
		ticker := time.NewTicker(constants.CleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-st.ctx.Done():
				return
			case <-ticker.C:
				st.cleanupExpired()
			}
		}
	}()
}

// cleanupExpired removes keys that lost their TTL.
func (st *RedisStore) cleanupExpired() {
	pattern := constants.RedisKeyPrefix + "*"
	iter := st.client.Scan(st.ctx, 0, pattern, 100).Iterator()

	for iter.Next(st.ctx) {
		key := iter.Val()
		keyHash := key[len(constants.RedisKeyPrefix):]

		ttl, err := st.client.TTL(st.ctx, key).Result()
		if err != nil {
			continue
		}

		if ttl == -1 {
			st.Delete(keyHash)
			st.expired(keyHash)
			log.Printf("🗑 Registration without TTL cleaned up (Redis): %s", short(keyHash))
		}
	}

	if err := iter.Err(); err != nil && st.ctx.Err() == nil {
		log.Printf("Redis scan error: %v", err)
	}
}
