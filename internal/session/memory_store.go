package session

import (
	"log"
	"sync"
	"time"

	"holedeck/internal/constants"
)

type MemoryStore struct {
	registrations sync.Map
	mu            sync.Mutex
	onExpire      func(keyHash string)
	stop          chan struct{}
	stopOnce      sync.Once
}

func NewMemoryStore() *MemoryStore {
	store := &MemoryStore{stop: make(chan struct{})}
	go store.cleanupLoop(constants.CleanupInterval)
	return store
}

func (st *MemoryStore) OnExpire(fn func(keyHash string)) {
	st.mu.Lock()
	st.onExpire = fn
	st.mu.Unlock()
}

func (st *MemoryStore) expired(keyHash string) {
	st.mu.Lock()
	fn := st.onExpire
	st.mu.Unlock()
	if fn != nil {
		fn(keyHash)
	}
}

func (st *MemoryStore) Claim(reg *Registration) (bool, error) {
	for {
		val, loaded := st.registrations.LoadOrStore(reg.KeyHash, reg)
		if !loaded {
			return true, nil
		}
		current := val.(*Registration)
		if !current.IsExpired() {
			return false, nil
		}
		if st.registrations.CompareAndSwap(reg.KeyHash, current, reg) {
			st.expired(reg.KeyHash)
			return true, nil
		}
	}
}

func (st *MemoryStore) Get(keyHash string) (*Registration, bool) {
	val, ok := st.registrations.Load(keyHash)
	if !ok {
		return nil, false
	}
	reg := val.(*Registration)
	if reg.IsExpired() {
		if st.registrations.CompareAndDelete(keyHash, reg) {
			st.expired(keyHash)
		}
		return nil, false
	}
	return reg, true
}

func (st *MemoryStore) Delete(keyHash string) {
	st.registrations.Delete(keyHash)
}

func (st *MemoryStore) Close() error {
	st.stopOnce.Do(func() { close(st.stop) })
	return nil
}

func (st *MemoryStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-st.stop:
			return
		case <-ticker.C:
			st.cleanupExpired()
		}
	}
}

func (st *MemoryStore) cleanupExpired() {
	st.registrations.Range(func(key, value interface{}) bool {
		reg := value.(*Registration)
		if reg.IsExpired() && st.registrations.CompareAndDelete(key, reg) {
			keyHash := key.(string)
			st.expired(keyHash)
			log.Printf("🗑 Expired registration cleaned up: %s", short(keyHash))
		}
		return true
	})
}

func short(keyHash string) string {
	if len(keyHash) > 12 {
		return keyHash[:12]
	}
	return keyHash
}
