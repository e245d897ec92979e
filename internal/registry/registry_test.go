package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"holedeck/internal/engine"
)

type nopHandle struct{}

func (nopHandle) Ready(context.Context) (engine.Info, error) { return engine.Info{}, nil }
func (nopHandle) Shutdown(context.Context) error             { return nil }

var serverContract = engine.Contract{Mode: engine.ModeServer, Host: "0.0.0.0", Port: 3000}

func TestRegisterRejectsDuplicate(t *testing.T) {
	r := New()

	_, err := r.Register("s1", engine.ModeServer, nil)
	require.NoError(t, err)

	_, err = r.Register("s1", engine.ModeClient, nil)
	assert.True(t, errors.Is(err, ErrAlreadyExists))
	assert.Equal(t, 1, r.Len())
}

func TestRegisterConcurrentSameID(t *testing.T) {
	r := New()

	const n = 64
	var wins int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := r.Register("same", engine.ModeServer, nil); err == nil {
				atomic.AddInt32(&wins, 1)
			} else {
				assert.True(t, errors.Is(err, ErrAlreadyExists))
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, 1, wins)
}

func TestRegisterConcurrentDistinctIDs(t *testing.T) {
	r := New()

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := r.Register(id, engine.ModeClient, nil)
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f"}, r.IDs())
}

func TestAttachLifecycle(t *testing.T) {
	r := New()
	tk, err := r.Register("s1", engine.ModeServer, nil)
	require.NoError(t, err)

	// attach before Starting is rejected
	err = r.Attach("s1", tk, nopHandle{}, engine.Info{})
	assert.True(t, errors.Is(err, ErrNotStarting))

	require.NoError(t, r.MarkStarting("s1", tk, serverContract))
	_, ok := r.Lookup("s1")
	assert.False(t, ok, "starting sessions expose no handle")

	require.NoError(t, r.Attach("s1", tk, nopHandle{}, engine.Info{URL: "hs://abc"}))

	h, ok := r.Lookup("s1")
	assert.True(t, ok)
	assert.NotNil(t, h)

	s, ok := r.Get("s1")
	require.True(t, ok)
	assert.Equal(t, StateRunning, s.State)
	assert.Equal(t, "hs://abc", s.Info.URL)
	assert.Equal(t, serverContract, s.Contract)
	assert.False(t, s.ReadyAt.IsZero())

	// a second attach is rejected
	err = r.Attach("s1", tk, nopHandle{}, engine.Info{})
	assert.True(t, errors.Is(err, ErrNotStarting))
}

func TestAttachWithStaleTicket(t *testing.T) {
	r := New()
	old, err := r.Register("s1", engine.ModeServer, nil)
	require.NoError(t, err)
	require.NoError(t, r.MarkStarting("s1", old, serverContract))

	_, existed := r.Remove("s1")
	require.True(t, existed)

	fresh, err := r.Register("s1", engine.ModeServer, nil)
	require.NoError(t, err)
	require.NoError(t, r.MarkStarting("s1", fresh, serverContract))

	err = r.Attach("s1", old, nopHandle{}, engine.Info{})
	assert.True(t, errors.Is(err, ErrNotStarting))

	_, released := r.Release("s1", old)
	assert.False(t, released, "stale ticket must not free the newer registration")
	assert.Equal(t, 1, r.Len())

	_, released = r.Release("s1", fresh)
	assert.True(t, released)
	assert.Equal(t, 0, r.Len())
}

func TestRemoveIsIdempotent(t *testing.T) {
	r := New()
	tk, err := r.Register("s1", engine.ModeServer, nil)
	require.NoError(t, err)
	require.NoError(t, r.MarkStarting("s1", tk, serverContract))
	require.NoError(t, r.Attach("s1", tk, nopHandle{}, engine.Info{}))

	h, ok := r.Remove("s1")
	assert.True(t, ok)
	assert.NotNil(t, h)

	h, ok = r.Remove("s1")
	assert.False(t, ok)
	assert.Nil(t, h)

	h, ok = r.Remove("never")
	assert.False(t, ok)
	assert.Nil(t, h)
}

func TestRemoveCancelsPendingStart(t *testing.T) {
	r := New()
	ctx, cancel := context.WithCancel(context.Background())
	tk, err := r.Register("s1", engine.ModeClient, cancel)
	require.NoError(t, err)
	require.NoError(t, r.MarkStarting("s1", tk, serverContract))

	h, ok := r.Remove("s1")
	assert.True(t, ok)
	assert.Nil(t, h)
	assert.Error(t, ctx.Err())

	// the id is free for reuse immediately
	_, err = r.Register("s1", engine.ModeClient, nil)
	assert.NoError(t, err)
}

func TestSnapshotIsSortedCopy(t *testing.T) {
	r := New()
	for _, id := range []string{"c", "a", "b"} {
		_, err := r.Register(id, engine.ModeServer, nil)
		require.NoError(t, err)
	}

	snap := r.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "a", snap[0].ID)
	assert.Equal(t, "c", snap[2].ID)

	snap[0].State = StateFailed
	s, _ := r.Get("a")
	assert.Equal(t, StateUninitialized, s.State)
}

func TestStateStrings(t *testing.T) {
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "unknown", State(99).String())
	assert.True(t, StateStopped.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateStopping.Terminal())

	b, err := StateStarting.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "starting", string(b))

	var s State
	require.NoError(t, s.UnmarshalText([]byte("stopping")))
	assert.Equal(t, StateStopping, s)
	assert.Error(t, s.UnmarshalText([]byte("bogus")))
}
