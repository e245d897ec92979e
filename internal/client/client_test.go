package client

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"holedeck/internal/engine"
	"holedeck/internal/lifecycle"
)

type stubEngine struct {
	info   engine.Info
	err    error
	faults chan error
}

func (s *stubEngine) Ready(ctx context.Context) (engine.Info, error) { return s.info, s.err }
func (s *stubEngine) Shutdown(ctx context.Context) error             { close(s.faults); return nil }
func (s *stubEngine) Faults() <-chan error                           { return s.faults }

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := Out
	Out = &buf
	t.Cleanup(func() { Out = prev })
	return &buf
}

func TestPrintSession(t *testing.T) {
	buf := capture(t)

	PrintSession(&lifecycle.SessionInfo{
		ID:      "s1",
		Mode:    engine.ModeServer,
		URL:     "hs://abc123",
		Address: "127.0.0.1:3000",
		Secure:  true,
	})

	out := buf.String()
	assert.Contains(t, out, "hs://abc123")
	assert.Contains(t, out, "127.0.0.1:3000")
	assert.Contains(t, out, "XChaCha20")
}

func TestPrintQR(t *testing.T) {
	buf := capture(t)
	require.NoError(t, PrintQR("hs://abc123"))
	assert.Greater(t, bytes.Count(buf.Bytes(), []byte("\n")), 10)
}

func TestRunStopsOnCancel(t *testing.T) {
	capture(t)
	m := lifecycle.NewManager(func(c engine.Contract) (engine.Handle, error) {
		return &stubEngine{info: engine.Info{URL: "hs://k"}, faults: make(chan error, 1)}, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, m, Options{ID: "share", Mode: engine.ModeServer, Config: lifecycle.RawConfig{Port: "3000"}, ShowQR: true, Poll: 10 * time.Millisecond})
	}()

	require.Eventually(t, func() bool {
		_, ok := m.Lookup("share")
		return ok
	}, time.Second, 5*time.Millisecond)
	cancel()

	assert.NoError(t, <-done)
	assert.Empty(t, m.Sessions())
}

func TestRunReportsFault(t *testing.T) {
	capture(t)
	faults := make(chan error, 1)
	m := lifecycle.NewManager(func(c engine.Contract) (engine.Handle, error) {
		return &stubEngine{info: engine.Info{URL: "hs://k"}, faults: faults}, nil
	})
	defer m.Close(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- Run(context.Background(), m, Options{ID: "c1", Mode: engine.ModeClient, Config: lifecycle.RawConfig{Port: "8080", ConnectionString: "k"}, Poll: 10 * time.Millisecond})
	}()

	require.Eventually(t, func() bool {
		_, ok := m.Lookup("c1")
		return ok
	}, time.Second, 5*time.Millisecond)
	faults <- errors.New("relay connection lost")

	assert.ErrorContains(t, <-done, "lost its relay connection")
}

func TestRunStartFailure(t *testing.T) {
	capture(t)
	m := lifecycle.NewManager(func(c engine.Contract) (engine.Handle, error) {
		return &stubEngine{err: errors.New("peer unreachable"), faults: make(chan error)}, nil
	})

	err := Run(context.Background(), m, Options{ID: "c1", Mode: engine.ModeClient, Config: lifecycle.RawConfig{Port: "8080", ConnectionString: "k"}})
	assert.EqualError(t, err, "peer unreachable")
}
