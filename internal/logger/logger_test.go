package logger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, b []byte) []Entry {
	t.Helper()
	var out []Entry
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		out = append(out, e)
	}
	return out
}

func TestWriterJournal(t *testing.T) {
	var buf bytes.Buffer
	j := NewWriterJournal(&buf)

	j.LogTransition("s1", "server", "starting", "running", nil)
	j.LogTransition("c1", "client", "starting", "failed", errors.New("peer unreachable"))
	j.LogFault("s1", "server", errors.New("close failed"), "shutdown fault")
	j.LogEvent("s1", "hello")

	entries := decode(t, buf.Bytes())
	require.Len(t, entries, 4)
	assert.Equal(t, TypeTransition, entries[0].Type)
	assert.Equal(t, "running", entries[0].To)
	assert.Empty(t, entries[0].Error)
	assert.Equal(t, "peer unreachable", entries[1].Error)
	assert.Equal(t, TypeFault, entries[2].Type)
	assert.Equal(t, "close failed", entries[2].Error)
	assert.Equal(t, TypeEvent, entries[3].Type)
	assert.False(t, entries[3].Timestamp.IsZero())
	assert.NoError(t, j.Close())
}

func TestFileJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sessions.log")
	j, err := NewJournal(path)
	require.NoError(t, err)

	j.LogEvent("s1", "opened")
	require.NoError(t, j.Close())

	assert.Equal(t, path, j.GetLogPath())
	assert.Equal(t, filepath.Dir(path), j.GetLogDir())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	entries := decode(t, b)
	require.Len(t, entries, 1)
	assert.Equal(t, "opened", entries[0].Message)
}

func TestNilJournalIsSafe(t *testing.T) {
	var j *Journal
	j.LogEvent("s1", "ignored")
	assert.NoError(t, j.Close())
	assert.Empty(t, j.GetLogPath())
}

func TestSubscribe(t *testing.T) {
	var buf bytes.Buffer
	j := NewWriterJournal(&buf)

	var got []Entry
	j.Subscribe(func(e Entry) { got = append(got, e) })
	j.LogTransition("s1", "server", "Starting", "Running", nil)
	j.LogEvent("s1", "hello")

	require.Len(t, got, 2)
	assert.Equal(t, TypeTransition, got[0].Type)
	assert.False(t, got[0].Timestamp.IsZero())
	assert.Equal(t, "hello", got[1].Message)
	assert.Len(t, decode(t, buf.Bytes()), 2)
}
