package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// Entry is one line of the lifecycle journal.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"session_id"`
	Mode      string    `json:"mode,omitempty"`
	Type      string    `json:"type"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Error     string    `json:"error,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// Entry types
const (
	TypeTransition = "transition"
	TypeFault      = "fault"
	TypeEvent      = "event"
)

// Journal appends lifecycle entries as JSON lines.
type Journal struct {
	mu     sync.Mutex
	w      io.Writer
	file   *os.File
	enc    *json.Encoder
	logDir string

	subs []func(Entry)
}

// NewJournal opens (or creates) path for appending. An empty path resolves
// to the platform log directory.
func NewJournal(path string) (*Journal, error) {
	if path == "" {
		logDir, err := getLogDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get log directory: %w", err)
		}
		path = filepath.Join(logDir, "sessions.log")
	}

	logDir := filepath.Dir(path)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return &Journal{
		w:      file,
		file:   file,
		enc:    json.NewEncoder(file),
		logDir: logDir,
	}, nil
}

// NewWriterJournal journals into w. Close does not close w.
func NewWriterJournal(w io.Writer) *Journal {
	return &Journal{w: w, enc: json.NewEncoder(w)}
}

func getLogDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	var logDir string
	switch runtime.GOOS {
	case "windows":
		logDir = filepath.Join(homeDir, "AppData", "Local", "holedeck", "logs")
	case "darwin":
		logDir = filepath.Join(homeDir, "Library", "Logs", "holedeck")
	default:
		logDir = filepath.Join(homeDir, ".local", "share", "holedeck", "logs")
		if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
			logDir = filepath.Join(xdgData, "holedeck", "logs")
		}
	}

	return logDir, nil
}

// Log writes entry, stamping it with the current time.
func (j *Journal) Log(entry Entry) {
	if j == nil {
		return
	}
	j.mu.Lock()
	entry.Timestamp = time.Now()
	j.enc.Encode(entry)
	subs := j.subs
	j.mu.Unlock()

	for _, fn := range subs {
		fn(entry)
	}
}

// Subscribe calls fn with every entry logged from now on.
func (j *Journal) Subscribe(fn func(Entry)) {
	if j == nil {
		return
	}
	j.mu.Lock()
	j.subs = append(j.subs[:len(j.subs):len(j.subs)], fn)
	j.mu.Unlock()
}

// LogTransition records a state change.
func (j *Journal) LogTransition(sessionID, mode, from, to string, err error) {
	e := Entry{
		SessionID: sessionID,
		Mode:      mode,
		Type:      TypeTransition,
		From:      from,
		To:        to,
	}
	if err != nil {
		e.Error = err.Error()
	}
	j.Log(e)
}

// LogFault records an error that was absorbed instead of returned.
func (j *Journal) LogFault(sessionID, mode string, err error, message string) {
	j.Log(Entry{
		SessionID: sessionID,
		Mode:      mode,
		Type:      TypeFault,
		Error:     err.Error(),
		Message:   message,
	})
}

// LogEvent records free-form information about a session.
func (j *Journal) LogEvent(sessionID, message string) {
	j.Log(Entry{
		SessionID: sessionID,
		Type:      TypeEvent,
		Message:   message,
	})
}

func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file != nil {
		return j.file.Close()
	}
	return nil
}

func (j *Journal) GetLogPath() string {
	if j != nil && j.file != nil {
		return j.file.Name()
	}
	return ""
}

func (j *Journal) GetLogDir() string {
	if j == nil {
		return ""
	}
	return j.logDir
}
