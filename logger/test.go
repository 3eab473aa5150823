package logger

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

type TestLogEntry struct {
	Severity  string
	Message   string
	Arguments []interface{}
}

// Text returns the formatted message.
func (e TestLogEntry) Text() string {
	if len(e.Arguments) == 0 {
		return e.Message
	}
	return fmt.Sprintf(e.Message, e.Arguments...)
}

type testLogStore struct {
	mu      sync.Mutex
	entries []TestLogEntry
}

// TestLogger records every entry in memory. Loggers derived with With or
// WithPrefix share the same store, so assertions can be made on the root.
type TestLogger struct {
	metadata map[string]interface{}
	store    *testLogStore
	child    Logger
}

var _ Logger = (*TestLogger)(nil)

func (c *TestLogger) WithContext(ctx context.Context) Logger {
	return c
}

func (c *TestLogger) WithPrefix(prefix string) Logger {
	return c
}

func (c *TestLogger) With(metadata map[string]interface{}) Logger {
	child := c.child
	if child != nil {
		child = child.With(metadata)
	}
	return &TestLogger{metadata: copyMetadata(c.metadata, metadata), store: c.store, child: child}
}

// Metadata returns the metadata bound to this logger.
func (c *TestLogger) Metadata() map[string]interface{} {
	return copyMetadata(c.metadata, nil)
}

func (c *TestLogger) record(level string, msg string, args ...interface{}) {
	c.store.mu.Lock()
	c.store.entries = append(c.store.entries, TestLogEntry{level, msg, args})
	c.store.mu.Unlock()
}

// Logs returns a snapshot of the recorded entries.
func (c *TestLogger) Logs() []TestLogEntry {
	c.store.mu.Lock()
	defer c.store.mu.Unlock()
	out := make([]TestLogEntry, len(c.store.entries))
	copy(out, c.store.entries)
	return out
}

// Contains reports whether an entry with the given severity contains substr.
func (c *TestLogger) Contains(severity string, substr string) bool {
	for _, entry := range c.Logs() {
		if entry.Severity == severity && strings.Contains(entry.Text(), substr) {
			return true
		}
	}
	return false
}

func (c *TestLogger) Trace(msg string, args ...interface{}) {
	c.record("TRACE", msg, args...)
	if c.child != nil {
		c.child.Trace(msg, args...)
	}
}

func (c *TestLogger) Debug(msg string, args ...interface{}) {
	c.record("DEBUG", msg, args...)
	if c.child != nil {
		c.child.Debug(msg, args...)
	}
}

func (c *TestLogger) Info(msg string, args ...interface{}) {
	c.record("INFO", msg, args...)
	if c.child != nil {
		c.child.Info(msg, args...)
	}
}

func (c *TestLogger) Warn(msg string, args ...interface{}) {
	c.record("WARN", msg, args...)
	if c.child != nil {
		c.child.Warn(msg, args...)
	}
}

func (c *TestLogger) Error(msg string, args ...interface{}) {
	c.record("ERROR", msg, args...)
	if c.child != nil {
		c.child.Error(msg, args...)
	}
}

// Fatal records the entry without exiting so tests can assert on it.
func (c *TestLogger) Fatal(msg string, args ...interface{}) {
	c.record("FATAL", msg, args...)
	if c.child != nil {
		c.child.Error(msg, args...)
	}
}

func (c *TestLogger) Stack(next Logger) Logger {
	return &TestLogger{metadata: c.metadata, store: c.store, child: next}
}

// NewTestLogger returns a new Logger instance useful for testing
func NewTestLogger() *TestLogger {
	return &TestLogger{store: &testLogStore{}}
}
