package log

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// testSink is the buffer shared by a TestLogger and every child made with With.
type testSink struct {
	mu     sync.Mutex
	buffer *bytes.Buffer
	level  Level
}

// TestLogger is a logger implementation designed for testing.
// It captures all log messages in memory as JSON lines for later inspection.
// It is safe for concurrent use, which the parallel tree builders need.
type TestLogger struct {
	sink   *testSink
	fields map[string]interface{}
}

// NewTestLogger creates a new TestLogger with the specified minimum level.
//
// Example:
//
//	logger, buffer := log.NewTestLogger(log.LevelDebug)
//	logger.Info("test message", "key", "value")
//	output := buffer.String()
func NewTestLogger(level Level) (*TestLogger, *bytes.Buffer) {
	buffer := &bytes.Buffer{}
	return &TestLogger{
		sink:   &testSink{buffer: buffer, level: level},
		fields: make(map[string]interface{}),
	}, buffer
}

// Debug implements Logger.Debug.
func (t *TestLogger) Debug(msg string, fields ...any) { t.writeLog(LevelDebug, msg, fields...) }

// Info implements Logger.Info.
func (t *TestLogger) Info(msg string, fields ...any) { t.writeLog(LevelInfo, msg, fields...) }

// Warn implements Logger.Warn.
func (t *TestLogger) Warn(msg string, fields ...any) { t.writeLog(LevelWarn, msg, fields...) }

// Error implements Logger.Error.
func (t *TestLogger) Error(msg string, fields ...any) {
	if len(fields) > 0 {
		if err, ok := fields[0].(error); ok {
			fields = append([]any{ErrAttrKey, err}, fields[1:]...)
		}
	}
	t.writeLog(LevelError, msg, fields...)
}

// With implements Logger.With.
func (t *TestLogger) With(fields ...any) Logger {
	newFields := make(map[string]interface{}, len(t.fields)+len(fields)/2)
	for k, v := range t.fields {
		newFields[k] = v
	}
	addFields(newFields, fields)
	return &TestLogger{sink: t.sink, fields: newFields}
}

// Enabled implements Logger.Enabled.
func (t *TestLogger) Enabled(ctx context.Context, level Level) bool {
	t.sink.mu.Lock()
	defer t.sink.mu.Unlock()
	return t.sink.level <= level
}

func addFields(dst map[string]interface{}, fields []any) {
	for i := 0; i < len(fields)-1; i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		if err, ok := fields[i+1].(error); ok {
			dst[key] = err.Error()
		} else {
			dst[key] = fields[i+1]
		}
	}
}

// writeLog writes a log entry to the buffer in JSON format.
func (t *TestLogger) writeLog(level Level, msg string, fields ...any) {
	t.sink.mu.Lock()
	defer t.sink.mu.Unlock()
	if level < t.sink.level {
		return
	}

	entry := map[string]interface{}{
		"level":   level.String(),
		"message": msg,
	}
	for k, v := range t.fields {
		entry[k] = v
	}
	addFields(entry, fields)

	jsonData, err := json.Marshal(entry)
	if err != nil {
		jsonData, _ = json.Marshal(map[string]interface{}{
			"level":   level.String(),
			"message": msg,
			"!ERROR":  err.Error(),
		})
	}
	t.sink.buffer.Write(jsonData)
	t.sink.buffer.WriteByte('\n')
}

// GetBuffer returns the internal buffer for direct access to captured logs.
func (t *TestLogger) GetBuffer() *bytes.Buffer {
	return t.sink.buffer
}

// GetLogEntries parses the captured log output and returns structured log entries.
func (t *TestLogger) GetLogEntries() ([]map[string]interface{}, error) {
	t.sink.mu.Lock()
	raw := t.sink.buffer.String()
	t.sink.mu.Unlock()

	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// ContainsMessage checks if the captured logs contain a message with the specified content.
func (t *TestLogger) ContainsMessage(message string) bool {
	t.sink.mu.Lock()
	defer t.sink.mu.Unlock()
	return strings.Contains(t.sink.buffer.String(), message)
}

// ContainsField checks if the captured logs contain an entry with the specified field and value.
// Numbers round-trip through JSON, so compare against float64.
//
// Example:
//
//	if !testLogger.ContainsField("ml.operation", "fit") {
//	    t.Error("Expected fit operation in logs")
//	}
func (t *TestLogger) ContainsField(key string, value interface{}) bool {
	entries, err := t.GetLogEntries()
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if fieldValue, exists := entry[key]; exists && fieldValue == value {
			return true
		}
	}
	return false
}

// Clear clears all captured log content.
func (t *TestLogger) Clear() {
	t.sink.mu.Lock()
	defer t.sink.mu.Unlock()
	t.sink.buffer.Reset()
}

// TestLoggerProvider implements LoggerProvider for testing scenarios.
type TestLoggerProvider struct {
	logger *TestLogger
	buffer *bytes.Buffer
}

// NewTestLoggerProvider creates a new test logger provider.
func NewTestLoggerProvider(level Level) (*TestLoggerProvider, *bytes.Buffer) {
	logger, buffer := NewTestLogger(level)
	return &TestLoggerProvider{
		logger: logger,
		buffer: buffer,
	}, buffer
}

// GetLogger implements LoggerProvider.GetLogger.
func (p *TestLoggerProvider) GetLogger() Logger {
	return p.logger
}

// GetLoggerWithName implements LoggerProvider.GetLoggerWithName.
func (p *TestLoggerProvider) GetLoggerWithName(name string) Logger {
	return p.logger.With(ComponentKey, name)
}

// SetLevel implements LoggerProvider.SetLevel.
func (p *TestLoggerProvider) SetLevel(level Level) {
	p.logger.sink.mu.Lock()
	defer p.logger.sink.mu.Unlock()
	p.logger.sink.level = level
}

// TestLogger returns the root logger so tests can inspect entries.
func (p *TestLoggerProvider) TestLogger() *TestLogger {
	return p.logger
}

// GetBuffer returns the buffer for accessing captured logs.
func (p *TestLoggerProvider) GetBuffer() *bytes.Buffer {
	return p.buffer
}

// UseTestProvider installs a TestLoggerProvider as the process provider and
// returns it together with a restore func.
//
//	p, restore := log.UseTestProvider(log.LevelDebug)
//	defer restore()
func UseTestProvider(level Level) (*TestLoggerProvider, func()) {
	providerMu.Lock()
	prev := provider
	providerMu.Unlock()

	p, _ := NewTestLoggerProvider(level)
	SetProvider(p)
	return p, func() { SetProvider(prev) }
}
