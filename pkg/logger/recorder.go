package logger

import (
	"fmt"
	"strings"
	"sync"
)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelFatal Level = "fatal"
)

type Entry struct {
	Level  Level
	Msg    string
	Fields []interface{}
}

// Recorder keeps every entry in memory. Tests use it to assert that a
// fallback or a hash mismatch was reported loudly.
type Recorder struct {
	mu      *sync.Mutex
	entries *[]Entry
	fields  []interface{}
}

func NewRecorder() *Recorder {
	return &Recorder{mu: &sync.Mutex{}, entries: &[]Entry{}}
}

func (r *Recorder) record(level Level, msg string, kv []interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fields := make([]interface{}, 0, len(r.fields)+len(kv))
	fields = append(fields, r.fields...)
	fields = append(fields, kv...)
	*r.entries = append(*r.entries, Entry{Level: level, Msg: msg, Fields: fields})
}

func (r *Recorder) Debug(msg string, kv ...interface{}) { r.record(LevelDebug, msg, kv) }
func (r *Recorder) Info(msg string, kv ...interface{})  { r.record(LevelInfo, msg, kv) }
func (r *Recorder) Warn(msg string, kv ...interface{})  { r.record(LevelWarn, msg, kv) }
func (r *Recorder) Error(msg string, kv ...interface{}) { r.record(LevelError, msg, kv) }
func (r *Recorder) Fatal(msg string, kv ...interface{}) { r.record(LevelFatal, msg, kv) }

func (r *Recorder) Debugf(format string, args ...interface{}) {
	r.record(LevelDebug, fmt.Sprintf(format, args...), nil)
}
func (r *Recorder) Infof(format string, args ...interface{}) {
	r.record(LevelInfo, fmt.Sprintf(format, args...), nil)
}
func (r *Recorder) Warnf(format string, args ...interface{}) {
	r.record(LevelWarn, fmt.Sprintf(format, args...), nil)
}
func (r *Recorder) Errorf(format string, args ...interface{}) {
	r.record(LevelError, fmt.Sprintf(format, args...), nil)
}
func (r *Recorder) Fatalf(format string, args ...interface{}) {
	r.record(LevelFatal, fmt.Sprintf(format, args...), nil)
}

// With shares the entry buffer with the parent so child loggers show up in
// the same recording.
func (r *Recorder) With(kv ...interface{}) Logger {
	fields := make([]interface{}, 0, len(r.fields)+len(kv))
	fields = append(fields, r.fields...)
	fields = append(fields, kv...)
	return &Recorder{mu: r.mu, entries: r.entries, fields: fields}
}

func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(*r.entries))
	copy(out, *r.entries)
	return out
}

// Has reports whether an entry at level contains substr in its message.
func (r *Recorder) Has(level Level, substr string) bool {
	for _, e := range r.Entries() {
		if e.Level == level && strings.Contains(e.Msg, substr) {
			return true
		}
	}
	return false
}
