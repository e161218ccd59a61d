package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelError
)

func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger writes one JSON object per line keyed by action.
type Logger struct {
	service string
	min     Level
	out     io.Writer
	mu      *sync.Mutex
	base    map[string]any
}

func New(service string, min Level) *Logger {
	return &Logger{service: service, min: min, out: os.Stdout, mu: &sync.Mutex{}}
}

// With returns a logger that adds fields to every entry.
func (l *Logger) With(fields map[string]any) *Logger {
	merged := make(map[string]any, len(l.base)+len(fields))
	for k, v := range l.base {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	c := *l
	c.base = merged
	return &c
}

func (l *Logger) log(level Level, name, action string, fields map[string]any, err error) {
	if level < l.min {
		return
	}
	entry := map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"level":     name,
		"service":   l.service,
		"action":    action,
		"hostname":  hostname(),
	}
	for k, v := range l.base {
		entry[k] = v
	}
	for k, v := range fields {
		entry[k] = v
	}
	if err != nil {
		entry["error"] = map[string]any{"msg": err.Error(), "type": fmt.Sprintf("%T", err)}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = json.NewEncoder(l.out).Encode(entry)
}

func (l *Logger) Debug(action string, fields map[string]any) { l.log(LevelDebug, "DEBUG", action, fields, nil) }
func (l *Logger) Info(action string, fields map[string]any)  { l.log(LevelInfo, "INFO", action, fields, nil) }
func (l *Logger) Error(action string, err error, fields map[string]any) {
	l.log(LevelError, "ERROR", action, fields, err)
}

func hostname() string { h, _ := os.Hostname(); return h }
