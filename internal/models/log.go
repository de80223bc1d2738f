package models

import "strings"

// TimestampLayout is how log and alert timestamps are labelled.
const TimestampLayout = "2006-01-02 15:04:05"

// LogLevel is the severity of a log line.
type LogLevel string

const (
	LogError LogLevel = "error"
	LogWarn  LogLevel = "warn"
	LogInfo  LogLevel = "info"
	LogDebug LogLevel = "debug"
)

// ParseLogLevel normalises s. Empty and "all" yield ("", true): no filter.
func ParseLogLevel(s string) (LogLevel, bool) {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case "", "all":
		return "", true
	case "error", "warn", "info", "debug":
		return LogLevel(v), true
	}
	return "", false
}

// LogEntry is one line in the log ring buffer. Entries are immutable once
// appended; ID increases with insertion order.
type LogEntry struct {
	ID             uint64   `json:"id" yaml:"-"`
	ContainerID    string   `json:"container" yaml:"container"`
	TimestampLabel string   `json:"timestamp" yaml:"timestamp"`
	Level          LogLevel `json:"level" yaml:"level"`
	Message        string   `json:"message" yaml:"message"`
}

// LogFilter selects log entries. Zero-valued fields do not filter.
type LogFilter struct {
	ContainerID string
	Level       string
	Search      string
}
