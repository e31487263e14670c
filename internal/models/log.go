package models

import "time"

type LogLevel string

const (
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// LogEntry is one line of the session log. Entries are append-only within a
// session; ordering is arrival order.
type LogEntry struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
}
