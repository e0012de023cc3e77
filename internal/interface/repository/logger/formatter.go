package logger

import (
	"encoding/json"
	"fmt"
	"time"
)

// Level is the severity of an application log entry.
type Level string

const (
	DEBUG Level = "DEBUG"
	INFO  Level = "INFO"
	ERROR Level = "ERROR"
)

// Entry is one application log line before formatting.
type Entry struct {
	Timestamp time.Time
	Level     Level
	Message   string
	Error     string
	Fields    map[string]interface{}
}

// Format renders the entry as `[timestamp] LEVEL message fields={...} error=...`.
func (e *Entry) Format() string {
	line := fmt.Sprintf("[%s] %s %s", e.Timestamp.Format("2006/01/02 15:04:05.000"), e.Level, e.Message)

	if len(e.Fields) > 0 {
		if encoded, err := json.Marshal(e.Fields); err == nil {
			line += " fields=" + string(encoded)
		}
	}
	if e.Error != "" {
		line += " error=" + e.Error
	}
	return line + "\n"
}

// NewEntry stamps the current time and captures err.Error() if non-nil.
func NewEntry(level Level, msg string, err error, fields map[string]interface{}) *Entry {
	e := &Entry{Timestamp: time.Now(), Level: level, Message: msg, Fields: fields}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}
