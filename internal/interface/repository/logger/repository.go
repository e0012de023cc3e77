// Package logger implements the process-lifecycle application log —
// startup, shutdown, and subsystem errors/warnings. Like the per-request
// audit log it has no rotation and no path discovery, just an
// append-only file behind its own mutex.
package logger

import (
	"fmt"
	"os"
	"sync"

	"forwardproxy/internal/domain"
)

// Repository is a mutex-guarded, append-only application log.
type Repository struct {
	mu   sync.Mutex
	file *os.File
}

var _ domain.Logger = (*Repository)(nil)

// New opens path in append mode, creating it if necessary.
func New(path string) (*Repository, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &Repository{file: file}, nil
}

// Info records an INFO-level entry.
func (r *Repository) Info(msg string, fields map[string]interface{}) {
	r.log(NewEntry(INFO, msg, nil, fields))
}

// Error records an ERROR-level entry.
func (r *Repository) Error(msg string, err error, fields map[string]interface{}) {
	r.log(NewEntry(ERROR, msg, err, fields))
}

// Debug records a DEBUG-level entry.
func (r *Repository) Debug(msg string, fields map[string]interface{}) {
	r.log(NewEntry(DEBUG, msg, nil, fields))
}

func (r *Repository) log(entry *Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.file.WriteString(entry.Format()); err != nil {
		fmt.Fprintf(os.Stderr, "logger: write failed: %v\n", err)
	}
}

// Close releases the underlying file.
func (r *Repository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Close()
}
