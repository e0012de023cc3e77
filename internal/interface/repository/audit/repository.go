// Package audit implements the per-request audit log: one line per
// served request, appended, timestamped in UTC.
package audit

import (
	"fmt"
	"os"
	"sync"
	"time"

	"forwardproxy/internal/domain"
)

// Repository is an append-only, line-oriented audit log matching
// `TIMESTAMP CLIENT "REQLINE" HOSTPORT ACTION STATUS BYTES`.
type Repository struct {
	mu   sync.Mutex
	file *os.File
}

var _ domain.AuditLogger = (*Repository)(nil)

// New opens path in append mode, creating it if necessary.
func New(path string) (*Repository, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &Repository{file: f}, nil
}

// Log formats and writes one line. A write failure is reported to
// stderr but never returned — the audit log is best-effort.
func (r *Repository) Log(rec *domain.RequestRecord) {
	line := fmt.Sprintf("%s %s %q %s %s %d %d\n",
		time.Now().UTC().Format("2006-01-02T15:04:05Z"),
		rec.ClientEndpoint,
		rec.RequestLine,
		rec.HostPort(),
		rec.Action,
		rec.Status,
		rec.BytesTransferred,
	)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.file.WriteString(line); err != nil {
		fmt.Fprintf(os.Stderr, "audit: write failed: %v\n", err)
	}
}

// Close releases the underlying file.
func (r *Repository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Close()
}
