package domain

// Logger carries process-lifecycle events — startup, shutdown, subsystem
// errors — distinct from the per-request AuditLogger.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, err error, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})
}
