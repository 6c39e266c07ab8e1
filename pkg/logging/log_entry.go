package logging

// LogEntry represents a structured log record with fields particularly relevant to pipeline runs.
type LogEntry struct {
	// Standard fields
	Time     int64
	Severity Severity
	Message  string
	File     string
	Line     int
	Function string

	// Pipeline-specific fields
	Study   string // Owning study identifier
	Domain  string // Data domain being processed
	Stage   string // Pipeline stage currently executing
	Attempt int    // Convergence attempt number, 0 outside the compare loop

	// General structured data
	Fields map[string]interface{}
}
