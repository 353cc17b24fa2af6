package mobile

import "github.com/charmbracelet/log"

// LogEntry is one step of a deployment run.
type LogEntry struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// runLog collects the steps of a single invocation.
type runLog struct {
	logger  *log.Logger
	entries []LogEntry
}

func newRunLog(logger *log.Logger) *runLog {
	return &runLog{logger: logger}
}

func (r *runLog) info(msg string) {
	r.entries = append(r.entries, LogEntry{Type: "info", Message: msg})
	r.logger.Info(msg)
}

func (r *runLog) success(msg string) {
	r.entries = append(r.entries, LogEntry{Type: "success", Message: msg})
	r.logger.Info(msg)
}

func (r *runLog) error(msg string) {
	r.entries = append(r.entries, LogEntry{Type: "error", Message: msg})
	r.logger.Error(msg)
}

// fail attaches the collected entries to f.
func (r *runLog) fail(f *Failure) *Failure {
	f.Logs = append([]LogEntry(nil), r.entries...)
	return f
}
