package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sultanovich/prtguard/pkg/rules"
)

// RunLog is the append-only log artifact of one audit run. Every line is
// timestamped and sanitized before it is written. Writes are synchronized
// so concurrent repository workers can share one log.
type RunLog struct {
	mu    sync.Mutex
	file  *os.File
	path  string
	debug bool
}

// LogFileName derives the deterministic artifact name from the run's
// target and start time.
func LogFileName(target string, start time.Time) string {
	name := strings.ReplaceAll(target, "/", "_")
	return fmt.Sprintf("scan-%s-%s.log", name, start.Format("20060102-150405"))
}

// OpenRunLog creates the output directory if needed and opens the run's
// log artifact for appending.
func OpenRunLog(dir, target string, start time.Time, debug bool) (*RunLog, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	path := filepath.Join(dir, LogFileName(target, start))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return &RunLog{file: file, path: path, debug: debug}, nil
}

// Path returns the location of the log artifact.
func (l *RunLog) Path() string {
	return l.path
}

// Close flushes and closes the artifact.
func (l *RunLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

func (l *RunLog) write(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.file, "%s - %s - %s\n",
		time.Now().Format("2006-01-02 15:04:05"), level, Sanitize(msg))
}

// Infof records an informational entry.
func (l *RunLog) Infof(format string, args ...interface{}) {
	l.write("INFO", fmt.Sprintf(format, args...))
}

// Warnf records a warning entry.
func (l *RunLog) Warnf(format string, args ...interface{}) {
	l.write("WARNING", fmt.Sprintf(format, args...))
}

// Errorf records an error entry.
func (l *RunLog) Errorf(format string, args ...interface{}) {
	l.write("ERROR", fmt.Sprintf(format, args...))
}

// Debugf records a verbose entry when debug mode is on.
func (l *RunLog) Debugf(format string, args ...interface{}) {
	if !l.debug {
		return
	}
	l.write("DEBUG", fmt.Sprintf(format, args...))
}

// Finding records one structured finding entry.
func (l *RunLog) Finding(f rules.Finding) {
	data, err := json.Marshal(f)
	if err != nil {
		l.Errorf("failed to encode finding for %s: %v", f.Repository, err)
		return
	}
	l.write("FINDING", string(data))
}

// RepoError records one structured per-repository error entry.
func (l *RunLog) RepoError(e RepoError) {
	data, err := json.Marshal(e)
	if err != nil {
		l.Errorf("failed to encode error for %s: %v", e.Repository, err)
		return
	}
	l.write("REPO_ERROR", string(data))
}
