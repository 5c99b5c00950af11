// Package audit records authorization decisions and security violations.
// Entries are buffered in memory so callers never block on disk, and flushed
// as JSONL batches either when the buffer fills or an idle timer elapses.
// Security violations are the exception: they flush synchronously with the
// decision and are never dropped.
package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Recorder is the surface components depend on.
type Recorder interface {
	// Record buffers an audit entry.
	Record(entry Entry)
	// RecordViolation durably records a security violation.
	RecordViolation(v Violation)
}

// Config configures the audit log.
type Config struct {
	// Dir is the directory holding the daily JSONL files.
	Dir string
	// BufferSize triggers a flush when the buffer reaches it.
	BufferSize int
	// FlushInterval triggers a flush after idle time.
	FlushInterval time.Duration
	// RecentLimit caps the in-memory diagnostic view.
	RecentLimit int
}

// Log is the batched audit logger.
type Log struct {
	cfg      Config
	logger   *slog.Logger
	security *slog.Logger

	mu         sync.Mutex
	buf        []Entry
	recent     []Entry
	violations []Violation
	prevHash   string

	flushCh chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
	closed  bool
	now     func() time.Time
}

// New creates an audit log and starts its flush loop. security receives the
// loud, immediately visible diagnostics for violations.
func New(cfg Config, logger, security *slog.Logger) *Log {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 50
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = 256
	}
	l := &Log{
		cfg:      cfg,
		logger:   logger,
		security: security,
		flushCh:  make(chan struct{}, 1),
		done:     make(chan struct{}),
		now:      time.Now,
	}
	l.wg.Add(1)
	go l.flushLoop()
	return l
}

// Record appends an entry to the buffer. It never performs I/O; a full
// buffer only signals the flush loop.
func (l *Log) Record(entry Entry) {
	l.mu.Lock()
	l.appendLocked(entry)
	full := len(l.buf) >= l.cfg.BufferSize
	l.mu.Unlock()

	if full {
		select {
		case l.flushCh <- struct{}{}:
		default:
		}
	}
}

// RecordViolation records a security violation synchronously with the
// decision: the entry is hashed, flushed to disk before returning, and the
// loud diagnostic is emitted. A flush failure keeps the batch queued for the
// background loop; the violation is never discarded.
func (l *Log) RecordViolation(v Violation) {
	if v.Timestamp.IsZero() {
		v.Timestamp = l.now()
	}

	if l.security != nil {
		l.security.Error("SECURITY VIOLATION",
			"violation_type", v.Type,
			"attempted_tool", v.AttemptedTool,
			"run_id", v.RunID,
			"procedure_id", v.ProcedureID,
			"message", v.Message,
		)
	}

	l.mu.Lock()
	l.violations = append(l.violations, v)
	if len(l.violations) > l.cfg.RecentLimit {
		l.violations = l.violations[len(l.violations)-l.cfg.RecentLimit:]
	}
	l.appendLocked(Entry{
		Timestamp:   v.Timestamp,
		Type:        TypeViolation,
		Severity:    SeverityCritical,
		Tool:        v.AttemptedTool,
		ProcedureID: v.ProcedureID,
		RunID:       v.RunID,
		Result:      "deny",
		Message:     v.Message,
		Metadata:    map[string]any{"violation_type": v.Type},
	})
	err := l.flushLocked()
	l.mu.Unlock()

	if err != nil && l.logger != nil {
		l.logger.Error("violation flush failed, batch requeued", "error", err)
	}
}

// SecurityViolations returns up to limit of the most recent violations.
func (l *Log) SecurityViolations(limit int) []Violation {
	l.mu.Lock()
	defer l.mu.Unlock()
	return tail(l.violations, limit)
}

// Recent returns up to limit recent entries matching filter. It reflects the
// in-memory view only; the full history lives in the JSONL files.
func (l *Log) Recent(limit int, filter func(Entry) bool) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var matched []Entry
	for _, entry := range l.recent {
		if filter == nil || filter(entry) {
			matched = append(matched, entry)
		}
	}
	return tail(matched, limit)
}

// Close flushes the remaining buffer and stops the loop.
func (l *Log) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	close(l.done)
	l.wg.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flushLocked()
}

func (l *Log) appendLocked(entry Entry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now()
	}
	if entry.Severity == "" {
		entry.Severity = SeverityInfo
	}

	hash, err := recordHash(entry, l.prevHash)
	if err == nil {
		entry.PrevHash = l.prevHash
		entry.RecordHash = hash
		l.prevHash = hash
	} else if l.logger != nil {
		l.logger.Warn("audit record hash failed", "error", err)
	}

	l.buf = append(l.buf, entry)
	l.recent = append(l.recent, entry)
	if len(l.recent) > l.cfg.RecentLimit {
		l.recent = l.recent[len(l.recent)-l.cfg.RecentLimit:]
	}
}

func (l *Log) flushLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
		case <-l.flushCh:
		}
		l.mu.Lock()
		err := l.flushLocked()
		l.mu.Unlock()
		if err != nil && l.logger != nil {
			l.logger.Error("audit flush failed, batch requeued", "error", err)
		}
	}
}

// flushLocked writes the buffered batch to the current day's file. On a
// mid-batch failure only the unwritten tail stays queued for the next
// attempt; entries already on disk are never re-written.
func (l *Log) flushLocked() error {
	if len(l.buf) == 0 {
		return nil
	}
	if err := os.MkdirAll(l.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}

	name := fmt.Sprintf("audit-%s.jsonl", l.now().UTC().Format("2006-01-02"))
	path := filepath.Join(l.cfg.Dir, name)
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	defer file.Close()

	written := 0
	for _, entry := range l.buf {
		line, err := json.Marshal(entry)
		if err != nil {
			l.buf = l.buf[written:]
			return fmt.Errorf("encode audit entry: %w", err)
		}
		if _, err := file.Write(append(line, '\n')); err != nil {
			l.buf = l.buf[written:]
			return fmt.Errorf("write audit entry: %w", err)
		}
		written++
	}
	l.buf = l.buf[:0]
	return nil
}

func tail[T any](items []T, limit int) []T {
	if limit <= 0 || limit >= len(items) {
		return append([]T(nil), items...)
	}
	return append([]T(nil), items[len(items)-limit:]...)
}
