// Package journal appends translation outcomes to date-partitioned JSONL
// files. Writes are queued and never block the caller.
package journal

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultBuffer    = 256
	defaultMaxSizeMB = 50
	drainTimeout     = 5 * time.Second
	fileName         = "translations.jsonl"
)

var (
	ErrClosed     = errors.New("journal: closed")
	ErrBufferFull = errors.New("journal: buffer full")
)

// Outcome classifies how a translation request ended.
type Outcome string

const (
	OutcomeApplied    Outcome = "applied"
	OutcomeCancelled  Outcome = "cancelled"
	OutcomeSuperseded Outcome = "superseded"
	OutcomeFailed     Outcome = "failed"
)

// Entry is one line of the journal.
type Entry struct {
	Time       time.Time `json:"time"`
	TabID      string    `json:"tab_id"`
	VideoID    string    `json:"video_id"`
	Outcome    Outcome   `json:"outcome"`
	TaskID     string    `json:"task_id,omitempty"`
	Title      string    `json:"title,omitempty"`
	Segments   int       `json:"segments,omitempty"`
	SourceType string    `json:"source_type,omitempty"`
	Cached     bool      `json:"cached,omitempty"`
	Code       string    `json:"code,omitempty"`
	Message    string    `json:"message,omitempty"`
	DurationMS int64     `json:"duration_ms"`
}

// Writer owns one background goroutine that appends entries to
// <dir>/<YYYY-MM-DD>/translations.jsonl, switching files when the UTC date
// changes.
type Writer struct {
	dir       string
	maxSizeMB int
	now       func() time.Time

	entries   chan Entry
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	mu          sync.Mutex
	currentDate string
	out         *lumberjack.Logger
}

func NewWriter(dir string, buffer, maxSizeMB int) *Writer {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if maxSizeMB <= 0 {
		maxSizeMB = defaultMaxSizeMB
	}
	w := &Writer{
		dir:       dir,
		maxSizeMB: maxSizeMB,
		now:       time.Now,
		entries:   make(chan Entry, buffer),
		done:      make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w
}

// Record queues e. A full buffer drops the entry.
func (w *Writer) Record(e Entry) error {
	if w == nil {
		return nil
	}
	if e.Time.IsZero() {
		e.Time = w.now().UTC()
	}
	select {
	case <-w.done:
		return ErrClosed
	default:
	}
	select {
	case w.entries <- e:
		return nil
	default:
		slog.Warn("journal buffer full, dropping entry", "video_id", e.VideoID, "outcome", e.Outcome)
		return ErrBufferFull
	}
}

// Close flushes queued entries and closes the current file.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		w.wg.Wait()

		w.mu.Lock()
		defer w.mu.Unlock()
		if w.out != nil {
			err = w.out.Close()
			w.out = nil
		}
	})
	return err
}

func (w *Writer) loop() {
	defer w.wg.Done()
	for {
		select {
		case e := <-w.entries:
			w.write(e)
		case <-w.done:
			w.drain()
			return
		}
	}
}

func (w *Writer) drain() {
	timeout := time.After(drainTimeout)
	for {
		select {
		case e := <-w.entries:
			w.write(e)
		case <-timeout:
			slog.Warn("journal close timed out, entries may be lost", "pending", len(w.entries))
			return
		default:
			return
		}
	}
}

func (w *Writer) write(e Entry) {
	data, err := json.Marshal(e)
	if err != nil {
		slog.Error("journal marshal failed", "error", err)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if date := e.Time.UTC().Format("2006-01-02"); date != w.currentDate || w.out == nil {
		if !w.openForDate(date) {
			return
		}
	}
	if _, err := w.out.Write(append(data, '\n')); err != nil {
		slog.Error("journal write failed", "error", err)
	}
}

func (w *Writer) openForDate(date string) bool {
	if w.out != nil {
		_ = w.out.Close()
		w.out = nil
	}
	dir := filepath.Join(w.dir, date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Error("journal dir create failed", "dir", dir, "error", err)
		return false
	}
	w.out = &lumberjack.Logger{
		Filename:   filepath.Join(dir, fileName),
		MaxSize:    w.maxSizeMB,
		MaxBackups: 10,
		MaxAge:     30,
	}
	w.currentDate = date
	slog.Debug("journal file opened", "file", w.out.Filename)
	return true
}
