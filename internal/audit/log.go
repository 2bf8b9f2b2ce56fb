package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"
)

// maxLineSize bounds a single log line during replay.
const maxLineSize = 1 << 20

// Log is an open, verified audit file accepting appends.
//
// Thread-safety: Append, Head, and Close are safe for concurrent use.
type Log struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	size     int64
	nextID   int64
	lastHash string
	now      func() time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithClock overrides the timestamp source. Used by tests for
// deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		l.now = now
	}
}

// Open opens or creates the audit log at path, replays it, and verifies
// the whole chain. A missing file is created empty. Returns an error
// satisfying IsIntegrityError if the existing content is corrupt.
func Open(path string, opts ...Option) (*Log, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create audit directory: %w", err)
		}
	}

	entries, err := ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat audit log: %w", err)
	}

	l := &Log{
		path:     path,
		file:     f,
		size:     info.Size(),
		nextID:   1,
		lastHash: Genesis,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	// Replay: ids were verified contiguous, so the last entry carries
	// both the maximum id and the chain head.
	if n := len(entries); n > 0 {
		l.nextID = entries[n-1].ID + 1
		l.lastHash = entries[n-1].Checksum
	}

	slog.Debug("audit log opened", "path", path, "entries", len(entries), "next_id", l.nextID)
	return l, nil
}

// Append writes one entry and returns it. Details are NFC-normalized so
// that equivalent text always hashes identically.
//
// The id counter and chain head only advance once the line has been
// written; on failure any partial line is truncated away and the log
// stays consistent.
func (l *Log) Append(event, details string) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return Entry{}, fmt.Errorf("audit log %s is closed", l.path)
	}

	e := Entry{
		ID:               l.nextID,
		Timestamp:        l.now().UnixMilli(),
		Event:            norm.NFC.String(event),
		Details:          norm.NFC.String(details),
		PreviousChecksum: l.lastHash,
	}
	e.Checksum = Checksum(e.ID, e.Timestamp, e.Event, e.Details, e.PreviousChecksum)

	line, err := encodeLine(e)
	if err != nil {
		return Entry{}, fmt.Errorf("encode audit entry: %w", err)
	}

	n, err := l.file.Write(line)
	if err != nil {
		if n > 0 {
			if terr := l.file.Truncate(l.size); terr != nil {
				slog.Error("failed to truncate partial audit line", "path", l.path, "error", terr)
			}
		}
		return Entry{}, fmt.Errorf("write audit entry: %w", err)
	}

	l.size += int64(n)
	l.nextID++
	l.lastHash = e.Checksum
	return e, nil
}

// Head returns the next id to be allocated and the current chain head.
func (l *Log) Head() (nextID int64, lastChecksum string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nextID, l.lastHash
}

// Path returns the file backing the log.
func (l *Log) Path() string {
	return l.path
}

// Entries re-reads the log file from disk.
func (l *Log) Entries() ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return ReadFile(l.path)
}

// Close syncs and closes the file. Further appends fail.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	syncErr := l.file.Sync()
	closeErr := l.file.Close()
	l.file = nil
	if syncErr != nil {
		return fmt.Errorf("sync audit log: %w", syncErr)
	}
	return closeErr
}

// ReadFile loads and verifies every entry in the file at path.
// Blank lines are ignored. The returned error wraps fs.ErrNotExist
// when the file is missing.
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	entries, lines, err := decode(f)
	if err != nil {
		return nil, err
	}
	if err := verifyChain(entries, lines); err != nil {
		return nil, err
	}
	return entries, nil
}

// VerifyFile checks the file at path and returns the number of entries.
func VerifyFile(path string) (int, error) {
	entries, err := ReadFile(path)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

func decode(r io.Reader) ([]Entry, []int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	entries := make([]Entry, 0, 64)
	lines := make([]int, 0, 64)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, nil, &IntegrityError{Line: lineNo, Reason: "malformed entry", Err: err}
		}
		entries = append(entries, e)
		lines = append(lines, lineNo)
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, &IntegrityError{Line: lineNo + 1, Reason: "unreadable line", Err: err}
	}
	return entries, lines, nil
}

func encodeLine(e Entry) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(e); err != nil {
		return nil, err
	}
	// Encode terminates with '\n', giving exactly one line per entry.
	return buf.Bytes(), nil
}
