// Package latency records one line per completed request/response cycle.
//
// A log is a semicolon-delimited, CRLF-terminated text file with a header
// line naming the five fields in the role's order. Durations are whole
// microseconds and sizes are bytes. Lines from concurrent sessions never
// interleave: each record is written and flushed under the sink's mutex.
package latency

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pzverkov/pqtls-bench/internal/constants"
	qerrors "github.com/pzverkov/pqtls-bench/internal/errors"
)

// Role selects the field order of a log.
type Role string

const (
	RoleServer Role = "server"
	RoleClient Role = "client"
)

// Header returns the header line of the role's log, without line ending.
func (r Role) Header() string {
	if r == RoleClient {
		return constants.ClientLogHeader
	}
	return constants.ServerLogHeader
}

// Record is one completed cycle. Fields are in the order they are written.
type Record struct {
	Handshake time.Duration
	Size1     int
	Duration1 time.Duration
	Size2     int
	Duration2 time.Duration
}

// ServerRecord builds a record in server order: receive, then write.
func ServerRecord(hs time.Duration, recvSize int, recvDur time.Duration, writeSize int, writeDur time.Duration) Record {
	return Record{Handshake: hs, Size1: recvSize, Duration1: recvDur, Size2: writeSize, Duration2: writeDur}
}

// ClientRecord builds a record in client order: write, then receive.
func ClientRecord(hs time.Duration, writeSize int, writeDur time.Duration, recvSize int, recvDur time.Duration) Record {
	return Record{Handshake: hs, Size1: writeSize, Duration1: writeDur, Size2: recvSize, Duration2: recvDur}
}

// Line formats the record without line ending.
func (r Record) Line() string {
	return fmt.Sprintf("%d;%d;%d;%d;%d",
		r.Handshake.Microseconds(), r.Size1, r.Duration1.Microseconds(), r.Size2, r.Duration2.Microseconds())
}

// Recorder accepts completed cycles. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Record(Record) error
}

// Sink is a file-backed Recorder.
type Sink struct {
	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	path string
}

// FileName returns the log file name for a role and process start time.
func FileName(role Role, start time.Time) string {
	return fmt.Sprintf("%s_log_%s.csv", start.Format(constants.LogTimeLayout), role)
}

// Open creates the role's log in dir and writes its header. Failure is a
// log-sink error, which is fatal to the process.
func Open(dir string, role Role, start time.Time) (*Sink, error) {
	path := filepath.Join(dir, FileName(role, start))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644) //nolint:gosec // operator supplied directory
	if err != nil {
		return nil, qerrors.LogSink(fmt.Errorf("latency: open %s: %w", path, err))
	}

	s := &Sink{f: f, w: bufio.NewWriter(f), path: path}
	if err := s.writeLine(role.Header()); err != nil {
		_ = f.Close()
		return nil, qerrors.LogSink(fmt.Errorf("latency: write header: %w", err))
	}
	return s, nil
}

// Path returns the file path of the log.
func (s *Sink) Path() string {
	return s.path
}

// Record appends one line and flushes it.
func (s *Sink) Record(r Record) error {
	return s.writeLine(r.Line())
}

func (s *Sink) writeLine(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return os.ErrClosed
	}
	if _, err := s.w.WriteString(line + constants.LogLineEnding); err != nil {
		return err
	}
	return s.w.Flush()
}

// Close flushes and syncs the log. Closing twice is a no-op.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	f := s.f
	s.f = nil

	if err := s.w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Discard closes the log and removes its file. Used when the run fails
// before any cycle could be recorded.
func (s *Sink) Discard() error {
	s.mu.Lock()
	f := s.f
	s.f = nil
	s.mu.Unlock()

	var cerr error
	if f != nil {
		cerr = f.Close()
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return errors.Join(cerr, err)
	}
	return cerr
}

// Memory is an in-memory Recorder.
type Memory struct {
	mu      sync.Mutex
	records []Record
}

// NewMemory creates an empty in-memory recorder.
func NewMemory() *Memory {
	return &Memory{}
}

// Record stores r.
func (m *Memory) Record(r Record) error {
	m.mu.Lock()
	m.records = append(m.records, r)
	m.mu.Unlock()
	return nil
}

// Records returns a copy of the stored records.
func (m *Memory) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}

// Len returns the number of stored records.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
