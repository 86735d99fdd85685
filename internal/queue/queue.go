// Package queue selects outbound files, buffers frame data in both
// directions, and commits received data under counter-based names.
//
// The send, backup and receive directories and the counter file are shared by
// every queue in the process. Queues on the same directories coordinate
// through an in-process lock; separate processes sharing a directory set are
// not coordinated.
package queue

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

var (
	ErrFileMissing       = errors.New("queue: no file to send")
	ErrEmptyOrUnreadable = errors.New("queue: file empty or unreadable")
	ErrFileTooLarge      = errors.New("queue: file exceeds buffer capacity")
	ErrBufferFull        = errors.New("queue: receive buffer full")
)

// RescanInterval bounds how long a watched, unchanged send directory may go
// without a full scan.
const RescanInterval = 30 * time.Second

// Queue is the per-connection file state. It is not safe for concurrent use;
// one engine owns it.
type Queue struct {
	cfg     Config
	send    *sendSet
	buf     []byte
	n       int
	current string

	lastEmpty bool
	lastScan  time.Time
	scanGen   uint64
}

func New(cfg Config) (*Queue, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Queue{
		cfg:  cfg,
		send: sendSetFor(cfg.SendDir),
		buf:  make([]byte, cfg.Capacity),
	}, nil
}

func (q *Queue) Config() Config {
	return q.cfg
}

// HasFileToSend looks one level deep in the send directory for the first
// regular file (by name) matching the mask and not claimed by another queue.
// The file found becomes current and claimed by q.
func (q *Queue) HasFileToSend() bool {
	s := q.send
	s.mu.Lock()
	defer s.mu.Unlock()

	s.release(q)
	q.current = ""

	gen := s.gen.Load()
	if s.watching.Load() > 0 && q.lastEmpty && gen == q.scanGen && time.Since(q.lastScan) < RescanInterval {
		return false
	}
	q.scanGen = gen
	q.lastScan = time.Now()

	entries, err := os.ReadDir(q.cfg.SendDir)
	if err != nil {
		log.Debug().Err(err).Str("dir", q.cfg.SendDir).Msg("queue.HasFileToSend scan failed")
		q.lastEmpty = true
		return false
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		if ok, _ := filepath.Match(q.cfg.Mask, name); !ok {
			continue
		}
		if owner, claimed := s.claims[name]; claimed && owner != q {
			continue
		}
		s.claims[name] = q
		q.current = filepath.Join(q.cfg.SendDir, name)
		q.lastEmpty = false
		return true
	}
	q.lastEmpty = true
	return false
}

// Current is the path chosen by the last HasFileToSend, or "".
func (q *Queue) Current() string {
	return q.current
}

// ReadCurrentFile loads the current file into the buffer.
func (q *Queue) ReadCurrentFile() (int, error) {
	q.n = 0
	if q.current == "" {
		return 0, ErrFileMissing
	}
	f, err := os.Open(q.current)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s", ErrFileMissing, q.current)
		}
		return 0, fmt.Errorf("%w: %v", ErrEmptyOrUnreadable, err)
	}
	defer f.Close()

	n, err := io.ReadFull(f, q.buf)
	switch {
	case err == nil:
		var probe [1]byte
		if m, _ := f.Read(probe[:]); m > 0 {
			return 0, fmt.Errorf("%w: %s (capacity %d)", ErrFileTooLarge, q.current, len(q.buf))
		}
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
	default:
		return 0, fmt.Errorf("%w: %v", ErrEmptyOrUnreadable, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrEmptyOrUnreadable, q.current)
	}
	q.n = n
	return n, nil
}

// Buffer is the data of the last successful read, or the bytes received so
// far in the current receive phase.
func (q *Queue) Buffer() []byte {
	return q.buf[:q.n]
}

func (q *Queue) Capacity() int {
	return len(q.buf)
}

// BeginReceive resets the accumulation offset for a new receive phase.
func (q *Queue) BeginReceive() {
	q.n = 0
}

// AppendFrame adds one frame payload to the receive buffer.
func (q *Queue) AppendFrame(p []byte) error {
	if q.n+len(p) > len(q.buf) {
		return fmt.Errorf("%w: %d+%d > %d", ErrBufferFull, q.n, len(p), len(q.buf))
	}
	q.n += copy(q.buf[q.n:], p)
	return nil
}

// CommitReceivedFile writes the receive buffer to a new file named from the
// persisted counter, then advances the counter. It returns the file path.
func (q *Queue) CommitReceivedFile() (string, error) {
	counterPath := q.cfg.counterPath()
	mu := counterLockFor(counterPath)
	mu.Lock()
	defer mu.Unlock()

	counter := readCounter(counterPath)
	name := fmt.Sprintf(q.cfg.NamePattern, counter)
	if err := os.MkdirAll(q.cfg.ReceiveDir, 0o755); err != nil {
		return "", fmt.Errorf("queue: receive dir: %w", err)
	}
	dest := filepath.Join(q.cfg.ReceiveDir, name)
	data := q.Buffer()
	if err := writeFileAtomic(dest, data); err != nil {
		return "", fmt.Errorf("queue: write %s: %w", dest, err)
	}
	if err := writeFileAtomic(counterPath, []byte(strconv.FormatUint(counter+1, 10))); err != nil {
		return dest, fmt.Errorf("queue: persist counter %s: %w", counterPath, err)
	}

	log.Info().
		Str("file", dest).
		Int("bytes", len(data)).
		Uint64("counter", counter).
		Str("mime", mimetype.Detect(data).String()).
		Msg("queue.CommitReceivedFile committed")
	return dest, nil
}

// ArchiveSentFile moves the current file into the backup directory,
// replacing any file of the same name there.
func (q *Queue) ArchiveSentFile() (string, error) {
	s := q.send
	s.mu.Lock()
	defer s.mu.Unlock()

	if q.current == "" {
		return "", ErrFileMissing
	}
	if err := os.MkdirAll(q.cfg.BackupDir, 0o755); err != nil {
		return "", fmt.Errorf("queue: backup dir: %w", err)
	}
	dest := filepath.Join(q.cfg.BackupDir, filepath.Base(q.current))
	if err := moveFile(q.current, dest); err != nil {
		return "", fmt.Errorf("queue: archive %s: %w", q.current, err)
	}
	s.release(q)
	q.current = ""
	return dest, nil
}

// Close drops any claim q holds.
func (q *Queue) Close() {
	s := q.send
	s.mu.Lock()
	defer s.mu.Unlock()
	s.release(q)
	q.current = ""
}

func readCounter(path string) uint64 {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 1
	}
	v, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 1
	}
	return v
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".enqlink-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// moveFile renames src to dst, copying across filesystems when needed.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(dst, data); err != nil {
		return err
	}
	return os.Remove(src)
}
