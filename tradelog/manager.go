// Package tradelog is the durable record of executions: two pre-allocated,
// memory-mapped files used as a double buffer, with a background loop that
// replaces the exhausted file while the writer continues on the other one.
package tradelog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/0x5487/matching-core/event"
	"github.com/0x5487/matching-core/protocol"
	"github.com/0x5487/matching-core/wait"
)

// DefaultRecordCapacity is the number of records per file.
const DefaultRecordCapacity = 1 << 20

const (
	filePrefix = "trades_"
	fileSuffix = ".log"
)

var (
	ErrClosed          = errors.New("tradelog: manager is closed")
	ErrInvalidCapacity = errors.New("tradelog: record capacity must be positive")
)

// Manager appends executions to the active file. Append must only be called
// from one goroutine; the rotation loop runs on its own.
type Manager struct {
	_      [56]byte
	active atomic.Uint32
	_      [56]byte

	files  [2]mappedFile
	rotate [2]*event.Managed

	dir      string
	fileSize uint64
	// next file number, owned by the rotation loop once Open returns
	seq uint64

	strategy     wait.Strategy
	retryDelay   time.Duration
	syncInterval time.Duration

	events    *event.Manager
	rotations atomic.Uint64
	closed    atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// Option configures a Manager.
type Option func(*config)

type config struct {
	recordCapacity uint64
	strategy       wait.Strategy
	retryDelay     time.Duration
	syncInterval   time.Duration
}

// WithRecordCapacity sets how many records fit in one file.
func WithRecordCapacity(n uint64) Option {
	return func(c *config) {
		c.recordCapacity = n
	}
}

// WithStrategy sets how the writer waits for a standby file. Defaults to
// wait.Spin.
func WithStrategy(s wait.Strategy) Option {
	return func(c *config) {
		c.strategy = s
	}
}

// WithRetryDelay sets the back-off before a failed rotation is retried.
func WithRetryDelay(d time.Duration) Option {
	return func(c *config) {
		c.retryDelay = d
	}
}

// WithSyncInterval enables a periodic blocking flush of both files.
func WithSyncInterval(d time.Duration) Option {
	return func(c *config) {
		c.syncInterval = d
	}
}

// Open prepares dir, maps two fresh files numbered after any already in dir,
// and starts the rotation loop.
func Open(dir string, opts ...Option) (*Manager, error) {
	cfg := config{
		recordCapacity: DefaultRecordCapacity,
		strategy:       wait.Spin{},
		retryDelay:     100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.recordCapacity == 0 {
		return nil, ErrInvalidCapacity
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("tradelog: create %s: %w", dir, err)
	}

	existing, err := listFiles(dir)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		dir:          dir,
		fileSize:     cfg.recordCapacity * protocol.RecordSize,
		strategy:     cfg.strategy,
		retryDelay:   cfg.retryDelay,
		syncInterval: cfg.syncInterval,
		events:       event.NewManager(),
		done:         make(chan struct{}),
	}
	if n := len(existing); n > 0 {
		m.seq = existing[n-1].seq + 1
	}

	for i := range m.files {
		if err := m.files[i].create(m.nextName(), m.fileSize); err != nil {
			_ = m.files[0].unmap()
			return nil, fmt.Errorf("tradelog: %w", err)
		}
		m.files[i].ready.Store(1)

		idx := i
		m.rotate[i] = m.events.AddManaged(fmt.Sprintf("rotate-%d", i), func() {
			m.rotateFile(idx)
		})
	}

	if m.syncInterval > 0 {
		m.events.AddTimer("sync", m.syncInterval, m.syncAll)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go func() {
		defer close(m.done)
		_ = m.events.Run(ctx)
	}()

	return m, nil
}

// Dir returns the directory holding the log files.
func (m *Manager) Dir() string {
	return m.dir
}

// Rotations returns how many files the rotation loop has replaced.
func (m *Manager) Rotations() uint64 {
	return m.rotations.Load()
}

// Append writes e to the active file and requests an asynchronous flush.
// When the active file is full it waits for the standby file, swaps, hands
// the full file to the rotation loop and retries.
func (m *Manager) Append(e *protocol.Execution) error {
	if m.closed.Load() {
		return ErrClosed
	}

	for {
		idx := m.active.Load()
		f := &m.files[idx]

		off := f.cursor.Load()
		end := off + protocol.RecordSize
		if end <= uint64(len(f.data)) {
			f.cursor.Store(end)
			e.PutRecord(f.data[off:end])
			if err := f.flushAsync(off, end); err != nil {
				return fmt.Errorf("tradelog: msync %s: %w", f.name, err)
			}
			appendsTotal.Inc()
			return nil
		}

		f.ready.Store(0)
		next := idx ^ 1
		if m.files[next].ready.Load() == 0 {
			writerStallsTotal.Inc()
			for m.files[next].ready.Load() == 0 {
				if m.closed.Load() {
					return ErrClosed
				}
				m.strategy.Wait()
			}
		}

		m.active.Store(next)
		m.rotate[idx].Trigger()
	}
}

// Close stops the rotation loop, flushes both files synchronously and unmaps
// them. The writer must have stopped calling Append.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}

	m.cancel()
	<-m.done

	var errs []error
	for i := range m.files {
		if err := m.files[i].sync(); err != nil {
			errs = append(errs, fmt.Errorf("tradelog: sync %s: %w", m.files[i].name, err))
		}
		if err := m.files[i].unmap(); err != nil {
			errs = append(errs, fmt.Errorf("tradelog: munmap %s: %w", m.files[i].name, err))
		}
	}
	return errors.Join(errs...)
}

// rotateFile runs on the rotation loop.
func (m *Manager) rotateFile(idx int) {
	f := &m.files[idx]
	if f.ready.Load() == 1 {
		return
	}

	old := f.name
	if err := f.sync(); err != nil {
		logger.Warn("trade log final sync failed", "file", old, "error", err)
	}
	if err := f.unmap(); err != nil {
		logger.Warn("trade log munmap failed", "file", old, "error", err)
	}

	name := m.nextName()
	if err := f.create(name, m.fileSize); err != nil {
		rotationFailuresTotal.Inc()
		logger.Error("trade log rotation failed", "file", name, "error", err, "retry_in", m.retryDelay)
		time.AfterFunc(m.retryDelay, m.rotate[idx].Trigger)
		return
	}

	f.ready.Store(1)
	m.strategy.Signal()
	m.rotations.Add(1)
	rotationsTotal.Inc()
	logger.Info("trade log rotated", "closed", old, "opened", name)
}

func (m *Manager) syncAll() {
	for i := range m.files {
		f := &m.files[i]
		if f.ready.Load() == 0 {
			continue
		}
		if err := f.sync(); err != nil {
			logger.Warn("trade log periodic sync failed", "file", f.name, "error", err)
		}
	}
}

func (m *Manager) nextName() string {
	name := filepath.Join(m.dir, fmt.Sprintf("%s%08d%s", filePrefix, m.seq, fileSuffix))
	m.seq++
	return name
}

type logFile struct {
	path string
	seq  uint64
}

// listFiles returns the log files in dir ordered by creation number.
func listFiles(dir string) ([]logFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("tradelog: read %s: %w", dir, err)
	}

	var files []logFile
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		seq, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix), 10, 64)
		if err != nil {
			continue
		}
		files = append(files, logFile{path: filepath.Join(dir, name), seq: seq})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].seq < files[j].seq
	})
	return files, nil
}
