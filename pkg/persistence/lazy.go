package persistence

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("result log closed")

// LazyWriter batches frames in memory and hands them to a LogWriter on a
// timer or when the batch is full. At most ForceSyncInterval worth of
// results can be lost on a crash; Close flushes and syncs everything.
type LazyWriter struct {
	underlying *LogWriter

	mu      sync.Mutex
	pending []Record
	stopped bool

	flushTicker *time.Ticker
	syncTicker  *time.Ticker
	stopCh      chan struct{}
	wg          sync.WaitGroup

	maxPending int
}

const (
	// DefaultFlushInterval is the time between batch flushes.
	DefaultFlushInterval = 100 * time.Millisecond
	// DefaultForceSyncInterval is the time between fsyncs.
	DefaultForceSyncInterval = 1 * time.Second
	// DefaultMaxPending triggers an early flush.
	DefaultMaxPending = 1000
)

// NewLazyWriter wraps underlying with the default intervals.
func NewLazyWriter(underlying *LogWriter) *LazyWriter {
	return NewLazyWriterWithConfig(underlying, DefaultFlushInterval, DefaultForceSyncInterval, DefaultMaxPending)
}

// NewLazyWriterWithConfig wraps underlying. The underlying writer must not be
// used directly afterwards.
func NewLazyWriterWithConfig(underlying *LogWriter, flushInterval, forceSyncInterval time.Duration, maxPending int) *LazyWriter {
	lw := &LazyWriter{
		underlying:  underlying,
		pending:     make([]Record, 0, maxPending),
		flushTicker: time.NewTicker(flushInterval),
		syncTicker:  time.NewTicker(forceSyncInterval),
		stopCh:      make(chan struct{}),
		maxPending:  maxPending,
	}
	lw.wg.Add(1)
	go lw.loop()

	slog.Debug("[PERSISTENCE] lazy result log started",
		"path", underlying.Path(),
		"flush_interval", flushInterval,
		"sync_interval", forceSyncInterval,
		"max_pending", maxPending,
	)
	return lw
}

// WriteFrame queues a frame. It does not block on disk I/O unless the batch
// is full.
func (lw *LazyWriter) WriteFrame(op byte, payload []byte) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if lw.stopped {
		return ErrClosed
	}
	lw.pending = append(lw.pending, Record{Op: op, Payload: payload})
	if len(lw.pending) >= lw.maxPending {
		return lw.flushLocked()
	}
	return nil
}

// Flush hands every queued frame to the underlying writer.
func (lw *LazyWriter) Flush() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.flushLocked()
}

func (lw *LazyWriter) flushLocked() error {
	if len(lw.pending) == 0 {
		return nil
	}
	for _, r := range lw.pending {
		if err := lw.underlying.WriteFrame(r.Op, r.Payload); err != nil {
			return fmt.Errorf("failed to write result frame: %w", err)
		}
	}
	if err := lw.underlying.Flush(); err != nil {
		return fmt.Errorf("failed to flush result log: %w", err)
	}
	lw.pending = lw.pending[:0]
	return nil
}

// Sync flushes and fsyncs.
func (lw *LazyWriter) Sync() error {
	lw.mu.Lock()
	defer lw.mu.Unlock()

	if err := lw.flushLocked(); err != nil {
		return err
	}
	return lw.underlying.Sync()
}

// Close stops the background loop, flushes, syncs and closes the file.
func (lw *LazyWriter) Close() error {
	lw.mu.Lock()
	if lw.stopped {
		lw.mu.Unlock()
		return ErrClosed
	}
	lw.stopped = true
	lw.mu.Unlock()

	close(lw.stopCh)
	lw.wg.Wait()
	lw.flushTicker.Stop()
	lw.syncTicker.Stop()

	lw.mu.Lock()
	defer lw.mu.Unlock()
	if err := lw.flushLocked(); err != nil {
		slog.Error("[PERSISTENCE] final flush failed", "error", err)
	}
	if err := lw.underlying.Sync(); err != nil {
		slog.Error("[PERSISTENCE] final sync failed", "error", err)
	}
	return lw.underlying.Close()
}

// Path returns the file path.
func (lw *LazyWriter) Path() string {
	return lw.underlying.Path()
}

func (lw *LazyWriter) loop() {
	defer lw.wg.Done()
	for {
		select {
		case <-lw.flushTicker.C:
			if err := lw.Flush(); err != nil {
				slog.Error("[PERSISTENCE] periodic flush failed", "error", err)
			}
		case <-lw.syncTicker.C:
			if err := lw.Sync(); err != nil {
				slog.Error("[PERSISTENCE] periodic sync failed", "error", err)
			}
		case <-lw.stopCh:
			return
		}
	}
}
