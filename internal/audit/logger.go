package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Logger buffers audit entries and writes them to a Store asynchronously.
// Writes are best-effort: store failures are logged and swallowed so that
// auditing never fails a routing turn.
type Logger struct {
	store  Store
	logger *slog.Logger
	buffer chan *Entry
	done   chan struct{}
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// LoggerConfig configures the async audit logger.
type LoggerConfig struct {
	// BufferSize is the channel capacity before writes become synchronous.
	// Default: 1000.
	BufferSize int

	// FlushInterval bounds how long entries sit in the buffer. Default: 5s.
	FlushInterval time.Duration

	Logger *slog.Logger
}

// NewLogger starts the async writer over the given store.
func NewLogger(store Store, cfg LoggerConfig) *Logger {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	l := &Logger{
		store:  store,
		logger: logger.With("component", "audit"),
		buffer: make(chan *Entry, cfg.BufferSize),
		done:   make(chan struct{}),
	}
	l.wg.Add(1)
	go l.writeLoop(cfg.FlushInterval)
	return l
}

// Record queues an entry for persistence. Never blocks the caller: when
// the buffer is full the entry is written inline.
func (l *Logger) Record(ctx context.Context, entry *Entry) {
	if entry == nil {
		return
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	select {
	case l.buffer <- entry:
	default:
		l.write(entry)
	}
}

// Close drains the buffer and stops the writer.
func (l *Logger) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		l.wg.Wait()
	})
	return l.store.Close()
}

func (l *Logger) writeLoop(flushInterval time.Duration) {
	defer l.wg.Done()
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case entry := <-l.buffer:
			l.write(entry)
		case <-ticker.C:
			l.drain()
		case <-l.done:
			l.drain()
			return
		}
	}
}

func (l *Logger) drain() {
	for {
		select {
		case entry := <-l.buffer:
			l.write(entry)
		default:
			return
		}
	}
}

func (l *Logger) write(entry *Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := l.store.Insert(ctx, entry); err != nil {
		l.logger.Warn("audit write failed",
			"request_id", entry.RequestID, "error", err)
	}
}
