package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// asyncLogger implements asynchronous audit logging with a ring buffer.
// When the buffer is full the oldest event is dropped.
type asyncLogger struct {
	writer Writer
	chain  *HashChain
	logger *zap.Logger

	// Ring buffer
	buffer []Event
	size   int
	head   int
	count  int
	mu     sync.Mutex

	// Serializes flushes so chained hashes follow write order
	flushMu sync.Mutex

	dropped atomic.Uint64
	failed  atomic.Uint64

	flushCh   chan struct{}
	doneCh    chan struct{}
	stoppedCh chan struct{}
	closeOnce sync.Once
	interval  time.Duration
}

// newAsyncLogger creates a new async logger and starts its writer goroutine
func newAsyncLogger(writer Writer, chain *HashChain, cfg Config, logger *zap.Logger) *asyncLogger {
	l := &asyncLogger{
		writer:    writer,
		chain:     chain,
		logger:    logger,
		buffer:    make([]Event, cfg.BufferSize),
		size:      cfg.BufferSize,
		flushCh:   make(chan struct{}, 1),
		doneCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
		interval:  cfg.FlushInterval,
	}

	go l.run()

	return l
}

// Log stamps and enqueues an event (non-blocking)
func (l *asyncLogger) Log(ctx context.Context, event Event) {
	stamp(ctx, event)
	l.enqueue(event)
}

func (l *asyncLogger) enqueue(event Event) {
	l.mu.Lock()
	if l.count == l.size {
		l.buffer[l.head] = nil
		l.head = (l.head + 1) % l.size
		l.count--
		l.dropped.Add(1)
	}
	l.buffer[(l.head+l.count)%l.size] = event
	l.count++
	l.mu.Unlock()

	select {
	case l.flushCh <- struct{}{}:
	default:
	}
}

// run flushes on demand, periodically and once more on shutdown
func (l *asyncLogger) run() {
	defer close(l.stoppedCh)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = l.flush()
		case <-l.flushCh:
			_ = l.flush()
		case <-l.doneCh:
			_ = l.flush()
			return
		}
	}
}

// Flush writes pending events
func (l *asyncLogger) Flush() error {
	return l.flush()
}

func (l *asyncLogger) flush() error {
	l.flushMu.Lock()
	defer l.flushMu.Unlock()

	events := l.drain()
	if len(events) == 0 {
		return nil
	}

	var lastErr error
	for _, event := range events {
		if l.chain != nil {
			if err := l.chain.Link(event); err != nil {
				lastErr = err
				l.failed.Add(1)
				continue
			}
		}
		if err := l.writer.Write(event); err != nil {
			lastErr = err
			l.failed.Add(1)
			l.logger.Warn("audit write failed",
				zap.String("type", string(event.Type())),
				zap.String("event_id", event.Meta().EventID),
				zap.Error(err))
		}
	}
	return lastErr
}

// drain removes and returns buffered events in arrival order
func (l *asyncLogger) drain() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.count == 0 {
		return nil
	}
	events := make([]Event, 0, l.count)
	for i := 0; i < l.count; i++ {
		idx := (l.head + i) % l.size
		events = append(events, l.buffer[idx])
		l.buffer[idx] = nil
	}
	l.head = 0
	l.count = 0
	return events
}

// Stats reports dropped and failed events
func (l *asyncLogger) Stats() Stats {
	return Stats{Dropped: l.dropped.Load(), Failed: l.failed.Load()}
}

// Close stops the writer goroutine after a final flush and closes the writer
func (l *asyncLogger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.doneCh)
		<-l.stoppedCh
		err = l.writer.Close()
	})
	return err
}
