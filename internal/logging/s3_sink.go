package logging

import (
	"context"
	"errors"
	"sync"
	"time"

	"pdf_gateway/internal/config"
	"pdf_gateway/internal/utils"
)

// batchWriter is what the sink needs from its destination. *S3Writer
// satisfies it; tests substitute a capture.
type batchWriter interface {
	WriteBatch(ctx context.Context, records []*DocumentLog) (string, error)
}

// ErrSinkClosed is returned by Enqueue after Close.
var ErrSinkClosed = errors.New("audit sink closed")

// S3Sink buffers audit records in memory and flushes them to S3 in
// batches, either when the batch fills or on the flush interval. A full
// buffer drops the record rather than stalling a request; audit logs
// are best effort.
type S3Sink struct {
	writer        batchWriter
	flushSize     int
	flushInterval time.Duration
	logger        *utils.Logger

	records chan *DocumentLog
	done    chan struct{}
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewS3Sink starts the flush loop over the given writer.
func NewS3Sink(writer batchWriter, cfg config.AuditSinkConfig) *S3Sink {
	s := &S3Sink{
		writer:        writer,
		flushSize:     cfg.FlushSize,
		flushInterval: cfg.FlushInterval,
		logger:        utils.NewLogger("audit-sink"),
		records:       make(chan *DocumentLog, cfg.BufferSize),
		done:          make(chan struct{}),
	}

	s.wg.Add(1)
	go s.run()

	return s
}

// Enqueue hands a record to the flush loop without blocking.
func (s *S3Sink) Enqueue(rec *DocumentLog) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSinkClosed
	}

	select {
	case s.records <- rec:
		return nil
	default:
		s.logger.Warn("audit buffer full, dropping record", "operation", rec.Operation)
		return nil
	}
}

func (s *S3Sink) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	batch := make([]*DocumentLog, 0, s.flushSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if _, err := s.writer.WriteBatch(ctx, batch); err != nil {
			s.logger.Error("failed to flush audit batch", "count", len(batch), "error", err)
		}
		cancel()
		batch = batch[:0]
	}

	for {
		select {
		case rec := <-s.records:
			batch = append(batch, rec)
			if len(batch) >= s.flushSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.done:
			// Drain whatever is still queued before the final flush.
			for {
				select {
				case rec := <-s.records:
					batch = append(batch, rec)
					if len(batch) >= s.flushSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// Close stops the flush loop after draining pending records.
func (s *S3Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()
	return nil
}
