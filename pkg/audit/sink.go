// Copyright 2025 AidTrace Project
//
// Asynchronous audit sink. Writes are buffered and flushed by a single
// background goroutine; a failure to record is logged and never
// surfaces to the caller.

package audit

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sink accepts audit records without blocking the operation that
// produced them.
type Sink struct {
	repo   Repository
	buf    chan *Record
	logger *log.Logger
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewSink starts the writer goroutine over the given repository.
// bufferSize <= 0 falls back to 256.
func NewSink(repo Repository, bufferSize int, logger *log.Logger) *Sink {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[Audit] ", log.LstdFlags)
	}
	s := &Sink{
		repo:   repo,
		buf:    make(chan *Record, bufferSize),
		logger: logger,
	}
	s.wg.Add(1)
	go s.drain()
	return s
}

// Write enqueues a record. It never returns an error; when the buffer
// is full the record is dropped with a log line rather than blocking
// the caller.
func (s *Sink) Write(rec Record) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.logger.Printf("WARNING: audit sink closed, dropping record %s/%s", rec.Category, rec.Action)
		return
	}
	select {
	case s.buf <- &rec:
	default:
		s.logger.Printf("WARNING: audit buffer full, dropping record %s/%s", rec.Category, rec.Action)
	}
}

// drain is the single writer loop.
func (s *Sink) drain() {
	defer s.wg.Done()
	for rec := range s.buf {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.repo.Append(ctx, rec); err != nil {
			s.logger.Printf("WARNING: failed to persist audit record %s: %v", rec.ID, err)
		}
		cancel()
	}
}

// Close stops accepting records, flushes the buffer and waits for the
// writer to finish. Safe to call more than once.
func (s *Sink) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.buf)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Query reads back persisted records.
func (s *Sink) Query(ctx context.Context, f Filter) ([]*Record, error) {
	return s.repo.Query(ctx, f)
}
