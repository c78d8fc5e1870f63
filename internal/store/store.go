// Package store is the care plan store: a single-writer engine over the
// sqlite database that owns activity definitions, lazily materialized
// events, the change feed, and observer delivery.
package store

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"careline/internal/db"
	"careline/internal/feed"
	"careline/internal/migrate"
	"careline/internal/repo"
)

var (
	ErrDuplicateIdentifier = errors.New("duplicate activity identifier")
	ErrInvalidTransition   = errors.New("invalid event transition")
	ErrClosed              = errors.New("store is closed")
)

const jobQueueSize = 64

type Store struct {
	DB   *sql.DB
	Repo repo.Repo
	Feed feed.Writer
	Now  func() time.Time

	mu     sync.Mutex
	closed bool
	jobs   chan *job

	stopped chan struct{}

	// pending notifications for the job currently executing; only the
	// worker goroutine touches it.
	pending []notification

	obsMu     sync.Mutex
	observers map[string]*observerSlot
}

type job struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	err  error
	done chan struct{}
}

// Open opens the store rooted at cfg.Dir, applies pending schema
// migrations, and starts the worker goroutine. The directory must
// already exist; Open never creates it.
func Open(cfg db.Config) (*Store, error) {
	sqlDB, err := db.Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}
	s := &Store{
		DB:        sqlDB,
		Repo:      repo.Repo{DB: sqlDB},
		Now:       time.Now,
		jobs:      make(chan *job, jobQueueSize),
		stopped:   make(chan struct{}),
		observers: make(map[string]*observerSlot),
	}
	s.Feed = feed.Writer{Now: s.now}
	go s.run()
	return s, nil
}

// Close stops the worker after the jobs already queued have run, shuts
// down observer delivery, and closes the database. Operations submitted
// after Close return ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	close(s.jobs)
	s.mu.Unlock()
	<-s.stopped

	s.obsMu.Lock()
	for name, slot := range s.observers {
		close(slot.ch)
		delete(s.observers, name)
	}
	s.obsMu.Unlock()
	return s.DB.Close()
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// do queues fn on the worker and blocks until it has run. Jobs execute
// strictly in submission order; a cancelled context abandons the wait
// but the job still runs.
func (s *Store) do(ctx context.Context, fn func(ctx context.Context) error) error {
	j := &job{ctx: ctx, fn: fn, done: make(chan struct{})}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.jobs <- j
	s.mu.Unlock()

	select {
	case <-j.done:
		return j.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Store) run() {
	for j := range s.jobs {
		s.pending = s.pending[:0]
		j.err = j.fn(j.ctx)
		var notes []notification
		if j.err == nil && len(s.pending) > 0 {
			notes = append(notes, s.pending...)
		}
		close(j.done)
		s.dispatch(notes)
	}
	close(s.stopped)
}

func (s *Store) begin(ctx context.Context) (*sql.Tx, error) {
	return s.DB.BeginTx(ctx, nil)
}
