package store

import (
	"database/sql"
	"fmt"
)

// request is a unit of work accepted by the writer goroutine. Every read and
// every write funnels through here so the store can enforce "at most one
// active transaction" without any additional locking.
type request struct {
	fn   func() (any, error)
	resp chan result
}

type result struct {
	val any
	err error
}

func (s *Store) runWriter() {
	defer close(s.done)
	for req := range s.requests {
		val, err := req.fn()
		req.resp <- result{val: val, err: err}
	}
}

// submit hands fn to the writer goroutine and blocks for its result.
func (s *Store) submit(fn func() (any, error)) (any, error) {
	resp := make(chan result, 1)
	s.requests <- request{fn: fn, resp: resp}
	r := <-resp
	return r.val, r.err
}

// Tx is a handle to the store's single live transaction, valid only for the
// duration of the Transact/Read callback it was passed to.
type Tx struct {
	store *Store
}

func (t *Tx) exec(query string, args ...any) (sql.Result, error) {
	return t.store.db.Exec(query, args...)
}

func (t *Tx) query(query string, args ...any) (*sql.Rows, error) {
	return t.store.db.Query(query, args...)
}

func (t *Tx) queryRow(query string, args ...any) *sql.Row {
	return t.store.db.QueryRow(query, args...)
}

// Transact runs fn inside a BEGIN IMMEDIATE/COMMIT pair on the writer
// goroutine. modernc.org/sqlite's database/sql BeginTx always opens a
// DEFERRED transaction, which would let two goroutines race to upgrade to a
// write lock; since the store holds its db at MaxOpenConns(1) and serializes
// every request through one goroutine anyway, issuing BEGIN IMMEDIATE as a
// plain statement sidesteps that entirely and keeps "one active transaction"
// an invariant of the writer loop rather than of sqlite's locking.
func (s *Store) Transact(fn func(tx *Tx) error) error {
	_, err := s.submit(func() (any, error) {
		if _, err := s.db.Exec("BEGIN IMMEDIATE"); err != nil {
			return nil, fmt.Errorf("store: begin immediate: %w", err)
		}
		if err := fn(&Tx{store: s}); err != nil {
			if _, rbErr := s.db.Exec("ROLLBACK"); rbErr != nil {
				return nil, fmt.Errorf("store: rollback after %v: %w", err, rbErr)
			}
			return nil, err
		}
		if _, err := s.db.Exec("COMMIT"); err != nil {
			_, _ = s.db.Exec("ROLLBACK")
			return nil, fmt.Errorf("store: commit: %w", err)
		}
		return nil, nil
	})
	return err
}

// Read runs fn on the writer goroutine outside of any transaction wrapper,
// for cursor-style reads that don't need write isolation.
func (s *Store) Read(fn func(tx *Tx) (any, error)) (any, error) {
	return s.submit(func() (any, error) {
		return fn(&Tx{store: s})
	})
}
