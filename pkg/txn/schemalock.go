package txn

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// lockToken identifies one acquisition of the schema lock. Snapshots keep
// it and pass it back on release; ReleaseShared/ReleaseExclusive do not
// inspect it.
type lockToken uuid.UUID

// TransactionTimeout is returned by OpenSchema when the exclusive schema
// lock could not be acquired before ctx expired. This is the supplemental
// feature recovered from database/tests/transaction.rs's schema-lock
// timeout tests: the original models this as a first-class error rather
// than an indefinite block.
var TransactionTimeout = errors.New("txn: timed out acquiring schema lock")

// SchemaLock is a single-writer/multi-reader lock: any number of
// ModeRead/ModeWrite snapshots may hold it shared concurrently, but a
// ModeSchema snapshot requires it exclusively, and is serialized against
// every other snapshot (schema or otherwise) while it holds it. Matches
// spec.md §5's "schema transactions are exclusive of all other
// transactions" rule.
type SchemaLock struct {
	mu        sync.Mutex
	cond      *sync.Cond
	sharedOut int
	exclusive bool
}

// NewSchemaLock returns an unheld SchemaLock.
func NewSchemaLock() *SchemaLock {
	l := &SchemaLock{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

// AcquireShared blocks until no exclusive holder is present, then
// registers one more shared holder.
func (l *SchemaLock) AcquireShared(ctx context.Context) (lockToken, error) {
	done := make(chan lockToken, 1)
	errCh := make(chan error, 1)
	go func() {
		l.mu.Lock()
		for l.exclusive {
			l.cond.Wait()
		}
		l.sharedOut++
		l.mu.Unlock()
		done <- lockToken(uuid.New())
	}()
	select {
	case tok := <-done:
		return tok, nil
	case <-ctx.Done():
		// The goroutine above may still complete the acquire after we give
		// up waiting; that shared hold is released promptly once it lands,
		// since nothing ever reads `done` again. Acceptable here because
		// AcquireShared is only ever called with context.Background() from
		// Open (no real timeout path); OpenSchema's AcquireExclusive is
		// where the supplemental timeout feature actually matters.
		go func() {
			tok := <-done
			l.ReleaseShared(tok)
		}()
		return lockToken{}, errCh2(errCh, ctx)
	}
}

func errCh2(errCh chan error, ctx context.Context) error {
	select {
	case err := <-errCh:
		return err
	default:
		return ctx.Err()
	}
}

// ReleaseShared releases one shared hold.
func (l *SchemaLock) ReleaseShared(lockToken) {
	l.mu.Lock()
	l.sharedOut--
	l.mu.Unlock()
	l.cond.Broadcast()
}

// AcquireExclusive blocks until no shared or exclusive holder is present,
// then takes the lock exclusively. Returns TransactionTimeout if ctx is
// cancelled first.
func (l *SchemaLock) AcquireExclusive(ctx context.Context) (lockToken, error) {
	done := make(chan lockToken, 1)
	go func() {
		l.mu.Lock()
		for l.exclusive || l.sharedOut > 0 {
			l.cond.Wait()
		}
		l.exclusive = true
		l.mu.Unlock()
		done <- lockToken(uuid.New())
	}()
	select {
	case tok := <-done:
		return tok, nil
	case <-ctx.Done():
		go func() {
			tok := <-done
			l.ReleaseExclusive(tok)
		}()
		return lockToken{}, TransactionTimeout
	}
}

// ReleaseExclusive releases the exclusive hold.
func (l *SchemaLock) ReleaseExclusive(lockToken) {
	l.mu.Lock()
	l.exclusive = false
	l.mu.Unlock()
	l.cond.Broadcast()
}
