package eventlog

import (
	"context"
	"sync"
	"time"

	"github.com/dpc/sniper/internal/persistence"
)

// InMemory is the in-memory Reader/Writer: an ordered slice guarded by a
// read/write lock, with a condition variable signalled on every write so
// blocked tail readers wake promptly. Offsets are array indices, so the
// start offset is always 0.
type InMemory struct {
	mu     sync.RWMutex
	cond   *sync.Cond
	events []LogEvent
}

// NewInMemory returns an empty in-memory log.
func NewInMemory() *InMemory {
	l := &InMemory{}
	l.cond = sync.NewCond(l.mu.RLocker())
	return l
}

func (l *InMemory) GetStartOffset(ctx context.Context) (Offset, error) {
	return 0, nil
}

// Write appends events under the write lock and broadcasts to any readers
// waiting on the condition variable.
func (l *InMemory) Write(ctx context.Context, tx persistence.Transaction, events []Event) (Offset, error) {
	if tx.Backend() != "memory" {
		return 0, persistence.ErrWrongBackend
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, e := range events {
		l.events = append(l.events, LogEvent{Offset: Offset(len(l.events)), Details: e})
	}
	tail := Offset(len(l.events))
	l.cond.Broadcast()
	return tail, nil
}

// Read blocks according to the timeout contract in eventlog.Reader. The
// condition variable is waited on while holding the read lock, matching
// the "condvar + RW lock" pattern: readers hold read locks while
// inspecting, the writer briefly upgrades to the write lock to append and
// broadcasts under it.
func (l *InMemory) Read(ctx context.Context, tx persistence.Transaction, from Offset, limit int, timeout *time.Duration) (Offset, []LogEvent, error) {
	if tx != nil && tx.Backend() != "memory" {
		return from, nil, persistence.ErrWrongBackend
	}
	deadline, hasDeadline := deadlineFor(timeout)

	l.mu.RLock()
	for {
		if int(from) < len(l.events) {
			end := len(l.events)
			if limit > 0 && int(from)+limit < end {
				end = int(from) + limit
			}
			batch := append([]LogEvent(nil), l.events[from:end]...)
			l.mu.RUnlock()
			return from + Offset(len(batch)), batch, nil
		}

		if timeout != nil && *timeout == 0 {
			l.mu.RUnlock()
			return from, nil, nil
		}

		if hasDeadline && time.Now().After(deadline) {
			l.mu.RUnlock()
			return from, nil, nil
		}

		woken := waitWithCancel(ctx, l.cond, deadline, hasDeadline)
		if !woken {
			l.mu.RUnlock()
			return from, nil, nil
		}
		if ctx.Err() != nil {
			l.mu.RUnlock()
			return from, nil, nil
		}
	}
}

func deadlineFor(timeout *time.Duration) (time.Time, bool) {
	if timeout == nil {
		return time.Time{}, false
	}
	return time.Now().Add(*timeout), true
}

// waitWithCancel waits on cond, returning false only if ctx is done. It
// races a goroutine that watches ctx and the deadline against the
// cond.Wait call so a cancelled context or an expired deadline can unblock
// a reader that would otherwise sleep forever (timeout == nil).
func waitWithCancel(ctx context.Context, cond *sync.Cond, deadline time.Time, hasDeadline bool) bool {
	done := make(chan struct{})
	stop := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case <-ctx.Done():
			cond.Broadcast()
		case <-stop:
		}
	}()

	var timer *time.Timer
	if hasDeadline {
		timer = time.AfterFunc(time.Until(deadline), cond.Broadcast)
	}

	cond.Wait()

	close(stop)
	<-done
	if timer != nil {
		timer.Stop()
	}
	return ctx.Err() == nil
}
