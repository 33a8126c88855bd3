// Package servicecontrol is the process-wide supervisor: it spawns worker
// goroutines, gives every one of them a shared stop_all flag plus its own
// per-worker stop flag, contains panics, and fences a worker's handle so a
// discarded handle whose worker errored terminates the process.
package servicecontrol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dpc/sniper/internal/eventlog"
	"github.com/dpc/sniper/internal/metrics"
	"github.com/dpc/sniper/internal/persistence"
	"github.com/dpc/sniper/internal/progress"
)

// ErrPanicked is the terminal error a worker reports when its iteration
// panicked. The message is fixed by the contract.
var ErrPanicked = errors.New("service panicked")

// LoopService is an idempotent-iteration worker: poll, sleep, retry.
type LoopService interface {
	RunIteration(ctx context.Context) error
}

// EventLoopService consumes the log from its own progress cursor.
// HandleEvent is called once per log event read inside the controlling transaction;
// it must be a function of (tx, event) only — no ambient mutable state —
// so re-delivery before a cursor commit stays safe.
type EventLoopService interface {
	ID() progress.ServiceID
	HandleEvent(ctx context.Context, tx persistence.Transaction, event eventlog.Event) ([]eventlog.Event, error)
}

// Control owns the shared stop flag and the persistence/progress handles
// every spawned worker needs.
type Control struct {
	persistence persistence.Persistence
	progress    progress.Store
	logger      *slog.Logger

	stopAll atomic.Bool
}

// New returns a Control ready to spawn workers against the given
// persistence and progress stores.
func New(p persistence.Persistence, pt progress.Store, logger *slog.Logger) *Control {
	if logger == nil {
		logger = slog.Default()
	}
	return &Control{persistence: p, progress: pt, logger: logger}
}

// SendStopToAll sets the shared stop flag; every worker notices at its
// next iteration boundary.
func (c *Control) SendStopToAll() {
	c.stopAll.Store(true)
}

// Stopped reports whether SendStopToAll has been called.
func (c *Control) Stopped() bool {
	return c.stopAll.Load()
}

// Handle is a worker's join token and per-worker stop flag. Close signals
// the per-worker stop, waits for termination, and — since Go has no
// destructor to run this automatically — must be called explicitly by
// whoever owns it (typically a deferred call in main). If Close is never
// called, nothing signals the per-worker stop: the worker keeps running
// until stop_all fires some other way.
type Handle struct {
	name      string
	stopLocal atomic.Bool
	done      chan struct{}
	result    error
	joined    atomic.Bool
	logger    *slog.Logger
}

// Join waits for the worker to terminate and returns its terminal result.
func (h *Handle) Join() error {
	h.joined.Store(true)
	<-h.done
	return h.result
}

// Close signals local stop, waits for termination, and terminates the
// process if the worker's terminal result was an error and nothing ever
// called Join — mirroring the drop-on-scope-exit fatality the original
// runtime gave a discarded handle.
func (h *Handle) Close() error {
	h.stopLocal.Store(true)
	<-h.done
	if h.result != nil && !h.joined.Load() {
		h.logger.Error("worker handle closed with unjoined error, terminating process",
			slog.String("service", h.name), slog.Any("error", h.result))
		fatalExit(1)
	}
	return h.result
}

// fatalExit is a variable so tests can observe the fatal path without
// actually killing the test binary.
var fatalExit = os.Exit

func (h *Handle) finish(err error) {
	h.result = err
	close(h.done)
}

// SpawnLoop runs service.RunIteration repeatedly until the per-worker stop
// flag or stop_all is set, or an iteration returns an error (which sets
// stop_all and terminates the worker with that error). A panicking
// iteration is caught, converted to ErrPanicked, and also sets stop_all.
func (c *Control) SpawnLoop(ctx context.Context, name string, svc LoopService) *Handle {
	h := &Handle{name: name, done: make(chan struct{}), logger: c.logger}
	go func() {
		for {
			if h.stopLocal.Load() || c.Stopped() {
				h.finish(nil)
				return
			}
			err := runCaught(func() error { return svc.RunIteration(ctx) })
			if err != nil {
				c.stopAll.Store(true)
				c.logger.Error("loop worker stopped with error", slog.String("service", name), slog.Any("error", err))
				h.finish(err)
				return
			}
		}
	}()
	return h
}

// runCaught invokes fn, converting a panic into ErrPanicked instead of
// letting it unwind past the worker goroutine.
func runCaught(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanicked, r)
		}
	}()
	return fn()
}

// eventLoopTimeout bounds each poll of the log inside one iteration so
// stop_all is observed within about a second in steady state.
var eventLoopTimeout = time.Second

// SpawnEventLoop is the core atomic-step algorithm: open a connection,
// read the service's persisted offset, then loop reading at most one
// event per iteration under a single transaction, handling it, advancing
// the cursor, and committing — all three in that one transaction.
func (c *Control) SpawnEventLoop(ctx context.Context, svc EventLoopService, reader eventlog.Reader) *Handle {
	h := &Handle{name: string(svc.ID()), done: make(chan struct{}), logger: c.logger}

	go func() {
		conn, err := c.persistence.GetConnection(ctx)
		if err != nil {
			h.finish(fmt.Errorf("opening initial connection for %q: %w", svc.ID(), err))
			c.stopAll.Store(true)
			return
		}
		offset, err := c.initialOffset(ctx, conn, reader, svc.ID())
		conn.Close()
		if err != nil {
			h.finish(err)
			c.stopAll.Store(true)
			return
		}

		for {
			if h.stopLocal.Load() || c.Stopped() {
				h.finish(nil)
				return
			}

			nextOffset, err := runCaughtOffset(func() (eventlog.Offset, error) {
				return c.runIteration(ctx, svc, reader, offset)
			})
			if err != nil {
				c.stopAll.Store(true)
				c.logger.Error("event loop worker stopped with error", slog.String("service", string(svc.ID())), slog.Any("error", err))
				h.finish(err)
				return
			}
			offset = nextOffset
		}
	}()
	return h
}

func runCaughtOffset(fn func() (eventlog.Offset, error)) (offset eventlog.Offset, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanicked, r)
		}
	}()
	return fn()
}

func (c *Control) initialOffset(ctx context.Context, conn persistence.Connection, reader eventlog.Reader, id progress.ServiceID) (eventlog.Offset, error) {
	off, err := c.progress.Load(ctx, conn, id)
	if err != nil {
		return 0, fmt.Errorf("reading initial progress for %q: %w", id, err)
	}
	if off != nil {
		return *off, nil
	}
	start, err := reader.GetStartOffset(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading log start offset for %q: %w", id, err)
	}
	return start, nil
}

// runIteration is one atomic step: steps (a)-(e) of the event-loop
// algorithm. Steps (c)-(e) share a single transaction, the sole mechanism
// giving exactly-once effect on the persistence side.
func (c *Control) runIteration(ctx context.Context, svc EventLoopService, reader eventlog.Reader, offset eventlog.Offset) (eventlog.Offset, error) {
	conn, err := c.persistence.GetConnection(ctx)
	if err != nil {
		return offset, fmt.Errorf("opening connection: %w", err)
	}
	defer conn.Close()

	tx, err := conn.StartTransaction(ctx)
	if err != nil {
		return offset, fmt.Errorf("starting transaction: %w", err)
	}

	timeout := eventLoopTimeout
	next, batch, err := reader.Read(ctx, tx, offset, 1, &timeout)
	if err != nil {
		_ = tx.Rollback(ctx)
		return offset, fmt.Errorf("reading event: %w", err)
	}

	if len(batch) == 0 {
		if err := tx.Commit(ctx); err != nil {
			return offset, fmt.Errorf("committing heartbeat: %w", err)
		}
		metrics.EventLoopIterations.WithLabelValues(string(svc.ID())).Inc()
		metrics.EventLogTailOffset.Set(float64(next))
		return next, nil
	}
	event := batch[0]

	emitted, err := svc.HandleEvent(ctx, tx, event.Details)
	if err != nil {
		_ = tx.Rollback(ctx)
		return offset, fmt.Errorf("handling event at offset %d: %w", event.Offset, err)
	}
	if len(emitted) > 0 {
		writer, ok := reader.(eventlog.Writer)
		if !ok {
			_ = tx.Rollback(ctx)
			return offset, fmt.Errorf("reader %T cannot also write emitted events", reader)
		}
		if _, err := writer.Write(ctx, tx, emitted); err != nil {
			_ = tx.Rollback(ctx)
			return offset, fmt.Errorf("writing emitted events: %w", err)
		}
	}

	if err := c.progress.StoreTr(ctx, tx, svc.ID(), next); err != nil {
		_ = tx.Rollback(ctx)
		return offset, fmt.Errorf("storing progress: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return offset, fmt.Errorf("committing iteration: %w", err)
	}
	metrics.EventLoopIterations.WithLabelValues(string(svc.ID())).Inc()
	metrics.EventLogTailOffset.Set(float64(next))
	return next, nil
}

// SpawnLogFollower is sugar for SpawnEventLoop, named the way the spec
// names it for services whose input is purely the log.
func (c *Control) SpawnLogFollower(ctx context.Context, svc EventLoopService, reader eventlog.Reader) *Handle {
	return c.SpawnEventLoop(ctx, svc, reader)
}

// JoinAll waits for every handle and returns the first non-nil error
// encountered, matching spec's "non-zero exit if any worker errored".
func JoinAll(handles ...*Handle) error {
	var (
		mu      sync.Mutex
		first   error
		wg      sync.WaitGroup
	)
	wg.Add(len(handles))
	for _, h := range handles {
		go func(h *Handle) {
			defer wg.Done()
			if err := h.Join(); err != nil {
				mu.Lock()
				if first == nil {
					first = err
				}
				mu.Unlock()
			}
		}(h)
	}
	wg.Wait()
	return first
}
