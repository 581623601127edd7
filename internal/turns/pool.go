package turns

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/codial-ai/codial-core/internal/codialerr"
)

// Engine is the capability the Worker Pool dispatches a dequeued Turn to.
// internal/engine.Engine implements this; kept as a narrow interface here
// so internal/turns never imports internal/engine (spec.md §9 "cyclic
// references become index references").
type Engine interface {
	Run(ctx context.Context, t *Turn) error
}

// SessionGate lets the pool enforce "a session never executes two turns
// concurrently" (spec.md §5) without importing internal/sessions.
type SessionGate interface {
	Lock(sessionID string) func()
}

// shutdownKey is the context.Value key used to carry the pool's shutdown
// signal into the Turn Engine, letting it distinguish a turn killed by
// Stop's drain deadline from an ordinary per-turn cancellation/timeout
// (spec.md §4.6: the former must be marked failed{SHUTDOWN}, not
// {CANCELLED}).
type shutdownKey struct{}

// IsShuttingDown reports whether ctx (or an ancestor) was cancelled
// because the Worker Pool's drain deadline elapsed during Stop.
func IsShuttingDown(ctx context.Context) bool {
	ch, ok := ctx.Value(shutdownKey{}).(chan struct{})
	if !ok {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// Pool is the bounded Turn Queue + fixed-size Worker Pool (component C6).
type Pool struct {
	queue          chan *Turn
	engine         Engine
	gate           SessionGate
	workers        int
	wg             sync.WaitGroup
	cancelAll      context.CancelFunc
	runCtx         context.Context
	stopOnce       sync.Once
	closeGate      chan struct{}
	closeOnce      sync.Once
	shutdownSignal chan struct{}
	shutdownOnce   sync.Once
	onTerminal     func(*Turn)
}

// New constructs a Pool with the given queue capacity and worker count.
// onTerminal, if non-nil, is invoked once per turn after it reaches
// completed|failed (used by callers to persist the terminal Turn state).
func New(queueSize, workerCount int, engine Engine, gate SessionGate, onTerminal func(*Turn)) *Pool {
	if queueSize <= 0 {
		queueSize = 64
	}
	if workerCount <= 0 {
		workerCount = 2
	}
	shutdownSignal := make(chan struct{})
	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), shutdownKey{}, shutdownSignal))
	return &Pool{
		queue:          make(chan *Turn, queueSize),
		engine:         engine,
		gate:           gate,
		workers:        workerCount,
		cancelAll:      cancel,
		runCtx:         ctx,
		closeGate:      make(chan struct{}),
		shutdownSignal: shutdownSignal,
		onTerminal:     onTerminal,
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Enqueue accepts t into the bounded queue, failing fast with QUEUE_FULL
// when saturated (spec.md §4.6, non-blocking enqueue).
func (p *Pool) Enqueue(t *Turn) *codialerr.Error {
	select {
	case <-p.closeGate:
		return codialerr.Shutdown(t.TraceID)
	default:
	}

	select {
	case p.queue <- t:
		return nil
	default:
		return codialerr.QueueFull(t.TraceID)
	}
}

func (p *Pool) worker(idx int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.runCtx.Done():
			return
		case t, ok := <-p.queue:
			if !ok {
				return
			}
			p.execute(t)
		}
	}
}

func (p *Pool) execute(t *Turn) {
	unlock := p.gate.Lock(t.SessionID)
	defer unlock()

	now := time.Now()
	t.StartedAt = &now
	t.Status = StatusRunning

	err := p.engine.Run(p.runCtx, t)

	end := time.Now()
	t.EndedAt = &end
	if err != nil {
		t.Status = StatusFailed
		t.Err = err
		slog.Warn("turn.failed", "turn_id", t.TurnID, "session_id", t.SessionID, "error", err)
	} else {
		t.Status = StatusCompleted
		slog.Info("turn.completed", "turn_id", t.TurnID, "session_id", t.SessionID)
	}

	if p.onTerminal != nil {
		p.onTerminal(t)
	}
}

// Stop performs graceful shutdown (spec.md §4.6): stops accepting new
// enqueues immediately, lets in-flight turns finish within drain, then
// cancels the shared context so any turn still running observes
// cancellation and is marked failed{SHUTDOWN} by the Turn Engine itself.
// Workers keep polling the queue until that context is cancelled, so Stop
// always waits the full drain period, even when no turn is running.
func (p *Pool) Stop(drain time.Duration) {
	p.closeOnce.Do(func() { close(p.closeGate) })

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(drain):
		p.shutdownOnce.Do(func() { close(p.shutdownSignal) })
		p.stopOnce.Do(p.cancelAll)
		<-done
	}
}

// QueueLen reports the number of turns currently waiting in the queue
// (diagnostics / health reporting).
func (p *Pool) QueueLen() int { return len(p.queue) }
