// Package rpc implements the rate-limited RequestQueue (C3) and the
// RpcCache transport wrapper (C4), the sync-layer half of the indexer.
package rpc

import (
	"context"
	"math"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/indexkit/indexcore/internal/pkg/errors"
	"github.com/indexkit/indexcore/internal/pkg/metrics"
)

// tracer emits one span per dispatched request, tagged with network and
// method, against whatever TracerProvider the embedder registers
// globally.
var tracer = otel.Tracer("github.com/indexkit/indexcore/internal/infrastructure/rpc")

// Request is a single JSON-RPC envelope submitted to the queue.
type Request struct {
	Method string
	Params []any
}

// Response is whatever the underlying Transport returns for a Request.
type Response struct {
	Result any
}

// Transport performs the actual JSON-RPC round-trip. Implementations
// live outside this package — the concrete transport is named as an
// opaque external collaborator by spec.md §1.
type Transport interface {
	Call(ctx context.Context, network string, req Request) (Response, error)
}

type task struct {
	ctx      context.Context
	req      Request
	enqueued time.Time
	resultCh chan taskResult
}

type taskResult struct {
	resp Response
	err  error
}

// Queue is a per-network, rate-limited, strictly-FIFO dispatch queue
// over a Transport, implementing §4.3's interval/batchSize algorithm.
// The "priority queue" name in the source framework this was rewritten
// from is a misnomer inherited from an earlier, unshipped design —
// dispatch order here is submission order, full stop.
type Queue struct {
	network   string
	transport Transport
	metrics   *metrics.Recorder

	interval  time.Duration
	batchSize int

	mu              sync.Mutex
	pending         []*task
	inFlight        int
	paused          bool
	lastDispatch    time.Time
	timerArmed      bool
	clock           func() time.Time
	afterFunc       func(time.Duration, func()) stopper
}

type stopper interface{ Stop() bool }

type realTimer struct{ t *time.Timer }

func (r realTimer) Stop() bool { return r.t.Stop() }

// New builds a Queue for network, rate-limited to maxRequestsPerSecond
// per §4.3: interval = max(1000/R, 50)ms, batchSize = 1 when the 50ms
// floor doesn't bind, else floor(R/20).
func New(network string, transport Transport, maxRequestsPerSecond float64, m *metrics.Recorder) *Queue {
	unclampedMs := 1000.0 / maxRequestsPerSecond
	intervalMs := math.Max(unclampedMs, 50)
	batchSize := 1
	if intervalMs != unclampedMs {
		batchSize = int(maxRequestsPerSecond / 20)
		if batchSize < 1 {
			batchSize = 1
		}
	}

	q := &Queue{
		network:   network,
		transport: transport,
		metrics:   m,
		interval:  time.Duration(intervalMs) * time.Millisecond,
		batchSize: batchSize,
		clock:     time.Now,
	}
	q.afterFunc = func(d time.Duration, f func()) stopper {
		return realTimer{time.AfterFunc(d, f)}
	}
	return q
}

// Request enqueues req and returns a channel-backed eventual result,
// dispatched strictly in submission order (§4.3).
func (q *Queue) Request(ctx context.Context, req Request) (Response, error) {
	t := &task{ctx: ctx, req: req, enqueued: q.clock(), resultCh: make(chan taskResult, 1)}

	q.mu.Lock()
	q.pending = append(q.pending, t)
	q.mu.Unlock()

	q.scheduleTick()

	select {
	case res := <-t.resultCh:
		return res.resp, res.err
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// Size returns the number of enqueued-but-undispatched tasks.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Pending returns the number of in-flight (dispatched, not yet settled)
// tasks.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight
}

// Start resumes dispatch after Pause.
func (q *Queue) Start() {
	q.mu.Lock()
	q.paused = false
	q.mu.Unlock()
	q.scheduleTick()
}

// Pause prevents new dispatches; in-flight tasks are unaffected.
func (q *Queue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
}

// Clear drops all un-dispatched tasks and resets lastDispatchTime.
// In-flight tasks still resolve or reject independently.
func (q *Queue) Clear() {
	q.mu.Lock()
	dropped := q.pending
	q.pending = nil
	q.lastDispatch = time.Time{}
	q.mu.Unlock()

	for _, t := range dropped {
		t.resultCh <- taskResult{err: errors.NewDomainError("CANCELLED", "request queue cleared", nil)}
	}
}

// scheduleTick arms the single-shot timer if one isn't already armed
// (the "timing" guard in §4.3), or dispatches immediately if enough
// time has elapsed.
func (q *Queue) scheduleTick() {
	q.mu.Lock()
	if q.paused || len(q.pending) == 0 {
		q.mu.Unlock()
		return
	}
	now := q.clock()
	elapsed := now.Sub(q.lastDispatch)
	if q.lastDispatch.IsZero() || elapsed >= q.interval {
		q.lastDispatch = now
		q.mu.Unlock()
		q.dispatchBatch()
		return
	}
	if q.timerArmed {
		q.mu.Unlock()
		return
	}
	q.timerArmed = true
	wait := q.interval - elapsed
	q.mu.Unlock()

	q.afterFunc(wait, func() {
		q.mu.Lock()
		q.timerArmed = false
		q.mu.Unlock()
		q.scheduleTick()
	})
}

// dispatchBatch pops up to batchSize tasks and runs them concurrently
// via errgroup, each reporting lag/duration to the metrics collaborator
// (§4.3 observability). A failed call rejects only its own task.
func (q *Queue) dispatchBatch() {
	q.mu.Lock()
	n := q.batchSize
	if n > len(q.pending) {
		n = len(q.pending)
	}
	batch := q.pending[:n]
	q.pending = q.pending[n:]
	q.inFlight += n
	q.mu.Unlock()

	var g errgroup.Group
	for _, t := range batch {
		t := t
		g.Go(func() error {
			q.runOne(t)
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		q.mu.Lock()
		q.inFlight -= n
		q.mu.Unlock()
		q.scheduleTick()
	}()
}

func (q *Queue) runOne(t *task) {
	ctx, span := tracer.Start(t.ctx, "rpc.Queue.dispatch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("indexcore.network", q.network),
			attribute.String("indexcore.method", t.req.Method),
		))
	defer span.End()

	if q.metrics != nil {
		q.metrics.ObserveRequestLag(t.req.Method, q.network, q.clock().Sub(t.enqueued))
	}
	start := q.clock()
	resp, err := q.transport.Call(ctx, q.network, t.req)
	if q.metrics != nil {
		q.metrics.ObserveRequestDuration(t.req.Method, q.network, q.clock().Sub(start))
	}
	if err != nil {
		err = errors.Transport(t.req.Method, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	t.resultCh <- taskResult{resp: resp, err: err}
}
