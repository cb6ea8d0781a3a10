// Package pusher is the final fan-out stage: it receives FusedEvents
// in-process through Submit (it does not read the fused-log itself),
// classifies them into a priority class, and delivers them to one or more
// Sinks with bounded retry. Worker shape and panic-safety follow the
// teacher's WorkerPool (ws/worker_pool.go): a fixed pool of goroutines
// pulling from three container/list queues, with panic recovery wrapped
// around every delivered task so one bad sink doesn't take a worker down.
package pusher

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/signalforge/fusion/internal/logging"
	"github.com/signalforge/fusion/internal/metrics"
	"github.com/signalforge/fusion/internal/model"
	"github.com/signalforge/fusion/internal/retry"
)

// Priority is the fan-out class spec.md §4.5 names.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "CRITICAL"
	case PriorityHigh:
		return "HIGH"
	default:
		return "NORMAL"
	}
}

// Classify maps a FusedEvent to its priority class per spec.md §4.5:
// CRITICAL if urgency is IMMEDIATE/HIGH, tier is S, or is_super_event;
// HIGH if score >= 60; else NORMAL.
func Classify(fused model.FusedEvent) Priority {
	d := fused.Decision
	s := fused.Signal
	if d.Urgency == model.UrgencyImmediate || d.Urgency == model.UrgencyHigh || s.Tier == model.TierS || s.IsSuperEvent {
		return PriorityCritical
	}
	if s.TotalScore >= 60 {
		return PriorityHigh
	}
	return PriorityNormal
}

// Sink is anything the Pusher can deliver a FusedEvent to: a chat webhook,
// a generic JSON endpoint, or (in tests) an in-memory recorder.
type Sink interface {
	// Name identifies the sink in logs and metrics.
	Name() string
	// Send delivers fused and reports whether the send succeeded per the
	// sink's own success predicate.
	Send(ctx context.Context, fused model.FusedEvent) error
}

// AckFunc acknowledges the underlying log entry once a delivery attempt
// has terminated (success or final failure), so a crash-restart replays
// at most the unacknowledged tail once per message.
type AckFunc func(ctx context.Context) error

// task is one unit of work in a priority queue.
type task struct {
	fused      model.FusedEvent
	priority   Priority
	retryCount int
	ack        AckFunc
}

// Pusher owns the three priority queues (unbounded) and the worker pool
// that drains them.
type Pusher struct {
	sinks  []Sink
	policy retry.Policy
	logger zerolog.Logger

	mu     sync.Mutex
	queues map[Priority]*list.List
	notify chan struct{}

	workerCount int
	wg          sync.WaitGroup

	avgLatencyMs float64
	latencyMu    sync.Mutex

	droppedAfterRetries int64
}

// Config controls worker count and queue capacity.
type Config struct {
	Workers       int
	QueueCapacity int // accepted but not enforced: the queues are unbounded and Submit never drops
	RetryPolicy   retry.Policy
}

// New returns a Pusher fanning out to sinks.
func New(cfg Config, sinks []Sink, logger zerolog.Logger) *Pusher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 3
	}
	policy := cfg.RetryPolicy
	if policy == nil {
		// spec's "sleep 500ms * 2^retry_count before re-enqueue, drop once
		// retry_count >= 3" is base=1000ms*2^attempt (attempt 0-indexed):
		// attempt 0 -> retry_count 1 -> 1000ms, attempt 1 -> retry_count 2 -> 2000ms.
		policy = retry.ExponentialBackoff(1*time.Second, 4*time.Second, 3)
	}

	return &Pusher{
		sinks:  sinks,
		policy: policy,
		logger: logger.With().Str("component", "pusher").Logger(),
		queues: map[Priority]*list.List{
			PriorityCritical: list.New(),
			PriorityHigh:     list.New(),
			PriorityNormal:   list.New(),
		},
		notify:      make(chan struct{}, 1),
		workerCount: workers,
	}
}

// Submit enqueues fused into its priority class's queue. ack is invoked
// once this message's delivery attempt (across all retries) terminates.
func (p *Pusher) Submit(fused model.FusedEvent, ack AckFunc) {
	priority := Classify(fused)

	p.mu.Lock()
	p.queues[priority].PushBack(task{fused: fused, priority: priority, ack: ack})
	p.mu.Unlock()

	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// dequeue atomically picks the highest-priority non-empty queue and pops
// its front element, preserving FIFO within a class.
func (p *Pusher) dequeue() (task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, pr := range []Priority{PriorityCritical, PriorityHigh, PriorityNormal} {
		q := p.queues[pr]
		if front := q.Front(); front != nil {
			q.Remove(front)
			return front.Value.(task), true
		}
	}
	return task{}, false
}

// Start launches the worker pool and returns immediately. Workers exit
// when ctx is cancelled; Wait blocks until they have.
func (p *Pusher) Start(ctx context.Context) {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Wait blocks until every worker goroutine has exited.
func (p *Pusher) Wait() {
	p.wg.Wait()
}

func (p *Pusher) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	defer logging.RecoverPanic(p.logger, "pusher.worker", map[string]any{"worker_id": id})

	idle := time.NewTicker(50 * time.Millisecond)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		t, ok := p.dequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-p.notify:
				continue
			case <-idle.C:
				continue
			}
		}

		p.deliver(ctx, t)
	}
}

func (p *Pusher) deliver(ctx context.Context, t task) {
	start := time.Now()

	err := retry.Do(ctx, p.policy, func(ctx context.Context, attempt int) error {
		return p.sendToAllSinks(ctx, t.fused)
	})

	elapsed := time.Since(start)
	p.recordLatency(elapsed)
	metrics.ObservePusherDelivery(t.priority.String(), elapsed)

	if err != nil {
		p.mu.Lock()
		p.droppedAfterRetries++
		p.mu.Unlock()
		metrics.IncPusherDropped()
		p.logger.Error().
			Str("symbol", t.fused.Signal.Symbol).
			Str("priority", t.priority.String()).
			Err(err).
			Msg("delivery failed after retries, dropping")
	}

	if t.ack != nil {
		if ackErr := t.ack(ctx); ackErr != nil {
			p.logger.Warn().Err(ackErr).Msg("failed to ack delivered fused event")
		}
	}
}

func (p *Pusher) sendToAllSinks(ctx context.Context, fused model.FusedEvent) error {
	var lastErr error
	for _, sink := range p.sinks {
		if err := sink.Send(ctx, fused); err != nil {
			p.logger.Warn().Str("sink", sink.Name()).Err(err).Msg("sink delivery failed")
			lastErr = err
		}
	}
	return lastErr
}

// recordLatency updates the exponential moving average of send latencies
// spec.md §4.5 requires for the heartbeat payload. alpha=0.2 weights
// recent sends more heavily without being as noisy as a raw last-value.
func (p *Pusher) recordLatency(d time.Duration) {
	const alpha = 0.2
	ms := float64(d.Milliseconds())

	p.latencyMu.Lock()
	defer p.latencyMu.Unlock()
	if p.avgLatencyMs == 0 {
		p.avgLatencyMs = ms
		return
	}
	p.avgLatencyMs = alpha*ms + (1-alpha)*p.avgLatencyMs
}

// AvgLatencyMs returns the current EMA of delivery latency. The heartbeat
// publisher does not read it.
func (p *Pusher) AvgLatencyMs() float64 {
	p.latencyMu.Lock()
	defer p.latencyMu.Unlock()
	return p.avgLatencyMs
}

// DroppedCount returns how many messages were dropped after exhausting
// retries.
func (p *Pusher) DroppedCount() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.droppedAfterRetries
}
