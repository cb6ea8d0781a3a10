package pusher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalforge/fusion/internal/model"
	"github.com/signalforge/fusion/internal/retry"
)

// recordingSink is an in-memory Sink that records every FusedEvent it
// received, optionally failing the first N attempts.
type recordingSink struct {
	mu        sync.Mutex
	name      string
	failTimes int
	attempts  int
	received  []model.FusedEvent
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Send(_ context.Context, fused model.FusedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.attempts <= s.failTimes {
		return errors.New("simulated sink failure")
	}
	s.received = append(s.received, fused)
	return nil
}

func (s *recordingSink) snapshot() []model.FusedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.FusedEvent(nil), s.received...)
}

func fusedWith(symbol string, tier model.Tier, urgency model.Urgency, score float64, superEvent bool) model.FusedEvent {
	return model.FusedEvent{
		Signal:   model.Signal{Symbol: symbol, Tier: tier, TotalScore: score, IsSuperEvent: superEvent},
		Decision: model.Decision{Symbol: symbol, Urgency: urgency},
	}
}

func TestClassify_UrgencyDrivesCritical(t *testing.T) {
	tests := []struct {
		name  string
		fused model.FusedEvent
		want  Priority
	}{
		{"immediate urgency", fusedWith("A", model.TierB, model.UrgencyImmediate, 50, false), PriorityCritical},
		{"high urgency", fusedWith("B", model.TierB, model.UrgencyHigh, 50, false), PriorityCritical},
		{"tier S regardless of urgency", fusedWith("C", model.TierS, model.UrgencyLow, 50, false), PriorityCritical},
		{"super event regardless of tier", fusedWith("D", model.TierC, model.UrgencyLow, 20, true), PriorityCritical},
		{"high score, normal urgency", fusedWith("E", model.TierB, model.UrgencyNormal, 65, false), PriorityHigh},
		{"low score falls to normal", fusedWith("F", model.TierC, model.UrgencyLow, 45, false), PriorityNormal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.fused))
		})
	}
}

func TestSubmit_DeliversToAllSinksThenAcks(t *testing.T) {
	sink1 := &recordingSink{name: "sink1"}
	sink2 := &recordingSink{name: "sink2"}
	p := New(Config{Workers: 1, QueueCapacity: 10}, []Sink{sink1, sink2}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	var acked bool
	var mu sync.Mutex
	p.Submit(fusedWith("PEPE", model.TierS, model.UrgencyImmediate, 95, false), func(context.Context) error {
		mu.Lock()
		acked = true
		mu.Unlock()
		return nil
	})

	require.Eventually(t, func() bool {
		return len(sink1.snapshot()) == 1 && len(sink2.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return acked
	}, time.Second, 5*time.Millisecond)

	cancel()
	p.Wait()
}

func TestDequeue_PriorityOrderingWithFIFOWithinClass(t *testing.T) {
	p := New(Config{Workers: 1, QueueCapacity: 10}, nil, zerolog.Nop())

	normal1 := fusedWith("N1", model.TierC, model.UrgencyLow, 10, false)
	normal2 := fusedWith("N2", model.TierC, model.UrgencyLow, 10, false)
	critical := fusedWith("C1", model.TierS, model.UrgencyImmediate, 95, false)

	p.Submit(normal1, nil)
	p.Submit(normal2, nil)
	p.Submit(critical, nil)

	first, ok := p.dequeue()
	require.True(t, ok)
	assert.Equal(t, "C1", first.fused.Signal.Symbol, "critical jumps ahead of earlier-queued normal items")

	second, ok := p.dequeue()
	require.True(t, ok)
	assert.Equal(t, "N1", second.fused.Signal.Symbol, "FIFO order preserved within the normal class")

	third, ok := p.dequeue()
	require.True(t, ok)
	assert.Equal(t, "N2", third.fused.Signal.Symbol)

	_, ok = p.dequeue()
	assert.False(t, ok)
}

func TestDeliver_RetriesThenSucceeds(t *testing.T) {
	sink := &recordingSink{name: "flaky", failTimes: 2}
	p := New(Config{
		Workers:       1,
		QueueCapacity: 10,
		RetryPolicy:   retry.Fixed(1*time.Millisecond, 5),
	}, []Sink{sink}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p.deliver(ctx, task{fused: fusedWith("PEPE", model.TierB, model.UrgencyNormal, 70, false)})

	assert.Len(t, sink.snapshot(), 1)
	assert.Equal(t, int64(0), p.DroppedCount())
}

func TestDeliver_DropsAfterExhaustingRetries(t *testing.T) {
	sink := &recordingSink{name: "always_fails", failTimes: 1000}
	p := New(Config{
		Workers:       1,
		QueueCapacity: 10,
		RetryPolicy:   retry.Fixed(1*time.Millisecond, 3),
	}, []Sink{sink}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var acked bool
	p.deliver(ctx, task{
		fused: fusedWith("DEAD", model.TierC, model.UrgencyLow, 45, false),
		ack:   func(context.Context) error { acked = true; return nil },
	})

	assert.Empty(t, sink.snapshot())
	assert.Equal(t, int64(1), p.DroppedCount())
	assert.True(t, acked, "ack must still fire after a terminal failure, so the raw message is not redelivered forever")
}
