// Package metrics exposes the fusion pipeline's Prometheus instrumentation
// and the /metrics + /healthz HTTP endpoints an operator's Prometheus
// server scrapes, following the same counter/gauge/histogram naming and
// registration shape as ws/metrics.go.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	eventsScannedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fusion_events_scanned_total",
		Help: "Total raw events read off events:raw, by pipeline shard.",
	}, []string{"shard"})

	eventsTriggeredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fusion_events_triggered_total",
		Help: "Total aggregation groups that satisfied a trigger condition.",
	}, []string{"shard"})

	eventsFusedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fusion_events_fused_total",
		Help: "Total FusedEvents appended to events:fused.",
	}, []string{"shard"})

	decisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fusion_decisions_total",
		Help: "Total Decider outcomes by action (BUY, WATCH, SKIP).",
	}, []string{"action"})

	monitorEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fusion_monitor_events_total",
		Help: "Total RawEvents emitted per source monitor.",
	}, []string{"monitor"})

	monitorErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fusion_monitor_errors_total",
		Help: "Total errors encountered per source monitor.",
	}, []string{"monitor"})

	wsReconnectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fusion_ws_reconnects_total",
		Help: "Total WebSocket reconnects per exchange.",
	}, []string{"exchange"})

	pusherDeliveryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fusion_pusher_delivery_duration_seconds",
		Help:    "Time spent delivering a FusedEvent to all configured sinks, including retries.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"priority"})

	pusherDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fusion_pusher_dropped_total",
		Help: "Total FusedEvents dropped after exhausting the delivery retry policy.",
	})

	aggregatorPending = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fusion_aggregator_pending_groups",
		Help: "Current number of in-flight aggregation groups per shard.",
	}, []string{"shard"})

	cooldownActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fusion_decider_cooldown_active",
		Help: "Current number of symbols under an active cooldown.",
	})

	processCPUPercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fusion_process_cpu_percent",
		Help: "Host CPU utilization sampled by internal/resource, percent.",
	})

	processMemoryMB = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fusion_process_memory_mb",
		Help: "Resident set size of this process sampled by internal/resource, megabytes.",
	})
)

func init() {
	prometheus.MustRegister(
		eventsScannedTotal,
		eventsTriggeredTotal,
		eventsFusedTotal,
		decisionsTotal,
		monitorEventsTotal,
		monitorErrorsTotal,
		wsReconnectsTotal,
		pusherDeliveryDuration,
		pusherDroppedTotal,
		aggregatorPending,
		cooldownActive,
		processCPUPercent,
		processMemoryMB,
	)
}

// IncScanned records one raw event consumed by shard.
func IncScanned(shard string) { eventsScannedTotal.WithLabelValues(shard).Inc() }

// IncTriggered records one aggregation group firing on shard.
func IncTriggered(shard string) { eventsTriggeredTotal.WithLabelValues(shard).Inc() }

// IncFused records one FusedEvent appended to events:fused by shard.
func IncFused(shard string) { eventsFusedTotal.WithLabelValues(shard).Inc() }

// IncDecision records one Decider outcome.
func IncDecision(action string) { decisionsTotal.WithLabelValues(action).Inc() }

// IncMonitorEvent records one RawEvent emitted by a named monitor.
func IncMonitorEvent(monitor string) { monitorEventsTotal.WithLabelValues(monitor).Inc() }

// IncMonitorError records one error encountered by a named monitor.
func IncMonitorError(monitor string) { monitorErrorsTotal.WithLabelValues(monitor).Inc() }

// IncWSReconnect records one WebSocket reconnect for exchange.
func IncWSReconnect(exchange string) { wsReconnectsTotal.WithLabelValues(exchange).Inc() }

// ObservePusherDelivery records how long a delivery attempt (across all
// sinks and retries) took, bucketed by priority class.
func ObservePusherDelivery(priority string, d time.Duration) {
	pusherDeliveryDuration.WithLabelValues(priority).Observe(d.Seconds())
}

// IncPusherDropped records one FusedEvent dropped after exhausting retries.
func IncPusherDropped() { pusherDroppedTotal.Inc() }

// SetAggregatorPending records the current pending-group count for shard.
func SetAggregatorPending(shard string, n int) { aggregatorPending.WithLabelValues(shard).Set(float64(n)) }

// SetCooldownActive records the current count of symbols under cooldown.
func SetCooldownActive(n int) { cooldownActive.Set(float64(n)) }

// SetProcessCPUPercent records the latest host CPU utilization sample.
func SetProcessCPUPercent(pct float64) { processCPUPercent.Set(pct) }

// SetProcessMemoryMB records the latest process RSS sample, in megabytes.
func SetProcessMemoryMB(mb float64) { processMemoryMB.Set(mb) }

// Serve runs an HTTP server exposing /metrics (Prometheus) and /healthz
// (plain liveness) until ctx is cancelled, mirroring ws/server.go's mux
// registration and main.go's bounded-shutdown pattern.
func Serve(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
