// Package ws implements the WebSocket source monitor: a long-lived
// subscription per exchange that reconnects with a bounded, jittered delay
// and treats silence past an idle timeout as a dead connection, per
// spec.md §4.1/§5.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/signalforge/fusion/internal/clock"
	"github.com/signalforge/fusion/internal/extract"
	"github.com/signalforge/fusion/internal/heartbeat"
	"github.com/signalforge/fusion/internal/logging"
	"github.com/signalforge/fusion/internal/metrics"
	"github.com/signalforge/fusion/internal/model"
	"github.com/signalforge/fusion/internal/monitor"
)

const (
	pingInterval  = 30 * time.Second
	idleTimeout   = 60 * time.Second
	defaultReconn = 5 * time.Second
)

// Config describes one exchange's WS source.
type Config struct {
	Exchange      string
	URL           string
	SubscribeMsg  []byte // raw payload sent immediately after connect, if non-nil
	Parser        monitor.ParserSpec
	ReconnectBase time.Duration
}

// Monitor maintains one exchange's WebSocket subscription on its own
// goroutine, reconnecting on error or idle timeout.
type Monitor struct {
	cfg       Config
	emitter   monitor.Emitter
	clock     clock.Clock
	heartbeat *heartbeat.Publisher
	logger    zerolog.Logger
}

// New returns a WS Monitor.
func New(cfg Config, emitter monitor.Emitter, clk clock.Clock, hb *heartbeat.Publisher, logger zerolog.Logger) *Monitor {
	if cfg.ReconnectBase == 0 {
		cfg.ReconnectBase = defaultReconn
	}
	return &Monitor{
		cfg:       cfg,
		emitter:   emitter,
		clock:     clk,
		heartbeat: hb,
		logger:    logger.With().Str("component", "monitor.ws").Str("exchange", cfg.Exchange).Logger(),
	}
}

// Run connects and reconnects until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	defer logging.RecoverPanic(m.logger, "monitor.ws", map[string]any{"exchange": m.cfg.Exchange})

	for {
		if ctx.Err() != nil {
			return
		}

		if err := m.runOnce(ctx); err != nil {
			m.heartbeat.Counters().IncErrors(1)
			metrics.IncMonitorError("ws_" + m.cfg.Exchange)
			m.logger.Warn().Err(err).Msg("connection lost, reconnecting")
		}

		delay := monitor.ReconnectDelay(m.cfg.ReconnectBase, jitter)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		m.heartbeat.Counters().IncReconnects(1)
		metrics.IncWSReconnect(m.cfg.Exchange)
	}
}

func jitter() time.Duration {
	return time.Duration(rand.Int63n(int64(time.Second)))
}

// runOnce owns a single connection lifetime: dial, optional subscribe,
// merge the read loop and an idle-timeout/ping ticker, return on any error
// or on silence exceeding idleTimeout so the caller reconnects.
func (m *Monitor) runOnce(ctx context.Context) error {
	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, _, err := ws.Dial(connCtx, m.cfg.URL)
	cancel()
	if err != nil {
		return fmt.Errorf("ws monitor %s: dial: %w", m.cfg.Exchange, err)
	}
	defer conn.Close()

	m.logger.Info().Msg("connected")

	if m.cfg.SubscribeMsg != nil {
		if err := wsutil.WriteClientMessage(conn, ws.OpText, m.cfg.SubscribeMsg); err != nil {
			return fmt.Errorf("ws monitor %s: subscribe: %w", m.cfg.Exchange, err)
		}
	}

	messages := make(chan []byte, 256)
	readErrs := make(chan error, 1)

	go func() {
		defer close(messages)
		for {
			data, op, err := wsutil.ReadServerData(conn)
			if err != nil {
				readErrs <- err
				return
			}
			if op != ws.OpText && op != ws.OpBinary {
				continue
			}
			select {
			case messages <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	idle := time.NewTimer(idleTimeout)
	defer idle.Stop()
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErrs:
			return fmt.Errorf("ws monitor %s: read: %w", m.cfg.Exchange, err)
		case data, ok := <-messages:
			if !ok {
				return fmt.Errorf("ws monitor %s: read channel closed", m.cfg.Exchange)
			}
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(idleTimeout)
			m.handleMessage(ctx, data)
		case <-ping.C:
			if err := wsutil.WriteClientMessage(conn, ws.OpPing, nil); err != nil {
				return fmt.Errorf("ws monitor %s: ping: %w", m.cfg.Exchange, err)
			}
		case <-idle.C:
			return fmt.Errorf("ws monitor %s: idle timeout exceeded", m.cfg.Exchange)
		}
	}
}

func (m *Monitor) handleMessage(ctx context.Context, data []byte) {
	m.heartbeat.Counters().IncScans(1)

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return
	}

	symbols := m.cfg.Parser.Parse(doc)
	for _, symbol := range symbols {
		raw := model.RawEvent{
			EventID:    uuid.NewString(),
			SourceType: model.SourceWebSocket,
			Source:     "ws_" + m.cfg.Exchange,
			Exchange:   m.cfg.Exchange,
			Symbol:     symbol,
			DetectedAt: m.clock.NowMs(),
		}
		if addr, chain, ok := extract.ContractAddress(symbol); ok {
			raw.ContractAddress = addr
			raw.Chain = string(chain)
		}

		emitted, err := m.emitter.EmitIfNew(ctx, raw)
		if err != nil {
			m.logger.Warn().Err(err).Str("symbol", symbol).Msg("emit failed")
			continue
		}
		if emitted {
			m.heartbeat.Counters().IncEvents(1)
			metrics.IncMonitorEvent("ws_" + m.cfg.Exchange)
		}
	}
}
