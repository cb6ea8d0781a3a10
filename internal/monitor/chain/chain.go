// Package chain implements the on-chain source monitor: an EVM JSON-RPC
// liveness probe (eth_blockNumber) on a fixed cadence, plus an optional
// per-chain factory/router log filter that surfaces newly created pairs as
// RawEvents tagged chain_contract.
package chain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/signalforge/fusion/internal/clock"
	"github.com/signalforge/fusion/internal/heartbeat"
	"github.com/signalforge/fusion/internal/logging"
	"github.com/signalforge/fusion/internal/metrics"
	"github.com/signalforge/fusion/internal/model"
	"github.com/signalforge/fusion/internal/monitor"
)

// Config describes one chain's RPC endpoint and the factory contracts, if
// any, whose logs should be watched for new-pair events.
type Config struct {
	Chain         model.ChainID
	RPCURL        string
	PollInterval  time.Duration
	FactoryAddrs  []common.Address // optional: pair/token-creation emitters
	CreationTopic common.Hash      // topic0 identifying a pair-created log
}

// Monitor polls one chain's RPC endpoint for liveness and, when configured,
// new pair-creation logs.
type Monitor struct {
	cfg       Config
	client    *ethclient.Client
	emitter   monitor.Emitter
	clock     clock.Clock
	heartbeat *heartbeat.Publisher
	logger    zerolog.Logger
	lastBlock uint64
}

// New dials the RPC endpoint and returns a chain Monitor.
func New(cfg Config, emitter monitor.Emitter, clk clock.Clock, hb *heartbeat.Publisher, logger zerolog.Logger) (*Monitor, error) {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, err
	}
	return &Monitor{
		cfg:       cfg,
		client:    client,
		emitter:   emitter,
		clock:     clk,
		heartbeat: hb,
		logger:    logger.With().Str("component", "monitor.chain").Str("chain", string(cfg.Chain)).Logger(),
	}, nil
}

// Run polls at cfg.PollInterval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	defer logging.RecoverPanic(m.logger, "monitor.chain", map[string]any{"chain": string(m.cfg.Chain)})
	defer m.client.Close()

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := m.poll(ctx); err != nil {
			m.heartbeat.Counters().IncErrors(1)
			metrics.IncMonitorError("chain_" + string(m.cfg.Chain))
			m.logger.Warn().Err(err).Msg("poll cycle failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *Monitor) poll(ctx context.Context) error {
	m.heartbeat.Counters().IncScans(1)

	head, err := m.client.BlockNumber(ctx)
	if err != nil {
		return err
	}

	if len(m.cfg.FactoryAddrs) == 0 {
		m.lastBlock = head
		return nil
	}

	from := m.lastBlock
	if from == 0 {
		from = head
	}
	m.lastBlock = head
	if head <= from {
		return nil
	}

	logs, err := m.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from + 1),
		ToBlock:   new(big.Int).SetUint64(head),
		Addresses: m.cfg.FactoryAddrs,
		Topics:    [][]common.Hash{{m.cfg.CreationTopic}},
	})
	if err != nil {
		return err
	}

	for _, l := range logs {
		if len(l.Topics) < 2 {
			continue
		}
		tokenAddr := common.HexToAddress(l.Topics[1].Hex())

		raw := model.RawEvent{
			EventID:         uuid.NewString(),
			SourceType:      model.SourceChain,
			Source:          "chain_contract",
			Exchange:        string(m.cfg.Chain),
			Symbol:          tokenAddr.Hex(),
			ContractAddress: tokenAddr.Hex(),
			Chain:           string(m.cfg.Chain),
			DetectedAt:      m.clock.NowMs(),
		}

		emitted, err := m.emitter.EmitIfNew(ctx, raw)
		if err != nil {
			m.logger.Warn().Err(err).Str("token", tokenAddr.Hex()).Msg("emit failed")
			continue
		}
		if emitted {
			m.heartbeat.Counters().IncEvents(1)
			metrics.IncMonitorEvent("chain_" + string(m.cfg.Chain))
		}
	}

	return nil
}
