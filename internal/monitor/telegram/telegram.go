// Package telegram implements the Telegram push-source monitor: listens on
// a long-poll update stream for a fixed numeric channel-id set, applies a
// quick keyword pre-filter and minimum-length gate, rejects media-only
// messages without a caption, and emits.
package telegram

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
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

// minTextLength is spec.md §4.1's "drop messages below a minimum text
// length" gate.
const minTextLength = 8

// ChannelTag pairs a resolved numeric channel id with the classification
// tag it should carry (tg_alpha_intel or tg_exchange_official), per
// spec.md §4.2's classification taxonomy.
type ChannelTag struct {
	ChatID int64
	Source string
}

// Config describes the Telegram source.
type Config struct {
	Token    string
	Channels []ChannelTag
	Keywords []string // case-insensitive pre-filter membership set
}

// Monitor runs the Telegram update-stream listener.
type Monitor struct {
	cfg       Config
	bot       *tgbotapi.BotAPI
	emitter   monitor.Emitter
	clock     clock.Clock
	heartbeat *heartbeat.Publisher
	logger    zerolog.Logger
	channels  map[int64]string
	keywords  []string
}

// New returns a Telegram Monitor. Dialing the Bot API happens here since
// the token must be validated before Run is ever called.
func New(cfg Config, emitter monitor.Emitter, clk clock.Clock, hb *heartbeat.Publisher, logger zerolog.Logger) (*Monitor, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, err
	}

	channels := make(map[int64]string, len(cfg.Channels))
	for _, ct := range cfg.Channels {
		channels[ct.ChatID] = ct.Source
	}

	keywords := make([]string, len(cfg.Keywords))
	for i, kw := range cfg.Keywords {
		keywords[i] = strings.ToLower(kw)
	}

	return &Monitor{
		cfg:       cfg,
		bot:       bot,
		emitter:   emitter,
		clock:     clk,
		heartbeat: hb,
		logger:    logger.With().Str("component", "monitor.telegram").Logger(),
		channels:  channels,
		keywords:  keywords,
	}, nil
}

// Run consumes the long-poll update channel until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	defer logging.RecoverPanic(m.logger, "monitor.telegram", nil)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := m.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			m.bot.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			m.handleUpdate(ctx, update)
		}
	}
}

func (m *Monitor) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.ChannelPost == nil && update.Message == nil {
		return
	}

	msg := update.ChannelPost
	if msg == nil {
		msg = update.Message
	}

	source, known := m.channels[msg.Chat.ID]
	if !known {
		return
	}

	m.heartbeat.Counters().IncScans(1)

	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	if text == "" {
		// media-only message with no caption: rejected per spec.md §4.1.
		return
	}
	if len(text) < minTextLength {
		return
	}
	if !m.matchesKeyword(text) {
		return
	}

	symbols := extract.Symbols(text)
	if len(symbols) == 0 {
		return
	}

	raw := model.RawEvent{
		EventID:    uuid.NewString(),
		SourceType: model.SourceTelegram,
		Source:     source,
		Symbol:     symbols[0],
		Symbols:    symbols,
		RawText:    text,
		DetectedAt: m.clock.NowMs(),
	}
	raw.Chain = string(extract.InferChain(text))
	if addr, chain, ok := extract.ContractAddress(text); ok {
		raw.ContractAddress = addr
		raw.Chain = string(chain)
	}

	emitted, err := m.emitter.EmitIfNew(ctx, raw)
	if err != nil {
		m.heartbeat.Counters().IncErrors(1)
		metrics.IncMonitorError("telegram")
		m.logger.Warn().Err(err).Msg("emit failed")
		return
	}
	if emitted {
		m.heartbeat.Counters().IncEvents(1)
		metrics.IncMonitorEvent("telegram")
	}
}

func (m *Monitor) matchesKeyword(text string) bool {
	if len(m.keywords) == 0 {
		return true
	}
	lower := strings.ToLower(text)
	for _, kw := range m.keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
