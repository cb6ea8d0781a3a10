// Package config loads the system's single configuration surface from
// environment variables (with an optional .env file for local development),
// validates it, and refuses to start on anything invalid — per spec.md's
// "Configuration invalid at startup: fatal" rule.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config is the enumerated configuration surface of spec.md §6.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT" envDefault:"json"`

	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	RawStream      string `env:"RAW_STREAM" envDefault:"events:raw"`
	FusedStream    string `env:"FUSED_STREAM" envDefault:"events:fused"`
	FusionGroup    string `env:"FUSION_GROUP" envDefault:"fusion_group"`
	PusherGroup    string `env:"PUSHER_GROUP" envDefault:"pusher_group"`
	StreamMaxLen   int64  `env:"STREAM_MAX_LEN" envDefault:"50000"`

	AggregationWindow time.Duration `env:"AGGREGATION_WINDOW" envDefault:"600s"`
	MaxPendingEvents  int           `env:"MAX_PENDING_EVENTS" envDefault:"500"`
	AggregatorShards  int           `env:"AGGREGATOR_SHARDS" envDefault:"4"`

	CooldownDefault   time.Duration `env:"COOLDOWN_DEFAULT" envDefault:"1800s"`
	CooldownHighScore time.Duration `env:"COOLDOWN_HIGH_SCORE" envDefault:"900s"`
	CooldownKoreanArb time.Duration `env:"COOLDOWN_KOREAN_ARB" envDefault:"300s"`

	PositionSizeTierS1       float64 `env:"POSITION_SIZE_TIER_S_TIER1" envDefault:"0.7"`
	PositionSizeKoreanArb    float64 `env:"POSITION_SIZE_KOREAN_ARB" envDefault:"0.5"`
	PositionSizeMultiExch    float64 `env:"POSITION_SIZE_MULTI_EXCHANGE" envDefault:"0.5"`
	PositionSizeHighScore    float64 `env:"POSITION_SIZE_HIGH_SCORE" envDefault:"0.3"`
	PositionSizeDefault      float64 `env:"POSITION_SIZE_DEFAULT" envDefault:"0.2"`

	MaxTriggersPerSymbol int           `env:"MAX_TRIGGERS_PER_SYMBOL" envDefault:"2"`
	TriggerWindow        time.Duration `env:"TRIGGER_WINDOW" envDefault:"3600s"`
	ScoreGate            float64       `env:"SCORE_GATE" envDefault:"60"`

	RESTPollIntervals map[string]time.Duration `env:"-"`
	RESTPollDefault   time.Duration             `env:"REST_POLL_DEFAULT" envDefault:"15s"`

	TierSSources     []string `env:"TIER_S_SOURCES" envSeparator:"," envDefault:"tg_alpha_intel,tg_insider_leak,formula_news,listing_alpha,cex_listing_intel"`
	Tier1Exchanges   []string `env:"TIER_1_EXCHANGES" envSeparator:"," envDefault:"binance,coinbase,upbit,okx,bybit"`
	KoreanExchanges  []string `env:"KOREAN_EXCHANGES" envSeparator:"," envDefault:"upbit,bithumb,coinone,korbit,gopax"`
	OfficialSources  []string `env:"OFFICIAL_SOURCES" envSeparator:"," envDefault:"tg_exchange_official,rest_api_binance,rest_api_okx,rest_api_upbit,rest_api_coinbase"`

	QuickFilterKeywords []string `env:"QUICK_FILTER_KEYWORDS" envSeparator:"," envDefault:"list,listing,launch,airdrop,tge"`
	SkipMediaOnly       bool     `env:"SKIP_MEDIA_ONLY" envDefault:"true"`
	MinTextLength       int      `env:"MIN_TEXT_LENGTH" envDefault:"8"`

	PusherWorkers   int `env:"PUSHER_WORKERS" envDefault:"3"`
	PusherMaxRetry  int `env:"PUSHER_MAX_RETRIES" envDefault:"3"`
	PusherQueueSize int `env:"PUSHER_QUEUE_SIZE" envDefault:"1000"`

	HTTPPerHostCap   int           `env:"HTTP_PER_HOST_CAP" envDefault:"10"`
	HTTPGlobalCap    int           `env:"HTTP_GLOBAL_CAP" envDefault:"50"`
	HTTPTimeout      time.Duration `env:"HTTP_TIMEOUT" envDefault:"10s"`
	RESTPollTimeout  time.Duration `env:"REST_POLL_TIMEOUT" envDefault:"15s"`
	WSIdleTimeout    time.Duration `env:"WS_IDLE_TIMEOUT" envDefault:"30s"`
	WSReconnectDelay time.Duration `env:"WS_RECONNECT_DELAY" envDefault:"5s"`

	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"30s"`
	HeartbeatTTL      time.Duration `env:"HEARTBEAT_TTL" envDefault:"90s"`

	ShutdownGracePeriod time.Duration `env:"SHUTDOWN_GRACE_PERIOD" envDefault:"10s"`

	TelegramChannelIDs []int64 `env:"TELEGRAM_CHANNEL_IDS" envSeparator:","`
	TelegramBotToken   string  `env:"TELEGRAM_BOT_TOKEN" envDefault:""`

	NewsFeedURLs []string `env:"NEWS_FEED_URLS" envSeparator:","`

	ChainRPCURL       string        `env:"CHAIN_RPC_URL" envDefault:""`
	ChainPollInterval time.Duration `env:"CHAIN_POLL_INTERVAL" envDefault:"15s"`

	WebhookURL      string `env:"WEBHOOK_URL" envDefault:""`
	GenericSinkURL  string `env:"GENERIC_SINK_URL" envDefault:""`

	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9090"`
}

// restPollIntervalPrefix is the env-var prefix for per-exchange poll
// intervals (rest_poll_intervals.<exchange> in spec.md §6), e.g.
// REST_POLL_INTERVAL_BINANCE=5s.
const restPollIntervalPrefix = "REST_POLL_INTERVAL_"

// Load reads configuration from .env (if present) and the environment,
// parses per-exchange REST poll intervals out of the raw environment, and
// validates the result.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil && logger != nil {
		logger.Info().Msg("no .env file found, using environment variables only")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.RESTPollIntervals = parsePollIntervals(os.Environ())

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func parsePollIntervals(environ []string) map[string]time.Duration {
	out := map[string]time.Duration{}
	for _, kv := range environ {
		key, val, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, restPollIntervalPrefix) {
			continue
		}
		exchange := strings.ToLower(strings.TrimPrefix(key, restPollIntervalPrefix))
		if d, err := time.ParseDuration(val); err == nil {
			out[exchange] = d
		}
	}
	return out
}

// Validate checks the configuration for internal consistency. Empty
// Tier-S/Tier-1/Korean sets are a fatal configuration error per spec.md §9:
// these sets must be explicit, never hard-coded defaults silently assumed.
func (c *Config) Validate() error {
	if len(c.TierSSources) == 0 {
		return fmt.Errorf("TIER_S_SOURCES must not be empty")
	}
	if len(c.Tier1Exchanges) == 0 {
		return fmt.Errorf("TIER_1_EXCHANGES must not be empty")
	}
	if len(c.KoreanExchanges) == 0 {
		return fmt.Errorf("KOREAN_EXCHANGES must not be empty")
	}
	if c.HeartbeatTTL < 2*c.HeartbeatInterval {
		return fmt.Errorf("HEARTBEAT_TTL (%s) must be >= 2x HEARTBEAT_INTERVAL (%s)", c.HeartbeatTTL, c.HeartbeatInterval)
	}
	if c.PusherWorkers < 1 {
		return fmt.Errorf("PUSHER_WORKERS must be > 0, got %d", c.PusherWorkers)
	}
	if c.MaxTriggersPerSymbol < 1 {
		return fmt.Errorf("MAX_TRIGGERS_PER_SYMBOL must be > 0, got %d", c.MaxTriggersPerSymbol)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of debug,info,warn,error (got %q)", c.LogLevel)
	}
	validFormats := map[string]bool{"json": true, "pretty": true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of json,pretty (got %q)", c.LogFormat)
	}
	return nil
}

// PollInterval returns the configured REST poll interval for exchange,
// falling back to RESTPollDefault.
func (c *Config) PollInterval(exchange string) time.Duration {
	if d, ok := c.RESTPollIntervals[strings.ToLower(exchange)]; ok {
		return d
	}
	return c.RESTPollDefault
}
