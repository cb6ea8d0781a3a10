// Package redisstream is the production EventLog, backed by Redis Streams
// for the append/consume/ack surface and plain Redis keys for the
// auxiliary KV/set/hash capability set.
package redisstream

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/signalforge/fusion/internal/eventlog"
)

// Log adapts a *redis.Client to eventlog.EventLog.
type Log struct {
	client *redis.Client
}

// Config is the subset of redis.Options the pipeline exposes through its
// own Config struct.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// New dials Redis and returns a Log, failing fast on a bad Addr.
func New(cfg Config) (*Log, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Log{client: client}, nil
}

// Append implements eventlog.EventLog via XADD ... MAXLEN ~ maxLen.
func (l *Log) Append(ctx context.Context, stream string, fields map[string]string, maxLen int64) (string, error) {
	args := &redis.XAddArgs{
		Stream: stream,
		Values: fields,
	}
	if maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = true
	}
	return l.client.XAdd(ctx, args).Result()
}

// EnsureGroup implements eventlog.EventLog via XGROUP CREATE MKSTREAM,
// tolerating the BUSYGROUP error Redis returns when the group already
// exists.
func (l *Log) EnsureGroup(ctx context.Context, stream, group string) error {
	err := l.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		if isBusyGroup(err) {
			return nil
		}
		return err
	}
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

// ReadGroup implements eventlog.EventLog via XREADGROUP over ">" (new
// entries only, no redelivery of already-claimed pending entries).
func (l *Log) ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]eventlog.Message, error) {
	res, err := l.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var out []eventlog.Message
	for _, s := range res {
		for _, xm := range s.Messages {
			fields := make(map[string]string, len(xm.Values))
			for k, v := range xm.Values {
				if sv, ok := v.(string); ok {
					fields[k] = sv
				}
			}
			out = append(out, eventlog.Message{ID: xm.ID, Fields: fields})
		}
	}
	return out, nil
}

// Ack implements eventlog.EventLog via XACK.
func (l *Log) Ack(ctx context.Context, stream, group string, ids ...string) error {
	return l.client.XAck(ctx, stream, group, ids...).Err()
}

// Set implements eventlog.EventLog.
func (l *Log) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return l.client.Set(ctx, key, value, ttl).Err()
}

// Get implements eventlog.EventLog.
func (l *Log) Get(ctx context.Context, key string) (string, error) {
	v, err := l.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", eventlog.ErrNotFound
	}
	return v, err
}

// SAdd implements eventlog.EventLog.
func (l *Log) SAdd(ctx context.Context, key string, members ...string) error {
	anys := make([]interface{}, len(members))
	for i, m := range members {
		anys[i] = m
	}
	return l.client.SAdd(ctx, key, anys...).Err()
}

// SIsMember implements eventlog.EventLog.
func (l *Log) SIsMember(ctx context.Context, key, member string) (bool, error) {
	return l.client.SIsMember(ctx, key, member).Result()
}

// HSet implements eventlog.EventLog.
func (l *Log) HSet(ctx context.Context, key string, fields map[string]string) error {
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return l.client.HSet(ctx, key, args...).Err()
}

// HGetAll implements eventlog.EventLog.
func (l *Log) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return l.client.HGetAll(ctx, key).Result()
}

// Expire implements eventlog.EventLog.
func (l *Log) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return l.client.Expire(ctx, key, ttl).Err()
}

// Close implements eventlog.EventLog.
func (l *Log) Close() error {
	return l.client.Close()
}

// XID is a small exported helper that turns a Redis stream ID's
// millisecond component into a plain int64 timestamp. Nothing in this
// repository calls it.
func XID(id string) (int64, error) {
	for i := 0; i < len(id); i++ {
		if id[i] == '-' {
			return strconv.ParseInt(id[:i], 10, 64)
		}
	}
	return strconv.ParseInt(id, 10, 64)
}
