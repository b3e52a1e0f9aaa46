package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"

	"ridebook/internal/config"
)

// NewRedisClient creates a Redis client. With nrApp set, every command is
// recorded as a datastore segment on the request's transaction.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig, nrApp *newrelic.Application) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if nrApp != nil {
		client.AddHook(segmentHook{db: fmt.Sprint(cfg.DB)})
	}

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return client, nil
}

// segmentHook reports Redis commands to New Relic, grouped by key family
// ("lock", "driver", "drivers", "idempotency").
type segmentHook struct {
	db string
}

func (h segmentHook) DialHook(next redis.DialHook) redis.DialHook {
	return next
}

func (h segmentHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		seg := h.segment(ctx, cmd.Name(), keyFamily(cmd))
		err := next(ctx, cmd)
		seg.end()
		return err
	}
}

func (h segmentHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		family := ""
		if len(cmds) > 0 {
			family = keyFamily(cmds[0])
		}
		seg := h.segment(ctx, "pipeline", family)
		err := next(ctx, cmds)
		seg.end()
		return err
	}
}

type redisSegment struct {
	seg *newrelic.DatastoreSegment
}

// segment starts a datastore segment when ctx carries a transaction.
func (h segmentHook) segment(ctx context.Context, op, collection string) redisSegment {
	txn := newrelic.FromContext(ctx)
	if txn == nil {
		return redisSegment{}
	}
	return redisSegment{seg: &newrelic.DatastoreSegment{
		StartTime:    txn.StartSegmentNow(),
		Product:      newrelic.DatastoreRedis,
		Operation:    op,
		Collection:   collection,
		DatabaseName: h.db,
	}}
}

func (s redisSegment) end() {
	if s.seg != nil {
		s.seg.End()
	}
}

// keyFamily returns the prefix of the command's first key, up to the first colon.
func keyFamily(cmd redis.Cmder) string {
	args := cmd.Args()
	if len(args) < 2 {
		return ""
	}
	key, ok := args[1].(string)
	if !ok {
		return ""
	}
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}
