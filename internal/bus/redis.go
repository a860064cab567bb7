package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nidhogg/hivemind/internal/dispatch"
)

const (
	assignPrefix     = "hivemind:assign:"
	completionStream = "hivemind:complete"
)

// Resolver routes a completion back to the attempt waiting on its token.
type Resolver interface {
	Resolve(token string, comp *dispatch.Completion) bool
}

// Redis is a transport over Redis Streams: one assignment stream per
// agent, one shared completion stream drained by the coordinator.
type Redis struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewRedis connects a Redis-backed assignment bus.
func NewRedis(redisURL string, logger *zap.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{rdb: rdb, logger: logger}, nil
}

// Deliver appends an assignment to the target agent's stream.
func (b *Redis) Deliver(ctx context.Context, agentID string, asg *dispatch.Assignment) error {
	data, err := json.Marshal(asg)
	if err != nil {
		return err
	}

	stream := assignPrefix + agentID
	_, err = b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("deliver to %s: %w", stream, err)
	}

	b.logger.Debug("delivered assignment",
		zap.String("agent", agentID),
		zap.String("task", asg.TaskID),
		zap.String("token", asg.Token))
	return nil
}

// Assignments listens on an agent's stream. Returns a channel that emits
// assignments. Cancel the context to stop.
func (b *Redis) Assignments(ctx context.Context, agentID string) <-chan *dispatch.Assignment {
	ch := make(chan *dispatch.Assignment, 16)
	stream := assignPrefix + agentID

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   10,
				Block:   time.Second * 2,
			}).Result()

			if err != nil {
				if err == context.Canceled || err == context.DeadlineExceeded {
					return
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var asg dispatch.Assignment
					if json.Unmarshal([]byte(data), &asg) == nil {
						ch <- &asg
					}
				}
			}
		}
	}()

	return ch
}

// PublishCompletion appends a worker's completion to the shared stream.
func (b *Redis) PublishCompletion(ctx context.Context, comp *dispatch.Completion) error {
	data, err := json.Marshal(comp)
	if err != nil {
		return err
	}
	_, err = b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: completionStream,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish completion: %w", err)
	}
	return nil
}

// ResolveLoop drains the completion stream and routes each completion to
// the resolver. Completions whose token has been retired are dropped by
// the resolver itself. Blocks until ctx is done.
func (b *Redis) ResolveLoop(ctx context.Context, resolver Resolver) {
	lastID := "$"

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
			Streams: []string{completionStream, lastID},
			Count:   10,
			Block:   time.Second * 2,
		}).Result()

		if err != nil {
			if err == context.Canceled || err == context.DeadlineExceeded {
				return
			}
			continue
		}

		for _, r := range results {
			for _, msg := range r.Messages {
				lastID = msg.ID
				data, ok := msg.Values["data"].(string)
				if !ok {
					continue
				}
				var comp dispatch.Completion
				if err := json.Unmarshal([]byte(data), &comp); err != nil {
					b.logger.Warn("malformed completion dropped", zap.Error(err))
					continue
				}
				resolver.Resolve(comp.Token, &comp)
			}
		}
	}
}

// Close shuts down the Redis connection.
func (b *Redis) Close() error {
	return b.rdb.Close()
}
