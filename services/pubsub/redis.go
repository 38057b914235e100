package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/nithadya/classsync/core"
	"github.com/nithadya/classsync/core/points"
)

// message is the wire format of a score change. Origin lets an instance skip its own changes.
type message struct {
	Origin string             `json:"origin"`
	Change points.ScoreChange `json:"change"`
}

// RedisBus publishes score changes to the other instances of the API, and relays theirs.
type RedisBus struct {
	rdb     *redis.Client
	channel string
	origin  string
	logger  core.Logger
	timeout time.Duration
}

var _ points.Notifier = (*RedisBus)(nil)

// NewRedisBus connects to conf.Redis. origin identifies this instance on the channel.
func NewRedisBus(conf *core.Config, origin string, logger core.Logger) (*RedisBus, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        conf.Redis.Addr,
		Password:    conf.Redis.Password,
		DB:          conf.Redis.DB,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "pinging redis")
	}

	channel := conf.Redis.Channel
	if channel == "" {
		channel = "classsync:points"
	}
	return &RedisBus{
		rdb:     rdb,
		channel: channel,
		origin:  origin,
		logger:  logger,
		timeout: 2 * time.Second,
	}, nil
}

// Notify publishes change in the background.
func (b *RedisBus) Notify(change points.ScoreChange) {
	payload, err := encode(b.origin, change)
	if err != nil {
		b.logger.Error(fmt.Sprintf("encoding score change of user %s: %v", change.UserID, err), err)
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()
		if err := b.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
			b.logger.Warn(fmt.Sprintf("publishing score change of user %s: %v", change.UserID, err), err)
		}
	}()
}

// Forward relays the changes published by other instances to dst until ctx is done.
func (b *RedisBus) Forward(ctx context.Context, dst points.Notifier) error {
	sub := b.rdb.Subscribe(ctx, b.channel)
	// ensures subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return errors.Wrap(err, "subscribing to redis")
	}

	go func() {
		//goland:noinspection GoUnhandledErrorResult
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				b.relay(m.Payload, dst)
			}
		}
	}()
	return nil
}

func (b *RedisBus) relay(payload string, dst points.Notifier) {
	origin, change, err := decode(payload)
	if err != nil {
		b.logger.Warn(fmt.Sprintf("bad score change on %s: %v", b.channel, err), err)
		return
	}
	if origin == b.origin {
		return
	}
	dst.Notify(change)
}

func (b *RedisBus) Close() error {
	return b.rdb.Close()
}

func encode(origin string, change points.ScoreChange) ([]byte, error) {
	return json.Marshal(message{Origin: origin, Change: change})
}

func decode(payload string) (string, points.ScoreChange, error) {
	var msg message
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return "", points.ScoreChange{}, err
	}
	if msg.Change.UserID == "" {
		return "", points.ScoreChange{}, errors.New("missing user_id")
	}
	return msg.Origin, msg.Change, nil
}
