package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/newsletter-worker/internal/config"
)

// Event kinds published on a user's progress channel.
const (
	EventItemCompleted = "item_completed"
	EventItemFailed    = "item_failed"
	EventItemSkipped   = "item_skipped"
	EventRunFinished   = "run_finished"
)

// Event is one progress update for a processing run. Item events carry the
// email that just finished; the run_finished event carries the run totals.
type Event struct {
	Type      string    `json:"type"`
	UserID    string    `json:"userId"`
	EmailID   string    `json:"emailId,omitempty"`
	Subject   string    `json:"subject,omitempty"`
	Companies int       `json:"companies,omitempty"`
	Error     string    `json:"error,omitempty"`
	Processed int       `json:"processed,omitempty"`
	Remaining int       `json:"remaining,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher broadcasts processing progress to interested subscribers.
// Publishing is best-effort: a failed publish must never fail the run.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
	Close() error
}

// RedisPublisher fans events out over redis pub/sub, one channel per user.
type RedisPublisher struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to redis and verifies the connection with a ping.
func NewRedis(ctx context.Context, cfg config.RedisConfig) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, eris.Wrap(err, "progress: redis ping")
	}
	return &RedisPublisher{client: client, prefix: cfg.ChannelPrefix}, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		zap.L().Warn("failed to encode progress event", zap.Error(err))
		return
	}
	channel := fmt.Sprintf("%s:%s", p.prefix, ev.UserID)
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		zap.L().Warn("failed to publish progress event",
			zap.String("channel", channel),
			zap.Error(err))
	}
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

// Noop discards all events. Used when no redis address is configured and in
// tests that do not care about progress output.
type Noop struct{}

func (Noop) Publish(context.Context, Event) {}
func (Noop) Close() error                   { return nil }
