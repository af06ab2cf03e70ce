package services

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/chatlet/automation-service/internal/models"
)

// EventListener subscribes to the platform's redis event channels and feeds
// well-formed trigger events into the execution engine. It is one of the two
// intake paths; the other is the HTTP emit endpoint.
type EventListener struct {
	redis    *redis.Client
	engine   *ExecutionEngine
	channels []string
	logger   *zap.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewEventListener creates a listener for the given channels.
func NewEventListener(redisClient *redis.Client, engine *ExecutionEngine, channels []string, logger *zap.Logger) *EventListener {
	return &EventListener{
		redis:    redisClient,
		engine:   engine,
		channels: channels,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start subscribes and consumes events until Stop is called.
func (l *EventListener) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel

	pubsub := l.redis.Subscribe(ctx, l.channels...)
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		return err
	}

	l.logger.Info("Event listener started", zap.Strings("channels", l.channels))

	go func() {
		defer close(l.done)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				l.handleMessage(ctx, msg)
			}
		}
	}()
	return nil
}

// Stop unsubscribes and waits for the consume loop to drain.
func (l *EventListener) Stop() {
	if l.cancel != nil {
		l.cancel()
		<-l.done
	}
}

func (l *EventListener) handleMessage(ctx context.Context, msg *redis.Message) {
	var event models.TriggerEvent
	if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
		l.logger.Warn("Dropping malformed event payload",
			zap.String("channel", msg.Channel),
			zap.Error(err))
		return
	}

	if _, err := l.engine.ProcessEvent(ctx, &event); err != nil {
		l.logger.Warn("Failed to process event",
			zap.String("channel", msg.Channel),
			zap.String("event_type", event.Type),
			zap.Error(err))
	}
}
