package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/saaga0h/jeeves-rtls/internal/history"
	"github.com/saaga0h/jeeves-rtls/pkg/config"
	"github.com/saaga0h/jeeves-rtls/pkg/mqtt"
	"github.com/saaga0h/jeeves-rtls/pkg/redis"
)

// Observer applies raw observations to the zone history
type Observer interface {
	Observe(ctx context.Context, obs history.Observation) (history.Result, error)
}

// Agent receives raw zone assignments over MQTT, debounces them into history
// and publishes committed transitions
type Agent struct {
	mqtt       mqtt.Client
	redis      redis.Client
	observer   Observer
	processor  *Processor
	storage    *Storage
	dispatcher *Dispatcher
	cfg        *config.Config
	logger     *slog.Logger

	// confirmed holds tags whose cached zone has been checked against the
	// history since startup. The cache outlives the store's contents across
	// restarts of the in-memory backend and history purges.
	confirmed sync.Map
}

// NewAgent creates a new tracker agent with the given dependencies
func NewAgent(mqttClient mqtt.Client, redisClient redis.Client, observer Observer, cfg *config.Config, logger *slog.Logger) *Agent {
	a := &Agent{
		mqtt:      mqttClient,
		redis:     redisClient,
		observer:  observer,
		processor: NewProcessor(logger),
		storage:   NewStorage(redisClient, logger),
		cfg:       cfg,
		logger:    logger,
	}
	a.dispatcher = NewDispatcher(cfg.Workers, a.process, logger)
	return a
}

// Start connects, subscribes and blocks until ctx is cancelled
func (a *Agent) Start(ctx context.Context) error {
	a.logger.Info("Starting tracker agent",
		"service_name", a.cfg.ServiceName,
		"mqtt_broker", a.cfg.MQTTAddress())

	if err := a.mqtt.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to MQTT: %w", err)
	}

	if err := a.redis.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}

	a.dispatcher.Start(ctx)

	for _, topic := range a.cfg.ZoneTopics {
		if err := a.mqtt.Subscribe(topic, mqtt.QoSAtLeastOnce, a.handleMessage); err != nil {
			a.logger.Error("Failed to subscribe to topic", "topic", topic, "error", err)
			// Continue subscribing to other topics even if one fails
			continue
		}
	}

	a.logger.Info("Tracker agent started and ready to receive messages",
		"subscribed_topics", strings.Join(a.cfg.ZoneTopics, ", "))

	<-ctx.Done()
	a.logger.Info("Tracker agent stopping")

	return nil
}

// Stop drains the workers and closes connections
func (a *Agent) Stop() error {
	a.logger.Info("Stopping tracker agent")

	a.mqtt.Disconnect()
	a.dispatcher.Stop()

	if err := a.redis.Close(); err != nil {
		a.logger.Error("Error closing Redis connection", "error", err)
		return err
	}

	a.logger.Info("Tracker agent stopped")
	return nil
}

// handleMessage parses an incoming MQTT message and queues it on its tag's worker
func (a *Agent) handleMessage(msg mqtt.Message) {
	topic := msg.Topic()
	payload := msg.Payload()

	a.logger.Debug("Received MQTT message", "topic", topic, "size", len(payload))

	zoneMsg, err := a.processor.ParseMessage(topic, payload)
	if err != nil {
		a.logger.Error("Failed to parse message", "topic", topic, "error", err)
		msg.Ack()
		return
	}

	if !a.dispatcher.Dispatch(zoneMsg) {
		a.logger.Warn("Dropped message during shutdown", "tag_id", zoneMsg.TagID)
		return
	}
	msg.Ack()
}

// process handles one message on the tag's worker
func (a *Agent) process(ctx context.Context, msg *ZoneMessage) {
	cached, err := a.storage.Load(ctx, msg.TagID)
	if err != nil {
		// The debouncer treats a repeated zone as a no-op, so carry on without the cache
		a.logger.Warn("Failed to load tag state", "tag_id", msg.TagID, "error", err)
	}

	if _, ok := a.confirmed.Load(msg.TagID); ok && cached != nil && cached.ZoneID == msg.ZoneID {
		if err := a.storage.Touch(ctx, msg.TagID, msg.Distance, msg.Timestamp); err != nil {
			a.logger.Warn("Failed to refresh tag state", "tag_id", msg.TagID, "error", err)
		}
		return
	}

	res, err := a.observeWithRetry(ctx, msg.Observation())
	if err != nil {
		a.logObserveError(msg, err)
		return
	}
	a.confirmed.Store(msg.TagID, struct{}{})

	if err := a.storage.Save(ctx, msg.TagID, CachedTag{
		ZoneID:   res.Current.ZoneID,
		Distance: msg.Distance,
		LastSeen: msg.Timestamp,
	}); err != nil {
		a.logger.Warn("Failed to store tag state", "tag_id", msg.TagID, "error", err)
	}

	if !res.Changed() {
		return
	}

	if err := a.publishTransition(msg, res); err != nil {
		a.logger.Error("Failed to publish transition",
			"tag_id", msg.TagID,
			"zone_id", msg.ZoneID,
			"error", err)
	}

	a.logger.Info("Zone observation processed",
		"tag_id", msg.TagID,
		"zone_id", res.Current.ZoneID,
		"outcome", res.Outcome)
}

// observeWithRetry replays the whole debounce on transient storage failures
func (a *Agent) observeWithRetry(ctx context.Context, obs history.Observation) (history.Result, error) {
	backoff := a.cfg.RetryBackoff

	for attempt := 0; ; attempt++ {
		res, err := a.observer.Observe(ctx, obs)
		if err == nil || !history.IsRetryable(err) || attempt >= a.cfg.MaxRetries {
			return res, err
		}

		a.logger.Warn("Transient failure, retrying",
			"tag_id", obs.TagID,
			"attempt", attempt+1,
			"backoff", backoff,
			"error", err)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return history.Result{}, ctx.Err()
		}
		backoff *= 2
	}
}

func (a *Agent) logObserveError(msg *ZoneMessage, err error) {
	attrs := []any{"tag_id", msg.TagID, "zone_id", msg.ZoneID, "error", err}

	switch {
	case errors.Is(err, history.ErrInvalidArgument):
		a.logger.Warn("Rejected zone observation", attrs...)
	case errors.Is(err, history.ErrInvariantViolation):
		a.logger.Error("History invariant violated", attrs...)
	case errors.Is(err, context.Canceled):
		a.logger.Debug("Observation cancelled", attrs...)
	default:
		a.logger.Error("Failed to record zone observation", attrs...)
	}
}

// publishTransition publishes the committed change (QoS 0, not retained)
func (a *Agent) publishTransition(msg *ZoneMessage, res history.Result) error {
	topic := mqtt.HistoryTopic(msg.TagID)

	payload, err := a.processor.BuildTransitionPayload(msg, res)
	if err != nil {
		return fmt.Errorf("failed to build transition payload: %w", err)
	}

	if err := a.mqtt.Publish(topic, mqtt.QoSAtMostOnce, false, payload); err != nil {
		return fmt.Errorf("failed to publish transition: %w", err)
	}

	a.logger.Debug("Published transition", "topic", topic)
	return nil
}
