package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/kanna-karuppasamy/frost-forecaster/internal/config"
	"github.com/kanna-karuppasamy/frost-forecaster/internal/models"

	"github.com/Shopify/sarama"
)

// IngestHandler runs a forecast for one ingest event
type IngestHandler func(ctx context.Context, ev models.IngestEvent) error

// Consumer reads ingest events for a single zone and hands them to the
// handler one at a time, so runs for the zone never overlap.
type Consumer struct {
	id       string
	zoneID   string
	config   config.KafkaConfig
	consumer sarama.ConsumerGroup
	handler  IngestHandler
	logger   *slog.Logger

	maxRetries   int
	retryBackoff time.Duration
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(id, zoneID string, cfg config.KafkaConfig, handler IngestHandler, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Consumer.Return.Errors = true
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Group.Rebalance.Strategy = sarama.BalanceStrategyRoundRobin
	saramaConfig.Consumer.MaxWaitTime = 250 * time.Millisecond

	client, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	return &Consumer{
		id:       id,
		zoneID:   zoneID,
		config:   cfg,
		consumer: client,
		handler:  handler,
		logger:   logger.With("consumer", id),

		maxRetries:   3,
		retryBackoff: 2 * time.Second,
	}, nil
}

// Consume starts consuming messages from Kafka
func (c *Consumer) Consume(ctx context.Context) error {
	// Setup error handling
	errorChan := make(chan error, 1)
	go func() {
		for err := range c.consumer.Errors() {
			c.logger.Error("kafka_consumer_error", "error", err)
			select {
			case errorChan <- err:
			default:
			}
		}
	}()

	handler := &consumerGroupHandler{consumer: c, ctx: ctx}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errorChan:
			return err
		default:
			if err := c.consumer.Consume(ctx, []string{c.config.IngestTopic}, handler); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return nil
				}
				return err
			}
		}
	}
}

// Close leaves the consumer group
func (c *Consumer) Close() error {
	return c.consumer.Close()
}

// handleMessage decodes one message and runs the handler for this zone's
// events. Malformed and foreign events are dropped. A failing run is retried
// with exponential backoff; once retries are exhausted the event is dropped
// and the next scheduled run picks up its backlog. It reports false only when
// ctx ended first, leaving the message unmarked for redelivery.
func (c *Consumer) handleMessage(ctx context.Context, msg *sarama.ConsumerMessage) bool {
	var ev models.IngestEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		c.logger.Warn("ingest_event_malformed", "offset", msg.Offset, "partition", msg.Partition, "error", err)
		return true
	}
	if ev.ZoneID != "" && ev.ZoneID != c.zoneID {
		return true
	}

	for attempt := 0; ; attempt++ {
		err := c.handler(ctx, ev)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		if attempt >= c.maxRetries {
			c.logger.Error("ingest_event_dropped", "ingest_id", ev.IngestID, "offset", msg.Offset,
				"partition", msg.Partition, "attempts", attempt+1, "error", err)
			return true
		}

		delay := c.retryBackoff * time.Duration(1<<attempt)
		c.logger.Warn("ingest_event_failed", "ingest_id", ev.IngestID, "attempt", attempt+1, "retry_in", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ctx      context.Context
}

func (h *consumerGroupHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerGroupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		if h.ctx.Err() != nil {
			return h.ctx.Err()
		}
		if !h.consumer.handleMessage(h.ctx, message) {
			return h.ctx.Err()
		}
		session.MarkMessage(message, "")
	}
	return nil
}
