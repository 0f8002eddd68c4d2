package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/matchrank/internal/config"
	"github.com/matchrank/internal/domain"
)

// ResultSubmitter folds match results into the rating state
type ResultSubmitter interface {
	Submit(ctx context.Context, result *domain.GameResult) (*domain.Ack, error)
}

// Consumer consumes match result messages from Kafka
type Consumer struct {
	config        *config.KafkaConfig
	submitter     ResultSubmitter
	logger        *slog.Logger
	consumerGroup sarama.ConsumerGroup
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	ready         chan bool
}

// NewConsumer creates a new Kafka consumer
func NewConsumer(cfg *config.KafkaConfig, submitter ResultSubmitter, logger *slog.Logger) (*Consumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_0_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Consumer{
		config:        cfg,
		submitter:     submitter,
		logger:        logger,
		consumerGroup: consumerGroup,
		ctx:           ctx,
		cancel:        cancel,
		ready:         make(chan bool),
	}, nil
}

// Start begins consuming messages from Kafka
func (c *Consumer) Start() error {
	c.logger.Info("starting Kafka consumer",
		"brokers", c.config.Brokers,
		"topic", c.config.Topic,
		"group_id", c.config.GroupID,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &consumerGroupHandler{
				consumer: c,
				ready:    c.ready,
			}

			if err := c.consumerGroup.Consume(c.ctx, []string{c.config.Topic}, handler); err != nil {
				if err == sarama.ErrClosedConsumerGroup {
					return
				}
				c.logger.Error("error from consumer", "error", err)
			}

			// Check if context was cancelled
			if c.ctx.Err() != nil {
				return
			}

			c.ready = make(chan bool)
		}
	}()

	// Wait until consumer is ready
	<-c.ready
	c.logger.Info("Kafka consumer ready")

	// Handle errors in separate goroutine
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case <-c.ctx.Done():
				return
			case err, ok := <-c.consumerGroup.Errors():
				if !ok {
					return
				}
				c.logger.Error("consumer group error", "error", err)
			}
		}
	}()

	return nil
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() error {
	c.logger.Info("stopping Kafka consumer")
	c.cancel()
	c.wg.Wait()
	return c.consumerGroup.Close()
}

// consumerGroupHandler implements sarama.ConsumerGroupHandler
type consumerGroupHandler struct {
	consumer *Consumer
	ready    chan bool
}

// Setup is called at the beginning of a new session
func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.ready)
	return nil
}

// Cleanup is called at the end of a session
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim processes messages from a topic partition. Each message is one
// GameResult; a result that fails with a retryable error is retried in place.
// If the backend stays unavailable past the retry budget the claim is
// surrendered without marking the message, so the partition is never advanced
// past an unapplied match and the result is redelivered after rebalance.
// Marking-and-dropping is reserved for malformed and invalid results.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil

		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			var result domain.GameResult
			if err := json.Unmarshal(message.Value, &result); err != nil {
				h.consumer.logger.Warn("failed to unmarshal message",
					"error", err,
					"offset", message.Offset,
					"partition", message.Partition,
				)
				session.MarkMessage(message, "")
				continue
			}

			if err := h.processResult(session, &result); err != nil {
				return err
			}
			session.MarkMessage(message, "")
		}
	}
}

// processResult submits one result, retrying transient failures. A retryable
// error that survives the retry budget is returned to the caller so the
// message stays unmarked.
func (h *consumerGroupHandler) processResult(session sarama.ConsumerGroupSession, result *domain.GameResult) error {
	cfg := h.consumer.config

	for attempt := 0; ; attempt++ {
		ctx, cancel := context.WithTimeout(session.Context(), 10*time.Second)
		ack, err := h.consumer.submitter.Submit(ctx, result)
		cancel()

		switch {
		case err == nil:
			if ack.Duplicate {
				h.consumer.logger.Debug("duplicate match acknowledged", "match_id", result.MatchID)
			}
			return nil

		case domain.IsValidation(err):
			h.consumer.logger.Warn("dropping invalid game result",
				"match_id", result.MatchID, "error", err)
			return nil

		case domain.IsRetryable(err) && attempt < cfg.RetryAttempts:
			h.consumer.logger.Warn("retrying game result",
				"match_id", result.MatchID, "attempt", attempt+1, "error", err)
			select {
			case <-session.Context().Done():
				return session.Context().Err()
			case <-time.After(cfg.RetryDelay):
			}

		case domain.IsRetryable(err):
			h.consumer.logger.Error("backend unavailable, surrendering claim",
				"match_id", result.MatchID, "error", err)
			return err

		default:
			h.consumer.logger.Error("failed to process game result",
				"match_id", result.MatchID, "error", err)
			return nil
		}
	}
}
