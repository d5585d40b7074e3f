// Package publish delivers alert transitions to the downstream message
// bus consumed by the notification and display subsystems.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"dcwatch/internal/config"
	"dcwatch/internal/model"
)

type Kafka struct {
	writer     *kafka.Writer
	logger     *slog.Logger
	maxRetries int
	backoff    time.Duration
}

func NewKafka(cfg config.PublishConfig, logger *slog.Logger) (*Kafka, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New("publish requires brokers and topic")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: 10 * time.Second,
	}
	return &Kafka{
		writer:     writer,
		logger:     logger,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.RetryBackoff,
	}, nil
}

// Publish writes one transition as JSON, keyed by element so transitions
// for the same asset stay ordered within a partition.
func (k *Kafka) Publish(ctx context.Context, t model.Transition) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("serialize transition: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(t.Element),
		Value: data,
		Headers: []kafka.Header{
			{Key: "rule_name", Value: []byte(t.RuleName)},
			{Key: "status", Value: []byte(t.Status)},
		},
	}

	var lastErr error
	backoff := k.backoff
	for attempt := 0; attempt <= k.maxRetries; attempt++ {
		if attempt > 0 {
			if k.logger != nil {
				k.logger.Warn("retrying transition publish", "attempt", attempt, "rule", t.RuleName)
			}
			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		err := k.writer.WriteMessages(ctx, msg)
		if err == nil {
			return nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
	}
	return fmt.Errorf("publish failed after %d attempts: %w", k.maxRetries+1, lastErr)
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
