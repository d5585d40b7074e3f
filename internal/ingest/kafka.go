package ingest

import (
	"context"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"dcwatch/internal/config"
	"dcwatch/internal/model"
	"dcwatch/internal/telemetry"
)

func StartKafka(ctx context.Context, cfg *config.Manager, out chan<- model.MetricSample, logger *slog.Logger) {
	current := cfg.Get().Ingest
	if !current.Kafka.Enabled {
		if logger != nil {
			logger.Info("kafka ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka ingest enabled",
			"brokers", current.Kafka.Brokers,
			"topic", current.Kafka.Topic,
			"group_id", current.Kafka.GroupID,
		)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  current.Kafka.Brokers,
		Topic:    current.Kafka.Topic,
		GroupID:  current.Kafka.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
	})
	go func() {
		defer reader.Close()
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("kafka read error", "err", err)
				}
				continue
			}
			sample, err := DecodeSample(m.Value, cfg.Get().Ingest.DefaultTTL)
			if err != nil {
				telemetry.SamplesRejected.WithLabelValues("decode").Inc()
				if logger != nil {
					logger.Warn("kafka sample decode error", "err", err)
				}
				continue
			}
			if SendNonBlocking(ctx, out, sample, logger) {
				telemetry.SamplesIngested.WithLabelValues("kafka").Inc()
			} else {
				telemetry.SamplesRejected.WithLabelValues("backpressure").Inc()
			}
		}
	}()
}
