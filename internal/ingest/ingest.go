package ingest

import (
	"context"
	"log/slog"

	"dcwatch/internal/model"
)

func SendNonBlocking(ctx context.Context, out chan<- model.MetricSample, sample model.MetricSample, logger *slog.Logger) bool {
	select {
	case out <- sample:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("sample channel full, dropping sample", "topic", sample.Topic(), "timestamp", sample.Timestamp)
		}
		return false
	}
}
