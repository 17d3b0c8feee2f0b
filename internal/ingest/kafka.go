package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"safezone/internal/config"
)

// StartKafka consumes sensor messages from a topic, one message per value.
func StartKafka(ctx context.Context, cfg *config.Manager, out chan<- Envelope, logger *slog.Logger) {
	current := cfg.Get().Ingest.Kafka
	if !current.Enabled {
		logger.Info("kafka ingest disabled")
		return
	}
	logger.Info("kafka ingest enabled", "brokers", current.Brokers, "topic", current.Topic, "group_id", current.GroupID)
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  current.Brokers,
		Topic:    current.Topic,
		GroupID:  current.GroupID,
		MinBytes: 1,
		MaxBytes: 1e6,
	})
	go func() {
		defer reader.Close()
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn("kafka read error", "err", err)
				if !BackoffSleep(ctx, time.Second) {
					return
				}
				continue
			}
			env, ok := decode(string(m.Value), "kafka", cfg.Get(), logger)
			if !ok {
				continue
			}
			SendNonBlocking(ctx, out, env, logger)
		}
	}()
}
