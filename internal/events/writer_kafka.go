package events

import (
	"context"
	"fmt"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// KafkaWriter publishes events as structured cloudevents json, keyed by the event subject.
type KafkaWriter struct {
	writer      *kafka.Writer
	retries     int
	backoffBase time.Duration
}

func NewKafkaWriter(brokers []string, clientID string) *KafkaWriter {
	transport := &kafka.Transport{ClientID: clientID}
	return &KafkaWriter{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			RequiredAcks: kafka.RequireAll,
			Transport:    transport,
		},
		retries:     3,
		backoffBase: 100 * time.Millisecond,
	}
}

func (k *KafkaWriter) Write(ctx context.Context, topic string, e cloudevents.Event) error {
	value, err := e.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encoding event %s: %w", e.ID(), err)
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(e.Subject()),
		Value: value,
		Time:  e.Time(),
		Headers: []kafka.Header{
			{Key: "ce_type", Value: []byte(e.Type())},
			{Key: "content-type", Value: []byte(cloudevents.ApplicationCloudEventsJSON)},
		},
	}

	backoff := k.backoffBase
	for attempt := 0; ; attempt++ {
		err = k.writer.WriteMessages(ctx, msg)
		if err == nil {
			return nil
		}
		if attempt >= k.retries || ctx.Err() != nil {
			break
		}
		zap.S().Named("kafka_writer").Debugw("retrying event write", "attempt", attempt+1, "error", err)
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
		}
	}

	return fmt.Errorf("writing event %s to %s: %w", e.ID(), topic, err)
}

func (k *KafkaWriter) Close(_ context.Context) error {
	return k.writer.Close()
}
