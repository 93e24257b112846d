package results

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// messageWriter is satisfied by *kafka.Writer.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes every result as a JSON message keyed by scenario.
type KafkaSink struct {
	writer messageWriter
	topic  string
}

func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	var clean []string
	for _, b := range brokers {
		if b = strings.TrimSpace(b); b != "" {
			clean = append(clean, b)
		}
	}
	if len(clean) == 0 {
		return nil, fmt.Errorf("%w: kafka sink requires at least one broker", ErrInvalidConfig)
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, fmt.Errorf("%w: kafka sink requires a topic", ErrInvalidConfig)
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(clean...),
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}
	return &KafkaSink{writer: writer, topic: topic}, nil
}

func (k *KafkaSink) Name() string { return DriverKafka }

func (k *KafkaSink) Record(ctx context.Context, r Result) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("results/kafka: encode: %w", err)
	}
	msg := kafka.Message{
		Topic: k.topic,
		Key:   []byte(r.Scenario),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "run_id", Value: []byte(r.RunID)},
			{Key: "outcome", Value: []byte(r.Outcome)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("results/kafka: publish: %w", err)
	}
	return nil
}

func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
