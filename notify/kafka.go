package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/warp/commission-engine/commission"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes PayoutCreatedEvent to a single topic, keyed by
// agent id so one agent's payouts stay ordered within a partition.
type KafkaNotifier struct {
	writer messageWriter
	topic  string
}

func NewKafkaNotifier(brokers []string, topic string) (*KafkaNotifier, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka notifier requires at least one broker")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka notifier requires a topic")
	}
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
		},
		topic: topic,
	}, nil
}

func (n *KafkaNotifier) PayoutCreated(ctx context.Context, p commission.Payout) error {
	payload, err := json.Marshal(NewPayoutCreatedEvent(p))
	if err != nil {
		return fmt.Errorf("encode payout event: %w", err)
	}
	err = n.writer.WriteMessages(ctx, kafka.Message{
		Topic: n.topic,
		Key:   []byte(p.AgentID),
		Value: payload,
		Time:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("publish payout event: %w", err)
	}
	return nil
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
