package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

const (
	TopicRawTransactions        = "raw-transactions"
	TopicClassifiedTransactions = "classified-transactions"
)

type Producer struct {
	client *kgo.Client
	topic  string
}

func NewProducer(client *kgo.Client, topic string) *Producer {
	return &Producer{client: client, topic: topic}
}

// Publish marshals payload and produces it synchronously. Records are keyed
// by client id so the channel preserves per-client ordering where it can.
func (p *Producer) Publish(ctx context.Context, key string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload for topic %s: %w", p.topic, err)
	}

	record := &kgo.Record{
		Topic:     p.topic,
		Key:       []byte(key),
		Value:     data,
		Timestamp: time.Now(),
	}

	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce to topic %s: %w", p.topic, err)
	}
	return nil
}
