// Package notify fans recorded custody events out to downstream consumers.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"casevault/internal/custody"
)

const EventRecorded = "coc.event.recorded"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes each event to one topic keyed by its chain, so all
// events of a chain land on the same partition in order.
type KafkaPublisher struct {
	writer  messageWriter
	timeout time.Duration
}

type envelope struct {
	Type  string        `json:"type"`
	Event custody.Event `json:"event"`
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
		},
		timeout: 5 * time.Second,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e custody.Event) error {
	data, err := json.Marshal(envelope{Type: EventRecorded, Event: e})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.ChainKey()),
		Value: data,
		Time:  e.Timestamp,
		Headers: []kafka.Header{
			{Key: "activity_type", Value: []byte(e.ActivityType)},
			{Key: "case_id", Value: []byte(e.CaseID)},
		},
	})
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
