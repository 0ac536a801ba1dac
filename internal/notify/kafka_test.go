package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"casevault/internal/custody"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher_KeysByChain(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w, timeout: time.Second}

	e := custody.Event{ID: "e1", CaseID: "c1", FileHash: "abc123", ActivityType: custody.ActivityViewed, Timestamp: time.Unix(100, 0).UTC()}
	if err := p.Publish(context.Background(), e); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.msgs))
	}
	m := w.msgs[0]
	if string(m.Key) != "c1/abc123" {
		t.Fatalf("unexpected key %q", m.Key)
	}

	var got envelope
	if err := json.Unmarshal(m.Value, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Type != EventRecorded || got.Event.ID != "e1" {
		t.Fatalf("unexpected envelope %+v", got)
	}
	if string(m.Headers[0].Value) != "viewed" {
		t.Fatalf("expected activity header")
	}
}

func TestKafkaPublisher_PropagatesErrors(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker unavailable")}
	p := &KafkaPublisher{writer: w, timeout: time.Second}
	if err := p.Publish(context.Background(), custody.Event{CaseID: "c"}); err == nil {
		t.Fatalf("expected error")
	}
	_ = p.Close()
	if !w.closed {
		t.Fatalf("expected writer closed")
	}
}

func TestNewKafkaPublisher(t *testing.T) {
	p := NewKafkaPublisher([]string{"localhost:9092"}, "coc-events")
	kw, ok := p.writer.(*kafka.Writer)
	if !ok {
		t.Fatalf("expected kafka writer")
	}
	if kw.Topic != "coc-events" {
		t.Fatalf("unexpected topic %s", kw.Topic)
	}
	if _, ok := kw.Balancer.(*kafka.Hash); !ok {
		t.Fatalf("expected hash balancer")
	}
}
