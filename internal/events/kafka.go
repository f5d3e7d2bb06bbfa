package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/inaiurai/promptq/internal/logging"
)

const (
	deliveryTimeout = 30 * time.Second
	flushTimeout    = 5 * time.Second
)

// KafkaPublisher writes events to a single topic keyed by job id, so all
// events of one job land on the same partition in order. Publish only
// buffers the record; delivery failures are logged from the produce callback.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
	log    logging.Logger
}

// NewKafkaPublisher creates the producer. extra options are appended after
// the defaults.
func NewKafkaPublisher(brokers []string, topic string, log logging.Logger, extra ...kgo.Opt) (*KafkaPublisher, error) {
	if log == nil {
		log = logging.Discard()
	}
	opts := append([]kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ClientID("promptq"),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProducerLinger(10 * time.Millisecond),
		kgo.RecordDeliveryTimeout(deliveryTimeout),
	}, extra...)
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}
	return &KafkaPublisher{client: client, topic: topic, log: log}, nil
}

// Publish hands the event to the producer buffer and returns without waiting
// for the broker. The request context does not cancel delivery.
func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	record, err := newRecord(p.topic, ev)
	if err != nil {
		return err
	}
	p.client.Produce(context.WithoutCancel(ctx), record, p.delivered)
	return nil
}

func (p *KafkaPublisher) delivered(r *kgo.Record, err error) {
	if err == nil {
		return
	}
	p.log.WithError(err).WithFields(logging.Fields{
		"topic":      r.Topic,
		"job_id":     string(r.Key),
		"event_type": headerValue(r, "event_type"),
	}).Warn("failed to deliver job event")
}

// Close flushes buffered events, bounded by flushTimeout, then closes the client.
func (p *KafkaPublisher) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	err := p.client.Flush(ctx)
	p.client.Close()
	if err != nil {
		return fmt.Errorf("failed to flush job events: %w", err)
	}
	return nil
}

func headerValue(r *kgo.Record, key string) string {
	for _, h := range r.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func newRecord(topic string, ev Event) (*kgo.Record, error) {
	value, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(ev.JobID.String()),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(ev.Type)},
			{Key: "source", Value: []byte("promptq")},
		},
	}, nil
}
