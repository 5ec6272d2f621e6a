// Package kafkasink streams result records to a Kafka topic, one message per
// record keyed by search term so a term's pages stay on one partition.
package kafkasink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/FranksOps/serpent/internal/serp"
	"github.com/FranksOps/serpent/internal/storage"
)

//go:generate mockgen -source=kafka.go -destination=mock_writer_test.go -package=kafkasink

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// batchTimeout bounds how long Save waits for other records to share its
// batch. kafka-go's default of one second would stall every worker per record.
const batchTimeout = 10 * time.Millisecond

// Sink is a write-only storage.Backend; Query returns
// storage.ErrQueryUnsupported.
type Sink struct {
	writer  messageWriter
	brokers []string
	topic   string
}

var _ storage.Backend = (*Sink)(nil)

// New creates a sink publishing to topic on brokers.
func New(brokers []string, topic string) *Sink {
	return &Sink{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			BatchTimeout:           batchTimeout,
			AllowAutoTopicCreation: false,
		},
		brokers: brokers,
		topic:   topic,
	}
}

// NewWithWriter builds a sink on a custom writer (tests).
func NewWithWriter(writer messageWriter, topic string) *Sink {
	return &Sink{writer: writer, topic: topic}
}

func (s *Sink) Save(ctx context.Context, rec *serp.ResultRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	key := rec.Term()
	if key == "" {
		key = rec.URL
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: "error", Value: []byte(fmt.Sprint(rec.IsError))},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish record %s: %w", rec.ID, err)
	}
	return nil
}

func (s *Sink) Query(context.Context, storage.Filter) ([]*serp.ResultRecord, error) {
	return nil, storage.ErrQueryUnsupported
}

func (s *Sink) Location() string {
	return fmt.Sprintf("kafka topic %q on %s", s.topic, strings.Join(s.brokers, ","))
}

// Close flushes pending messages and shuts down the writer.
func (s *Sink) Close() error {
	return s.writer.Close()
}
