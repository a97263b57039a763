package feed

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/0x5487/matching-core/protocol"
	"github.com/segmentio/kafka-go"
)

// KafkaPublisher writes each execution as one message keyed by symbol, so a
// symbol's executions stay ordered within a partition.
type KafkaPublisher struct {
	writer     *kafka.Writer
	serializer protocol.Serializer
}

// KafkaOption configures a KafkaPublisher.
type KafkaOption func(*KafkaPublisher)

// WithSerializer sets the value encoding. Defaults to protocol.JSONSerializer.
func WithSerializer(s protocol.Serializer) KafkaOption {
	return func(p *KafkaPublisher) {
		p.serializer = s
	}
}

// NewKafkaPublisher creates a publisher writing to topic on brokers.
func NewKafkaPublisher(brokers []string, topic string, opts ...KafkaOption) *KafkaPublisher {
	p := &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		},
		serializer: protocol.JSONSerializer{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *KafkaPublisher) Publish(ctx context.Context, execs ...protocol.Execution) error {
	msgs := make([]kafka.Message, 0, len(execs))
	for i := range execs {
		value, err := p.serializer.Marshal(&execs[i])
		if err != nil {
			return err
		}

		id := make([]byte, 8)
		binary.BigEndian.PutUint64(id, execs[i].ID)
		msgs = append(msgs, kafka.Message{
			Key:   []byte(execs[i].Symbol.String()),
			Value: value,
			Headers: []kafka.Header{
				{Key: "execution_id", Value: id},
			},
		})
	}
	return p.writer.WriteMessages(ctx, msgs...)
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
