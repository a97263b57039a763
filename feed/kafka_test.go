package feed

import (
	"testing"

	"github.com/0x5487/matching-core/protocol"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKafkaPublisher(t *testing.T) {
	p := NewKafkaPublisher([]string{"localhost:9092"}, "executions", WithSerializer(protocol.BinarySerializer{}))
	defer p.Close()

	assert.Equal(t, "executions", p.writer.Topic)
	assert.Equal(t, kafka.RequireAll, p.writer.RequiredAcks)

	b, err := p.serializer.Marshal(&protocol.Execution{ID: 1, Symbol: protocol.MustSymbol("GOOG")})
	require.NoError(t, err)
	assert.Len(t, b, protocol.RecordSize)
}
