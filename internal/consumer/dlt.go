package consumer

import (
	"context"
	"fmt"
	"strconv"

	"github.com/Shopify/sarama"
)

// Headers added to dead-lettered records. Key and value are never modified.
const (
	HeaderOriginalTopic     = "x-original-topic"
	HeaderOriginalPartition = "x-original-partition"
	HeaderOriginalOffset    = "x-original-offset"
	HeaderExceptionMessage  = "x-exception-message"
)

// DeadLetterPublisher hands a record that cannot be processed to its DLT.
type DeadLetterPublisher interface {
	Publish(ctx context.Context, msg *sarama.ConsumerMessage, cause error) error
}

type SaramaDeadLetterPublisher struct {
	producer sarama.SyncProducer
}

func NewSaramaDeadLetterPublisher(producer sarama.SyncProducer) *SaramaDeadLetterPublisher {
	return &SaramaDeadLetterPublisher{producer: producer}
}

func (p *SaramaDeadLetterPublisher) Publish(ctx context.Context, msg *sarama.ConsumerMessage, cause error) error {
	if p == nil || p.producer == nil {
		return fmt.Errorf("dead letter publisher is not initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	_, _, err := p.producer.SendMessage(deadLetterMessage(msg, cause))
	if err != nil {
		return fmt.Errorf("failed to publish record to %q: %w", DLTName(msg.Topic), err)
	}
	return nil
}

func (p *SaramaDeadLetterPublisher) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	return p.producer.Close()
}

func deadLetterMessage(msg *sarama.ConsumerMessage, cause error) *sarama.ProducerMessage {
	headers := make([]sarama.RecordHeader, 0, len(msg.Headers)+4)
	for _, h := range msg.Headers {
		if h != nil {
			headers = append(headers, *h)
		}
	}

	causeText := ""
	if cause != nil {
		causeText = cause.Error()
	}
	headers = append(headers,
		sarama.RecordHeader{Key: []byte(HeaderOriginalTopic), Value: []byte(msg.Topic)},
		sarama.RecordHeader{Key: []byte(HeaderOriginalPartition), Value: []byte(strconv.FormatInt(int64(msg.Partition), 10))},
		sarama.RecordHeader{Key: []byte(HeaderOriginalOffset), Value: []byte(strconv.FormatInt(msg.Offset, 10))},
		sarama.RecordHeader{Key: []byte(HeaderExceptionMessage), Value: []byte(causeText)},
	)

	out := &sarama.ProducerMessage{
		Topic:   DLTName(msg.Topic),
		Value:   sarama.ByteEncoder(msg.Value),
		Headers: headers,
	}
	if msg.Key != nil {
		out.Key = sarama.ByteEncoder(msg.Key)
	}
	return out
}
