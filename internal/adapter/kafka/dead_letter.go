package kafka

import (
	"context"
	"strconv"

	"github.com/IBM/sarama"
)

// NewDeadLetter republishes a failed message unchanged to topic, with its
// origin and the failure in headers.
func NewDeadLetter(prod sarama.SyncProducer, topic string) DeadLetterFunc {
	return func(_ context.Context, msg *sarama.ConsumerMessage, cause error) error {
		out := &sarama.ProducerMessage{
			Topic: topic,
			Value: sarama.ByteEncoder(msg.Value),
			Headers: []sarama.RecordHeader{
				{Key: []byte("x-source-topic"), Value: []byte(msg.Topic)},
				{Key: []byte("x-source-partition"), Value: []byte(strconv.FormatInt(int64(msg.Partition), 10))},
				{Key: []byte("x-source-offset"), Value: []byte(strconv.FormatInt(msg.Offset, 10))},
				{Key: []byte("x-error"), Value: []byte(cause.Error())},
			},
		}
		if len(msg.Key) > 0 {
			out.Key = sarama.ByteEncoder(msg.Key)
		}
		_, _, err := prod.SendMessage(out)
		return err
	}
}
