package alerts

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/foresight/internal/models"
)

// KafkaNotifier publishes alerts as JSON to a Kafka topic, keyed by profile
type KafkaNotifier struct {
	producer sarama.SyncProducer
	topic    string
	logger   arbor.ILogger
}

// NewKafkaNotifier connects a synchronous producer to the brokers
func NewKafkaNotifier(brokers []string, topic string, logger arbor.ILogger) (*KafkaNotifier, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}

	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.Version = sarama.V2_8_0_0

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return NewKafkaNotifierWithProducer(producer, topic, logger), nil
}

// NewKafkaNotifierWithProducer wraps an existing producer
func NewKafkaNotifierWithProducer(producer sarama.SyncProducer, topic string, logger arbor.ILogger) *KafkaNotifier {
	return &KafkaNotifier{
		producer: producer,
		topic:    topic,
		logger:   logger,
	}
}

// Name identifies the notifier in logs
func (n *KafkaNotifier) Name() string {
	return "kafka"
}

// Notify publishes one alert
func (n *KafkaNotifier) Notify(ctx context.Context, alert *models.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: n.topic,
		Key:   sarama.StringEncoder(alert.ProfileID),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("alert_type"), Value: []byte(alert.Type)},
		},
	}

	partition, offset, err := n.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("failed to publish alert %s: %w", alert.ID, err)
	}

	n.logger.Debug().
		Str("alert_id", alert.ID).
		Str("topic", n.topic).
		Int("partition", int(partition)).
		Int64("offset", offset).
		Msg("Alert published")
	return nil
}

// Close closes the producer
func (n *KafkaNotifier) Close() error {
	return n.producer.Close()
}
