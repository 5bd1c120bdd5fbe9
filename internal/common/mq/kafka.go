package mq

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	headerID        = "x-message-id"
	headerTimestamp = "x-message-timestamp"
)

// KafkaConfig holds Kafka producer settings.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	ClientID     string        `yaml:"clientID"`
	BatchSize    int           `yaml:"batchSize"`
	BatchTimeout time.Duration `yaml:"batchTimeout"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	RequiredAcks int           `yaml:"requiredAcks"`
}

// KafkaProducer implements Producer using segmentio/kafka-go.
type KafkaProducer struct {
	cfg    KafkaConfig
	writer *kafka.Writer
}

var _ Producer = (*KafkaProducer)(nil)

// NewKafkaProducer creates a Kafka-backed producer.
func NewKafkaProducer(cfg KafkaConfig) (*KafkaProducer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one kafka broker is required")
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 50 * time.Millisecond
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	acks := kafka.RequireOne
	if cfg.RequiredAcks != 0 {
		acks = kafka.RequiredAcks(cfg.RequiredAcks)
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: acks,
		Transport: &kafka.Transport{
			DialTimeout: cfg.DialTimeout,
			ClientID:    cfg.ClientID,
		},
	}
	return &KafkaProducer{cfg: cfg, writer: writer}, nil
}

// Publish writes one message to the topic.
func (k *KafkaProducer) Publish(ctx context.Context, topic string, message *Message) error {
	if topic == "" {
		return fmt.Errorf("topic is required")
	}
	if message == nil {
		return fmt.Errorf("message is nil")
	}
	return k.writer.WriteMessages(ctx, toKafkaMessage(topic, message))
}

// Ping dials the first broker to verify connectivity.
func (k *KafkaProducer) Ping(ctx context.Context) error {
	dialer := &kafka.Dialer{Timeout: k.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", k.cfg.Brokers[0])
	if err != nil {
		return fmt.Errorf("dial kafka broker: %w", err)
	}
	return conn.Close()
}

// Close flushes and closes the writer.
func (k *KafkaProducer) Close() error {
	return k.writer.Close()
}

func toKafkaMessage(topic string, message *Message) kafka.Message {
	headers := make([]kafka.Header, 0, len(message.Headers)+2)
	for key, val := range message.Headers {
		headers = append(headers, kafka.Header{Key: key, Value: []byte(val)})
	}
	if message.ID != "" {
		headers = append(headers, kafka.Header{Key: headerID, Value: []byte(message.ID)})
	}
	if !message.Timestamp.IsZero() {
		headers = append(headers, kafka.Header{Key: headerTimestamp, Value: []byte(message.Timestamp.Format(time.RFC3339Nano))})
	}
	return kafka.Message{
		Topic:   topic,
		Key:     []byte(message.ID),
		Value:   message.Body,
		Headers: headers,
	}
}

// SplitBrokerAddr is a helper for validating broker host:port pairs in config.
func SplitBrokerAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid broker address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid broker port %q: %w", portStr, err)
	}
	return host, port, nil
}
