package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/zap"

	"github.com/turbolytics/csvimport/internal/jobs"
)

// Notifier publishes a message per finished import job.
type Notifier struct {
	config   kafka.ConfigMap
	producer *kafka.Producer
	topic    string
	brokers  string
	logger   *zap.Logger

	mu sync.Mutex
}

// Message is the payload published for a finished job.
type Message struct {
	JobID     string         `json:"job_id"`
	Status    string         `json:"status"`
	StartTime time.Time      `json:"start_time"`
	EndTime   *time.Time     `json:"end_time,omitempty"`
	RowCounts map[string]int `json:"row_counts"`
	Errors    []string       `json:"errors"`
}

func NewMessage(job jobs.Job) Message {
	m := Message{
		JobID:     job.ID,
		Status:    job.Status,
		StartTime: job.StartTime,
		RowCounts: map[string]int{},
		Errors:    []string{},
	}
	if job.Result != nil {
		m.EndTime = job.Result.EndTime
		m.RowCounts = job.Result.RowCounts
		m.Errors = job.Result.Errors
	}
	return m
}

// ParseURL reads kafka://brokers/topic?key=value. Query parameters are passed
// through as producer configuration.
func ParseURL(uri *url.URL) (string, kafka.ConfigMap, error) {
	topic := strings.TrimPrefix(uri.Path, "/")
	if topic == "" {
		return "", nil, fmt.Errorf("topic must be specified in URL path")
	}
	if uri.Host == "" {
		return "", nil, fmt.Errorf("brokers must be specified in URL host")
	}

	config := kafka.ConfigMap{
		"bootstrap.servers":   uri.Host,
		"client.id":           "csvimport",
		"acks":                "all",
		"retries":             "3",
		"request.timeout.ms":  "5000",
		"delivery.timeout.ms": "10000",
	}

	for key, values := range uri.Query() {
		if len(values) > 0 {
			config[key] = values[0]
		}
	}
	return topic, config, nil
}

func NewNotifier(uri *url.URL, logger *zap.Logger) (*Notifier, error) {
	topic, config, err := ParseURL(uri)
	if err != nil {
		return nil, err
	}
	return &Notifier{
		topic:   topic,
		config:  config,
		brokers: uri.Host,
		logger:  logger,
	}, nil
}

func (n *Notifier) Connect(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	producer, err := kafka.NewProducer(&n.config)
	if err != nil {
		return err
	}
	n.producer = producer

	go func() {
		defer n.logger.Info("Producer event loop closed")

		for e := range producer.Events() {
			switch ev := e.(type) {
			case *kafka.Message:
				if ev.TopicPartition.Error != nil {
					n.logger.Error("Delivery failed", zap.Error(ev.TopicPartition.Error))
				} else {
					n.logger.Debug("Message delivered",
						zap.String("topic", *ev.TopicPartition.Topic),
						zap.Int32("partition", ev.TopicPartition.Partition),
						zap.Int64("offset", int64(ev.TopicPartition.Offset)))
				}
			case kafka.Error:
				n.logger.Error("Producer error", zap.Error(ev))
			}
		}
	}()

	n.logger.Info("Kafka notifier connected",
		zap.String("topic", n.topic),
		zap.String("brokers", n.brokers))
	return nil
}

func (n *Notifier) Notify(ctx context.Context, job jobs.Job) error {
	n.mu.Lock()
	producer := n.producer
	n.mu.Unlock()
	if producer == nil {
		return fmt.Errorf("kafka notifier not connected")
	}

	data, err := json.Marshal(NewMessage(job))
	if err != nil {
		return err
	}

	return producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &n.topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(job.ID),
		Value: data,
	}, nil)
}

func (n *Notifier) Close(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.producer != nil {
		n.producer.Flush(5000)
		n.producer.Close()
		n.producer = nil
	}
	return nil
}
