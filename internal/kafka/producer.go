package kafka

import (
	"context"

	"github.com/IBM/sarama"
	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/models"
)

type Topics struct {
	Commands     string `yaml:"commands" env:"KAFKA_COMMAND_TOPIC"`
	Heartbeats   string `yaml:"heartbeats" env:"KAFKA_HEARTBEAT_TOPIC"`
	Alerts       string `yaml:"alerts" env:"KAFKA_ALERT_TOPIC"`
	SceneRequest string `yaml:"scene_requests" env:"KAFKA_SCENE_TOPIC"`
}

type Producer struct {
	producer sarama.SyncProducer
	topics   Topics
}

func NewProducer(brokers []string, topics Topics) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, errors.Wrap(err, "create producer")
	}
	return newProducer(producer, topics), nil
}

func newProducer(p sarama.SyncProducer, topics Topics) *Producer {
	return &Producer{producer: p, topics: topics}
}

func (p *Producer) Close() error {
	if err := p.producer.Close(); err != nil {
		return errors.Wrap(err, "failed to close Kafka producer")
	}
	return nil
}

func (p *Producer) SendHeartbeat(msg models.Heartbeat) error {
	return p.send(p.topics.Heartbeats, msg.SessionID, msg)
}

// PublishAlert announces a dispatched alert to downstream consumers.
func (p *Producer) PublishAlert(_ context.Context, event models.AlertEvent) error {
	return p.send(p.topics.Alerts, event.SessionID, event)
}

func (p *Producer) PublishSceneRequest(_ context.Context, req models.SceneRequest) error {
	return p.send(p.topics.SceneRequest, req.SessionID, req)
}

// send keys by session so one session's messages stay ordered on a partition.
func (p *Producer) send(topic, key string, v any) error {
	if topic == "" {
		return errors.New("kafka topic not configured")
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal message")
	}

	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	})
	return errors.Wrapf(err, "send to %s", topic)
}
