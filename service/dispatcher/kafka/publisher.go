// Package kafka publishes chat lifecycle events to a Kafka topic so that
// downstream consumers (push gateways, search indexers) can follow along.
package kafka

import (
	"context"
	"encoding/json"

	"PPChatSync/module/chat/event"

	"github.com/Shopify/sarama"
	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// EventPublisher 实现 event.Sink：JSON 编码，Key=conversation_id
type EventPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

var _ event.Sink = (*EventPublisher)(nil)

func NewEventPublisher(producer sarama.SyncProducer, topic string) *EventPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &EventPublisher{producer: producer, topic: topic}
}

// Dial 按配置建同步生产者
func Dial(app AppConfig) (*EventPublisher, error) {
	if len(app.Brokers) == 0 {
		return nil, errors.New("kafka brokers is empty")
	}
	cfg, err := BuildProducerConfig(app)
	if err != nil {
		return nil, err
	}
	if app.EnsureTopic {
		admin, err := sarama.NewClusterAdmin(app.Brokers, cfg)
		if err != nil {
			return nil, errors.Wrap(err, "new cluster admin")
		}
		err = EnsureTopic(admin, app)
		if cerr := admin.Close(); cerr != nil {
			glog.Warningf("close cluster admin: %v", cerr)
		}
		if err != nil {
			return nil, err
		}
	}
	p, err := sarama.NewSyncProducer(app.Brokers, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "new sync producer")
	}
	return NewEventPublisher(p, app.Topic), nil
}

func (p *EventPublisher) Publish(ctx context.Context, ev event.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(ev.Key()),
		Value: sarama.ByteEncoder(body),
		Headers: []sarama.RecordHeader{
			{Key: []byte("type"), Value: []byte(ev.Type)},
		},
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		glog.Errorf("[kafka] publish %s conv=%s failed: %v", ev.Type, ev.ConversationID, err)
		return errors.Wrapf(err, "publish %s", ev.Type)
	}
	if glog.V(2) {
		glog.Infof("[kafka] %s conv=%s -> %s/%d@%d", ev.Type, ev.ConversationID, p.topic, partition, offset)
	}
	return nil
}

func (p *EventPublisher) Close() error {
	return p.producer.Close()
}
