package kafka

import (
	"github.com/Shopify/sarama"
	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// EnsureTopic 不存在就按配置创建；已存在（包括并发创建的竞争）直接返回
func EnsureTopic(admin sarama.ClusterAdmin, app AppConfig) error {
	topics, err := admin.ListTopics()
	if err != nil {
		return errors.Wrap(err, "list topics")
	}
	if d, ok := topics[app.Topic]; ok {
		glog.Infof("[Topic] exists: %s (partitions=%d)", app.Topic, d.NumPartitions)
		return nil
	}

	minISR := "1"
	if app.ReplicationFactor >= 3 {
		minISR = "2"
	}
	td := &sarama.TopicDetail{
		NumPartitions:     app.Partitions,
		ReplicationFactor: app.ReplicationFactor,
		ConfigEntries: map[string]*string{
			"cleanup.policy":      strPtr("delete"),
			"min.insync.replicas": strPtr(minISR),
		},
	}
	if err := admin.CreateTopic(app.Topic, td, false); err != nil {
		var te *sarama.TopicError
		if errors.As(err, &te) && te.Err == sarama.ErrTopicAlreadyExists {
			glog.Infof("[Topic] exists (race): %s", app.Topic)
			return nil
		}
		if errors.Is(err, sarama.ErrTopicAlreadyExists) {
			return nil
		}
		return errors.Wrapf(err, "create topic %s", app.Topic)
	}
	glog.Infof("[Topic] created: %s (partitions=%d, rf=%d)", app.Topic, app.Partitions, app.ReplicationFactor)
	return nil
}

func strPtr(s string) *string { return &s }
