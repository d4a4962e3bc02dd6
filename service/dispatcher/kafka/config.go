package kafka

import (
	"strings"
	"time"

	"github.com/Shopify/sarama"
	"github.com/pkg/errors"
)

type AppConfig struct {
	Brokers             []string `mapstructure:"brokers"`
	Topic               string   `mapstructure:"topic"`
	Partitions          int32    `mapstructure:"partitions"`
	ReplicationFactor   int16    `mapstructure:"replication_factor"`
	ProducerRetries     int      `mapstructure:"producer_retries"`
	ProducerCompression string   `mapstructure:"producer_compression"` // none/snappy/lz4/zstd
	Version             string   `mapstructure:"version"`
	EnsureTopic         bool     `mapstructure:"ensure_topic"`
}

const DefaultTopic = "ppsync.events"

func DefaultConfig() AppConfig {
	return AppConfig{
		Brokers:             []string{"127.0.0.1:9092"},
		Topic:               DefaultTopic,
		Partitions:          8,
		ReplicationFactor:   1,
		ProducerRetries:     5,
		ProducerCompression: "snappy",
		Version:             "2.1.0",
	}
}

// BuildProducerConfig 同步生产者配置：WaitForAll + 按 Key 哈希分区（同一会话同一分区）
func BuildProducerConfig(app AppConfig) (*sarama.Config, error) {
	cfg := sarama.NewConfig()

	// Kafka 版本（给个兜底，避免零值触发 sarama 校验失败）
	cfg.Version = sarama.V2_1_0_0
	if app.Version != "" {
		v, err := sarama.ParseKafkaVersion(app.Version)
		if err != nil {
			return nil, errors.Wrapf(err, "kafka version %q", app.Version)
		}
		cfg.Version = v
	}

	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	retries := app.ProducerRetries
	if retries <= 0 {
		retries = 1
	}
	cfg.Producer.Retry.Max = retries
	cfg.Producer.Partitioner = sarama.NewHashPartitioner

	switch strings.ToLower(app.ProducerCompression) {
	case "snappy":
		cfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		cfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		cfg.Producer.Compression = sarama.CompressionZSTD
	default:
		cfg.Producer.Compression = sarama.CompressionNone
	}

	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second
	cfg.Admin.Timeout = 15 * time.Second

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "sarama config validate")
	}
	return cfg, nil
}
