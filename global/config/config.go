// Package config loads the process configuration: a YAML file, overlaid by
// .env and PPSYNC_<SECTION>_<KEY> environment variables.
package config

import (
	"os"
	"strings"
	"time"

	"PPChatSync/data/database/mgo/mongoutil"
	"PPChatSync/module/chat/media"
	"PPChatSync/service/dispatcher/kafka"
	"PPChatSync/service/natsx"
	"PPChatSync/service/storage/redis"
	"PPChatSync/tools/decode"
	"PPChatSync/tools/security"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "PPSYNC_"

type Config struct {
	Log       LogConfig        `mapstructure:"log"`
	HTTP      HTTPConfig       `mapstructure:"http"`
	Mongo     mongoutil.Config `mapstructure:"mongo"` // database 为空时使用进程内存储
	Redis     redis.Config     `mapstructure:"redis"` // addr 为空时只用进程内资料缓存
	Nats      natsx.Config     `mapstructure:"nats"`  // servers 为空时变更通知只在本进程
	Kafka     kafka.AppConfig  `mapstructure:"kafka"` // brokers 为空时不外发事件
	JWT       JWTConfig        `mapstructure:"jwt"`
	Media     MediaConfig      `mapstructure:"media"`
	View      ViewConfig       `mapstructure:"view"`
	Reconcile ReconcileConfig  `mapstructure:"reconcile"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type HTTPConfig struct {
	Addr           string   `mapstructure:"addr"`
	MediaBaseURL   string   `mapstructure:"media_base_url"`
	AllowedOrigins []string `mapstructure:"allowed_origins"` // WebSocket 握手来源白名单，空表示不限制
	DevSignIn      bool     `mapstructure:"dev_sign_in"`     // 开启 POST /v1/session，仅限本地调试
	MaxBodyBytes   int64    `mapstructure:"max_body_bytes"`  // multipart 内存上限
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Alg    string        `mapstructure:"alg"`
	TTL    time.Duration `mapstructure:"ttl"`
	Issuer string        `mapstructure:"issuer"`
}

func (j JWTConfig) Options() security.Options {
	return security.Options{Secret: []byte(j.Secret), Alg: j.Alg, TTL: j.TTL, Issuer: j.Issuer}
}

type MediaConfig struct {
	MaxImage decode.ByteSize `mapstructure:"max_image"`
	MaxVideo decode.ByteSize `mapstructure:"max_video"`
	MaxFile  decode.ByteSize `mapstructure:"max_file"`
	ImageExt []string        `mapstructure:"image_ext"`
	VideoExt []string        `mapstructure:"video_ext"`
}

func (m MediaConfig) Limits() media.Limits {
	return media.Limits{
		MaxImageBytes: m.MaxImage.Int64(),
		MaxVideoBytes: m.MaxVideo.Int64(),
		MaxFileBytes:  m.MaxFile.Int64(),
		ImageExt:      m.ImageExt,
		VideoExt:      m.VideoExt,
	}
}

type ViewConfig struct {
	Window     int           `mapstructure:"window"`
	ProfileTTL time.Duration `mapstructure:"profile_ttl"`
}

type ReconcileConfig struct {
	Interval time.Duration `mapstructure:"interval"` // 0 关闭定时修复
	DryRun   bool          `mapstructure:"dry_run"`
}

// Default 单机演示可直接运行的配置
func Default() map[string]any {
	lim := media.DefaultLimits()
	return map[string]any{
		"log":  map[string]any{"level": "info"},
		"http": map[string]any{
			"addr":           ":8080",
			"media_base_url": "http://127.0.0.1:8080/media",
			"dev_sign_in":    false,
			"max_body_bytes": 32 << 20,
		},
		"jwt":  map[string]any{"alg": "HS256", "ttl": "2h"},
		"media": map[string]any{
			"max_image": lim.MaxImageBytes,
			"max_video": lim.MaxVideoBytes,
			"max_file":  lim.MaxFileBytes,
			"image_ext": lim.ImageExt,
			"video_ext": lim.VideoExt,
		},
		"view": map[string]any{"window": 100, "profile_ttl": "5m"},
		"kafka": map[string]any{
			"topic":                kafka.DefaultTopic,
			"partitions":           8,
			"replication_factor":   1,
			"producer_retries":     5,
			"producer_compression": "snappy",
			"version":              "2.1.0",
		},
		"nats":      map[string]any{"name": "ppchatsync", "subject_prefix": natsx.DefaultSubjectPrefix},
		"mongo":     map[string]any{"gridfs_bucket": "media"},
		"reconcile": map[string]any{"interval": "0s"},
	}
}

// Load 1) 默认值 2) YAML 文件（path 为空跳过）3) .env 4) 环境变量，后者覆盖前者
func Load(path string, envFiles ...string) (*Config, error) {
	merged := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
		var fromFile map[string]any
		if err := yaml.Unmarshal(b, &fromFile); err != nil {
			return nil, errors.Wrapf(err, "parse config %s", path)
		}
		mergeInto(merged, fromFile)
	}

	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		// 已存在的环境变量优先，.env 只补缺
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "load %s", f)
		}
	}
	mergeInto(merged, envOverrides(os.Environ()))

	cfg, err := decode.Decode[Config](merged)
	if err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.JWT.Secret) < 16 {
		return errors.New("jwt.secret must be at least 16 bytes (PPSYNC_JWT_SECRET)")
	}
	if c.View.Window <= 0 {
		return errors.New("view.window must be positive")
	}
	return nil
}

// envOverrides PPSYNC_MEDIA_MAX_IMAGE=20MB -> {"media": {"max_image": "20MB"}}
func envOverrides(environ []string) map[string]any {
	out := map[string]any{}
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, EnvPrefix) {
			continue
		}
		section, key, ok := strings.Cut(strings.ToLower(strings.TrimPrefix(k, EnvPrefix)), "_")
		if !ok || section == "" || key == "" {
			continue
		}
		sec, _ := out[section].(map[string]any)
		if sec == nil {
			sec = map[string]any{}
			out[section] = sec
		}
		sec[key] = v
	}
	return out
}

// mergeInto 递归合并，src 覆盖 dst
func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		if sm, ok := v.(map[string]any); ok {
			if dm, ok := dst[k].(map[string]any); ok {
				mergeInto(dm, sm)
				continue
			}
		}
		dst[k] = v
	}
}
