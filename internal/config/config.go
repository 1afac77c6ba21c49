package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// 推送通道类型
const (
	ChannelMQTT  = "mqtt"
	ChannelRedis = "redis"
)

// APIConfig 后端 REST API 配置
type APIConfig struct {
	BaseURL    string // 如 "http://localhost:5001/api"
	Timeout    time.Duration
	RetryCount int // 传输层重试次数（不触发业务层自动重拉）
}

// MQTTConfig MQTT 配置
type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	QoS         byte
	TopicPrefix string // 每患者主题前缀，如 "vitals/"
}

// RedisConfig Redis 配置（Streams 推送通道变体）
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	StreamPrefix  string // 每患者 Stream 前缀，如 "vitals:stream:"
	ConsumerGroup string
	ConsumerName  string
	BatchSize     int64
}

// DashboardConfig 看板行为配置
type DashboardConfig struct {
	PatientIDs        []string // 启动时挂载的患者列表
	Channel           string   // "mqtt" 或 "redis"
	WindowHours       int      // 历史拉取时间窗口（小时，后端限制 1~168）
	HistoryLimit      int      // 历史拉取最大条数（后端限制 1~1000）
	AlertsLimit       int
	SummariesLimit    int
	AlertsInterval    time.Duration // 报警计数轮询间隔
	SummariesInterval time.Duration // 分诊总结轮询间隔
	StatsInterval     time.Duration // 系统统计轮询间隔
	RenderInterval    time.Duration // 控制台快照刷新间隔
}

// Config 服务配置
type Config struct {
	API       APIConfig
	MQTT      MQTTConfig
	Redis     RedisConfig
	Dashboard DashboardConfig

	Log struct {
		Level  string
		Format string
	}
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.API.BaseURL = getEnv("API_BASE_URL", "http://localhost:5001/api")
	cfg.API.Timeout = time.Duration(getEnvInt("API_TIMEOUT_SECONDS", 10)) * time.Second
	cfg.API.RetryCount = getEnvInt("API_RETRY_COUNT", 2)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "rpm-dashboard")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = byte(getEnvInt("MQTT_QOS", 1))
	cfg.MQTT.TopicPrefix = getEnv("MQTT_TOPIC_PREFIX", "vitals/")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)
	cfg.Redis.StreamPrefix = getEnv("REDIS_STREAM_PREFIX", "vitals:stream:")
	cfg.Redis.ConsumerGroup = getEnv("REDIS_CONSUMER_GROUP", "rpm-dashboard")
	cfg.Redis.ConsumerName = getEnv("REDIS_CONSUMER_NAME", defaultConsumerName())
	cfg.Redis.BatchSize = int64(getEnvInt("REDIS_BATCH_SIZE", 10))

	cfg.Dashboard.PatientIDs = splitList(getEnv("PATIENT_IDS", ""))
	cfg.Dashboard.Channel = getEnv("PUSH_CHANNEL", ChannelMQTT)
	cfg.Dashboard.WindowHours = getEnvInt("VITALS_WINDOW_HOURS", 24)
	cfg.Dashboard.HistoryLimit = getEnvInt("VITALS_HISTORY_LIMIT", 100)
	cfg.Dashboard.AlertsLimit = getEnvInt("ALERTS_LIMIT", 50)
	cfg.Dashboard.SummariesLimit = getEnvInt("SUMMARIES_LIMIT", 10)
	cfg.Dashboard.AlertsInterval = time.Duration(getEnvInt("ALERTS_POLL_SECONDS", 10)) * time.Second
	cfg.Dashboard.SummariesInterval = time.Duration(getEnvInt("SUMMARIES_POLL_SECONDS", 30)) * time.Second
	cfg.Dashboard.StatsInterval = time.Duration(getEnvInt("STATS_POLL_SECONDS", 60)) * time.Second
	cfg.Dashboard.RenderInterval = time.Duration(getEnvInt("RENDER_INTERVAL_SECONDS", 5)) * time.Second

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate 校验配置合法性
func (c *Config) validate() error {
	switch c.Dashboard.Channel {
	case ChannelMQTT, ChannelRedis:
	default:
		return fmt.Errorf("invalid PUSH_CHANNEL %q (expected %q or %q)",
			c.Dashboard.Channel, ChannelMQTT, ChannelRedis)
	}
	if c.Dashboard.WindowHours < 1 || c.Dashboard.WindowHours > 168 {
		return fmt.Errorf("VITALS_WINDOW_HOURS must be in [1,168], got %d", c.Dashboard.WindowHours)
	}
	if c.Dashboard.HistoryLimit < 1 || c.Dashboard.HistoryLimit > 1000 {
		return fmt.Errorf("VITALS_HISTORY_LIMIT must be in [1,1000], got %d", c.Dashboard.HistoryLimit)
	}
	return nil
}

func defaultConsumerName() string {
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}
	return "rpm-dashboard-consumer"
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
