package config

import (
	"os"
	"strconv"

	"github.com/LauraMoney42/SecureHeart-sub001/internal/common/config"
)

// Config 监测服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig
	MQTT     config.MQTTConfig

	// 监测服务特定配置
	Monitor struct {
		// 手表遥测主题（+ 为佩戴者ID占位）
		Topics struct {
			HeartRate string // 心率主题，如 "secureheart/+/heartrate"
			Motion    string // 运动分类主题，如 "secureheart/+/motion"
			Accel     string // 加速度主题，如 "secureheart/+/accel"
		}

		// Redis Streams 配置
		Stream struct {
			Telemetry          string // 遥测输入流
			PostureChanges     string // 体位变化输出流
			OrthostaticEvents  string // 直立性事件输出流
			SignificantChanges string // 显著变化输出流
			Alerts             string // 报警输出流
			HeartRate          string // 心率更新输出流
		}
		ConsumerGroup string // 消费者组名称
		ConsumerName  string // 消费者名称
		BatchSize     int64  // 批量处理大小

		// Redis 缓存配置
		Cache struct {
			RealtimePrefix string // 实时数据缓存键前缀
			RealtimeTTL    int    // 实时数据 TTL（秒）
			StatePrefix    string // 引擎状态快照键前缀
			StateTTL       int    // 引擎状态 TTL（秒）
		}

		TickInterval     int // 引擎时钟驱动间隔（秒）
		SnapshotInterval int // 引擎状态落盘间隔（秒）
	}

	HTTP struct {
		Addr string // 查询 API 监听地址
	}

	// 外部报警通知
	Notifier struct {
		Enabled bool
		URL     string // 报警回调地址
		Timeout int    // 请求超时（秒）
		Retry   int    // 失败重试次数
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 从环境变量加载（默认值）
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "secureheart")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 10)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "secureheart-monitor")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.TopicPrefix = getEnv("MQTT_TOPIC_PREFIX", "secureheart")
	cfg.MQTT.QoS = byte(getEnvInt("MQTT_QOS", 1))

	// 遥测主题
	prefix := cfg.MQTT.TopicPrefix
	cfg.Monitor.Topics.HeartRate = getEnv("TOPIC_HEARTRATE", prefix+"/+/heartrate")
	cfg.Monitor.Topics.Motion = getEnv("TOPIC_MOTION", prefix+"/+/motion")
	cfg.Monitor.Topics.Accel = getEnv("TOPIC_ACCEL", prefix+"/+/accel")

	// Redis Streams
	cfg.Monitor.Stream.Telemetry = getEnv("STREAM_TELEMETRY", "secureheart:stream:telemetry")
	cfg.Monitor.Stream.PostureChanges = getEnv("STREAM_POSTURE_CHANGES", "secureheart:stream:posture_changes")
	cfg.Monitor.Stream.OrthostaticEvents = getEnv("STREAM_ORTHOSTATIC_EVENTS", "secureheart:stream:orthostatic_events")
	cfg.Monitor.Stream.SignificantChanges = getEnv("STREAM_SIGNIFICANT_CHANGES", "secureheart:stream:significant_changes")
	cfg.Monitor.Stream.Alerts = getEnv("STREAM_ALERTS", "secureheart:stream:alerts")
	cfg.Monitor.Stream.HeartRate = getEnv("STREAM_HEART_RATE", "secureheart:stream:heart_rate")
	cfg.Monitor.ConsumerGroup = getEnv("CONSUMER_GROUP", "secureheart-monitor-group")
	cfg.Monitor.ConsumerName = getEnv("CONSUMER_NAME", "secureheart-monitor-1")
	cfg.Monitor.BatchSize = int64(getEnvInt("BATCH_SIZE", 10))

	// 缓存
	cfg.Monitor.Cache.RealtimePrefix = getEnv("CACHE_REALTIME_PREFIX", "secureheart:realtime:")
	cfg.Monitor.Cache.RealtimeTTL = getEnvInt("CACHE_REALTIME_TTL", 120)
	cfg.Monitor.Cache.StatePrefix = getEnv("CACHE_STATE_PREFIX", "secureheart:engine_state:")
	cfg.Monitor.Cache.StateTTL = getEnvInt("CACHE_STATE_TTL", 86400)

	cfg.Monitor.TickInterval = getEnvInt("TICK_INTERVAL", 1)
	cfg.Monitor.SnapshotInterval = getEnvInt("SNAPSHOT_INTERVAL", 30)

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8083")

	cfg.Notifier.Enabled = getEnv("NOTIFIER_ENABLED", "false") == "true"
	cfg.Notifier.URL = getEnv("NOTIFIER_URL", "")
	cfg.Notifier.Timeout = getEnvInt("NOTIFIER_TIMEOUT", 5)
	cfg.Notifier.Retry = getEnvInt("NOTIFIER_RETRY", 2)

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}
