package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用程序配置结构
type Config struct {
	// 管理API配置
	Admin struct {
		ListenAddress string `mapstructure:"listen_address"`
		Port          int    `mapstructure:"port"`
		Username      string `mapstructure:"username"`
		Password      string `mapstructure:"password"`
		// 转发管理端点请求的超时
		ActuatorTimeout time.Duration `mapstructure:"actuator_timeout"`
	} `mapstructure:"admin"`

	// 实例注册API配置
	Registration struct {
		ListenAddress  string        `mapstructure:"listen_address"`
		Port           int           `mapstructure:"port"`
		HeartbeatGrace time.Duration `mapstructure:"heartbeat_grace"` // 0 表示不按心跳回收
		ReapInterval   time.Duration `mapstructure:"reap_interval"`
		RateLimit      float64       `mapstructure:"rate_limit"` // 每秒请求数，0 表示不限流
	} `mapstructure:"registration"`

	// 健康探测配置
	Poller PollerConfig `mapstructure:"poller"`

	// 实例存储配置
	Store struct {
		HistorySize int `mapstructure:"history_size"`
	} `mapstructure:"store"`

	// 事件总线配置
	Bus struct {
		QueueSize int `mapstructure:"queue_size"`
	} `mapstructure:"bus"`

	// 出站请求配置
	Probe struct {
		Headers map[string]string `mapstructure:"headers"`
	} `mapstructure:"probe"`

	// 通知配置
	Notify NotifyConfig `mapstructure:"notify"`

	// etcd配置
	Etcd EtcdConfig `mapstructure:"etcd"`

	// DNS服务配置
	DNS DNSConfig `mapstructure:"dns"`

	// 日志配置
	Log struct {
		Level       string `mapstructure:"level"`
		Development bool   `mapstructure:"development"`
	} `mapstructure:"log"`
}

// PollerConfig 健康探测配置
type PollerConfig struct {
	Interval          time.Duration `mapstructure:"interval"`
	Timeout           time.Duration `mapstructure:"timeout"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
	BackoffMax        time.Duration `mapstructure:"backoff_max"`
	FailureThreshold  int           `mapstructure:"failure_threshold"`
	ReapAfterFailures int           `mapstructure:"reap_after_failures"` // 0 表示不按探测失败回收
	StaggerWindow     time.Duration `mapstructure:"stagger_window"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
}

// EtcdConfig etcd持久化配置
type EtcdConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Endpoints      []string      `mapstructure:"endpoints"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Prefix         string        `mapstructure:"prefix"`
	SyncInterval   time.Duration `mapstructure:"sync_interval"`
}

// DNSConfig DNS服务配置
type DNSConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	ListenAddress string `mapstructure:"listen_address"`
	Port          int    `mapstructure:"port"`
	Protocol      string `mapstructure:"protocol"` // "udp", "tcp", 或 "both"
	Domain        string `mapstructure:"domain"`
	TTL           uint32 `mapstructure:"ttl"`
}

// NotifyConfig 通知配置
type NotifyConfig struct {
	Log struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"log"`
	Webhook struct {
		URL     string        `mapstructure:"url"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"webhook"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
		Channel  string `mapstructure:"channel"`
	} `mapstructure:"redis"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"kafka"`
	Reminder struct {
		Period   time.Duration `mapstructure:"period"`
		Statuses []string      `mapstructure:"statuses"`
	} `mapstructure:"reminder"`
	// 忽略的实例名称或ID
	Ignore []string `mapstructure:"ignore"`
}

// LoadConfig 从文件和环境变量加载配置
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// 设置默认值
	setDefaults(v)

	// 如果指定了配置文件路径
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.instance-admin")
		v.AddConfigPath("/etc/instance-admin")
	}
	v.SetConfigType("yaml")

	// 尝试从配置文件加载
	if err := v.ReadInConfig(); err != nil {
		// 找不到配置文件时使用默认值；其他错误则返回
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件错误: %w", err)
		}
	}

	// 绑定环境变量
	v.SetEnvPrefix("INSTANCE_ADMIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvVariables(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置错误: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// setDefaults 设置配置默认值
func setDefaults(v *viper.Viper) {
	// 管理API默认配置
	v.SetDefault("admin.listen_address", "0.0.0.0")
	v.SetDefault("admin.port", 8080)
	v.SetDefault("admin.username", "")
	v.SetDefault("admin.password", "")
	v.SetDefault("admin.actuator_timeout", "10s")

	// 注册API默认配置
	v.SetDefault("registration.listen_address", "0.0.0.0")
	v.SetDefault("registration.port", 8081)
	v.SetDefault("registration.heartbeat_grace", "90s")
	v.SetDefault("registration.reap_interval", "30s")
	v.SetDefault("registration.rate_limit", 0)

	// 健康探测默认配置
	v.SetDefault("poller.interval", "10s")
	v.SetDefault("poller.timeout", "5s")
	v.SetDefault("poller.backoff_multiplier", 2.0)
	v.SetDefault("poller.backoff_max", "5m")
	v.SetDefault("poller.failure_threshold", 1)
	v.SetDefault("poller.reap_after_failures", 0)
	v.SetDefault("poller.stagger_window", "10s")
	v.SetDefault("poller.reconcile_interval", "30s")

	v.SetDefault("store.history_size", 10)
	v.SetDefault("bus.queue_size", 256)

	// 通知默认配置
	v.SetDefault("notify.log.enabled", true)
	v.SetDefault("notify.webhook.timeout", "5s")
	v.SetDefault("notify.redis.channel", "instance-admin:events")
	v.SetDefault("notify.kafka.topic", "instance-admin.events")
	v.SetDefault("notify.reminder.period", "0s")
	v.SetDefault("notify.reminder.statuses", []string{"DOWN", "OFFLINE"})

	// etcd默认配置
	v.SetDefault("etcd.enabled", false)
	v.SetDefault("etcd.endpoints", []string{"localhost:2379"})
	v.SetDefault("etcd.dial_timeout", "5s")
	v.SetDefault("etcd.request_timeout", "5s")
	v.SetDefault("etcd.prefix", "/instance-admin/instances/")
	v.SetDefault("etcd.sync_interval", "1m")

	// DNS服务默认配置
	v.SetDefault("dns.enabled", false)
	v.SetDefault("dns.listen_address", "0.0.0.0")
	v.SetDefault("dns.port", 5353)
	v.SetDefault("dns.protocol", "both")
	v.SetDefault("dns.domain", "admin.local")
	v.SetDefault("dns.ttl", 30)

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", true)
}

// bindEnvVariables 绑定特定的环境变量
func bindEnvVariables(v *viper.Viper) {
	v.BindEnv("etcd.endpoints", "INSTANCE_ADMIN_ETCD_ENDPOINTS")
	v.BindEnv("admin.port", "INSTANCE_ADMIN_ADMIN_PORT")
	v.BindEnv("registration.port", "INSTANCE_ADMIN_REGISTRATION_PORT")
	v.BindEnv("poller.interval", "INSTANCE_ADMIN_POLL_INTERVAL")
}

// Validate 检查配置有效性
func (c *Config) Validate() error {
	if c.Admin.Port <= 0 || c.Admin.Port > 65535 {
		return fmt.Errorf("管理API端口配置无效: %d", c.Admin.Port)
	}
	if c.Registration.Port <= 0 || c.Registration.Port > 65535 {
		return fmt.Errorf("注册API端口配置无效: %d", c.Registration.Port)
	}
	if c.Poller.Interval <= 0 {
		return fmt.Errorf("探测间隔必须大于0")
	}
	if c.Poller.Timeout <= 0 {
		return fmt.Errorf("探测超时必须大于0")
	}
	if c.Poller.BackoffMultiplier < 1 {
		return fmt.Errorf("退避倍数不能小于1: %v", c.Poller.BackoffMultiplier)
	}
	if c.Poller.BackoffMax < c.Poller.Interval {
		return fmt.Errorf("退避上限不能小于探测间隔")
	}
	if c.Registration.HeartbeatGrace > 0 && c.Registration.ReapInterval <= 0 {
		return fmt.Errorf("启用心跳回收时回收间隔必须大于0")
	}
	if c.Store.HistorySize <= 0 {
		return fmt.Errorf("状态历史长度必须大于0")
	}
	if c.Etcd.Enabled && len(c.Etcd.Endpoints) == 0 {
		return fmt.Errorf("etcd端点不能为空")
	}
	if c.DNS.Enabled {
		if c.DNS.Port <= 0 || c.DNS.Port > 65535 {
			return fmt.Errorf("DNS端口配置无效: %d", c.DNS.Port)
		}
		if c.DNS.Domain == "" {
			return fmt.Errorf("DNS域名后缀不能为空")
		}
	}
	return nil
}
