package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	// 从默认位置加载配置
	config, err := LoadConfig("")
	require.NoError(t, err, "无法加载默认配置")
	require.NotNil(t, config, "配置不应为nil")

	// 验证默认值
	assert.Equal(t, 8080, config.Admin.Port, "管理API端口应为8080")
	assert.Equal(t, 10*time.Second, config.Admin.ActuatorTimeout, "转发超时应为10s")
	assert.Equal(t, 8081, config.Registration.Port, "注册API端口应为8081")
	assert.Equal(t, 10*time.Second, config.Poller.Interval, "探测间隔应为10s")
	assert.Equal(t, 5*time.Second, config.Poller.Timeout, "探测超时应为5s")
	assert.Equal(t, 2.0, config.Poller.BackoffMultiplier)
	assert.Equal(t, 5*time.Minute, config.Poller.BackoffMax)
	assert.Equal(t, 10, config.Store.HistorySize)
	assert.Equal(t, 256, config.Bus.QueueSize)
	assert.Equal(t, []string{"DOWN", "OFFLINE"}, config.Notify.Reminder.Statuses)
	assert.False(t, config.Etcd.Enabled)
	assert.Equal(t, "both", config.DNS.Protocol, "DNS协议应为both")
}

func TestLoadConfigFromEnvVars(t *testing.T) {
	// 设置环境变量
	t.Setenv("INSTANCE_ADMIN_ADMIN_PORT", "9090")
	t.Setenv("INSTANCE_ADMIN_POLLER_TIMEOUT", "2s")

	// 加载配置
	config, err := LoadConfig("")
	require.NoError(t, err, "无法加载配置")
	require.NotNil(t, config, "配置不应为nil")

	// 验证环境变量覆盖
	assert.Equal(t, 9090, config.Admin.Port, "环境变量应正确覆盖管理API端口")
	assert.Equal(t, 2*time.Second, config.Poller.Timeout, "环境变量应正确覆盖探测超时")

	// 确认其他值不受影响
	assert.Equal(t, 8081, config.Registration.Port, "注册API端口不应被环境变量影响")
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
admin:
  port: 9000
  username: admin
  password: secret
poller:
  interval: 2s
  backoff_max: 1m
probe:
  headers:
    X-CUSTOM: My Custom Value
notify:
  ignore:
    - noisy-service
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	config, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, config.Admin.Port)
	assert.Equal(t, "admin", config.Admin.Username)
	assert.Equal(t, 2*time.Second, config.Poller.Interval)
	assert.Equal(t, time.Minute, config.Poller.BackoffMax)
	// viper 对键名不区分大小写，统一转为小写
	assert.Equal(t, "My Custom Value", config.Probe.Headers["x-custom"])
	assert.Equal(t, []string{"noisy-service"}, config.Notify.Ignore)
}

func TestLoadConfigWithMissingFile(t *testing.T) {
	// 尝试从不存在的文件加载配置
	config, err := LoadConfig("non_existent_file.yaml")

	// 应该返回错误
	assert.Error(t, err, "从不存在的文件加载配置应该失败")

	// 不应该返回配置对象
	assert.Nil(t, config, "加载不存在的配置文件应该返回nil配置")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := &Config{}
		c.Admin.Port = 8080
		c.Registration.Port = 8081
		c.Poller.Interval = 10 * time.Second
		c.Poller.Timeout = 5 * time.Second
		c.Poller.BackoffMultiplier = 2
		c.Poller.BackoffMax = time.Minute
		c.Store.HistorySize = 10
		return c
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(c *Config){
		"端口无效":    func(c *Config) { c.Admin.Port = 0 },
		"探测间隔为0":  func(c *Config) { c.Poller.Interval = 0 },
		"探测超时为负":  func(c *Config) { c.Poller.Timeout = -time.Second },
		"退避倍数小于1": func(c *Config) { c.Poller.BackoffMultiplier = 0.5 },
		"上限小于间隔":  func(c *Config) { c.Poller.BackoffMax = time.Second },
		"历史长度为0":  func(c *Config) { c.Store.HistorySize = 0 },
		"回收间隔为0": func(c *Config) {
			c.Registration.HeartbeatGrace = time.Minute
			c.Registration.ReapInterval = 0
		},
		"DNS域名为空": func(c *Config) {
			c.DNS.Enabled = true
			c.DNS.Port = 53
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}
