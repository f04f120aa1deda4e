package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了路由服务运行所需的全部配置项。
type Config struct {
	App      AppConfig       `mapstructure:"app"`
	Server   ServerConfig    `mapstructure:"server"`
	Queue    QueueConfig     `mapstructure:"queue"`
	Adapters []AdapterConfig `mapstructure:"adapters"`
	Database DatabaseConfig  `mapstructure:"database"`
	Logging  LoggingConfig   `mapstructure:"logging"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// ServerConfig 控制 HTTP/WebSocket 服务端口。
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// QueueConfig 控制订单任务队列与工作池。
type QueueConfig struct {
	Backend string      `mapstructure:"backend"`
	Workers int         `mapstructure:"workers"`
	Buffer  int         `mapstructure:"buffer"`
	Redis   RedisConfig `mapstructure:"redis"`
	Retry   RetryConfig `mapstructure:"retry"`
}

// RedisConfig 描述 Redis 队列后端连接信息。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// AdapterConfig 描述单个流动性来源的模拟参数，列表顺序即路由优先顺序。
type AdapterConfig struct {
	Name           string        `mapstructure:"name"`
	Fee            float64       `mapstructure:"fee"`
	MinQuote       float64       `mapstructure:"min_quote"`
	MaxQuote       float64       `mapstructure:"max_quote"`
	QuoteLatency   time.Duration `mapstructure:"quote_latency"`
	ExecuteLatency time.Duration `mapstructure:"execute_latency"`
	FailureRate    float64       `mapstructure:"failure_rate"`
	Seed           int64         `mapstructure:"seed"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		err = multierr.Append(err, errors.New("server.port 必须位于(0,65535]"))
	}

	backend := strings.ToLower(c.Queue.Backend)
	if backend != "memory" && backend != "redis" {
		err = multierr.Append(err, errors.New("queue.backend 仅支持 memory 或 redis"))
	}
	if backend == "redis" && c.Queue.Redis.Addr == "" {
		err = multierr.Append(err, errors.New("queue.redis.addr 不能为空"))
	}
	if backend == "redis" && c.Queue.Redis.Key == "" {
		err = multierr.Append(err, errors.New("queue.redis.key 不能为空"))
	}
	if c.Queue.Workers <= 0 {
		err = multierr.Append(err, errors.New("queue.workers 必须大于0"))
	}
	if c.Queue.Buffer <= 0 {
		err = multierr.Append(err, errors.New("queue.buffer 必须大于0"))
	}
	if c.Queue.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("queue.retry.max_attempts 必须大于0"))
	}
	if c.Queue.Retry.MinDelay <= 0 || c.Queue.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("queue.retry.delay 必须为正"))
	}
	if c.Queue.Retry.MinDelay > c.Queue.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("queue.retry.min_delay 不能大于 max_delay"))
	}

	if len(c.Adapters) == 0 {
		err = multierr.Append(err, errors.New("adapters 至少需要配置一个流动性来源"))
	}
	seen := make(map[string]struct{}, len(c.Adapters))
	for i, adapter := range c.Adapters {
		name := strings.ToLower(strings.TrimSpace(adapter.Name))
		if name == "" {
			err = multierr.Append(err, fmt.Errorf("adapters[%d].name 不能为空", i))
			continue
		}
		if _, ok := seen[name]; ok {
			err = multierr.Append(err, fmt.Errorf("adapters[%d].name %q 重复", i, adapter.Name))
		}
		seen[name] = struct{}{}
		if adapter.Fee < 0 || adapter.Fee >= 1 {
			err = multierr.Append(err, fmt.Errorf("adapters[%d].fee 必须位于[0,1)", i))
		}
		if adapter.MinQuote <= 0 || adapter.MaxQuote <= 0 {
			err = multierr.Append(err, fmt.Errorf("adapters[%d] 报价区间必须为正", i))
		}
		if adapter.MinQuote > adapter.MaxQuote {
			err = multierr.Append(err, fmt.Errorf("adapters[%d].min_quote 不能大于 max_quote", i))
		}
		if adapter.QuoteLatency < 0 || adapter.ExecuteLatency < 0 {
			err = multierr.Append(err, fmt.Errorf("adapters[%d] 延迟不能为负", i))
		}
		if adapter.FailureRate < 0 || adapter.FailureRate > 1 {
			err = multierr.Append(err, fmt.Errorf("adapters[%d].failure_rate 必须位于[0,1]", i))
		}
	}

	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}

	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
