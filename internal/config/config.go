package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"cdpproxy/internal/client"
	"cdpproxy/internal/logger"
	"cdpproxy/internal/replay"
	"cdpproxy/internal/rules"
	"cdpproxy/internal/storage"
	"cdpproxy/pkg/model"
)

// EnvPrefix 环境变量前缀，如 CDPPROXY_PROXY_DEFAULT
const EnvPrefix = "CDPPROXY"

// Config 配置文件结构体
type Config struct {
	Version string `yaml:"version" envconfig:"VERSION"`

	DevTools struct {
		URL    string `yaml:"url" envconfig:"URL"`
		Engine string `yaml:"engine" envconfig:"ENGINE"` // cdp / rod
	} `yaml:"devtools" envconfig:"DEVTOOLS"`

	Proxy struct {
		Default            string            `yaml:"default" envconfig:"DEFAULT"`
		AbortOnErrors      bool              `yaml:"abortOnErrors" envconfig:"ABORT_ON_ERRORS"`
		TimeoutMS          int               `yaml:"timeoutMS" envconfig:"TIMEOUT_MS"`
		AdditionalHeaders  map[string]string `yaml:"additionalHeaders" envconfig:"ADDITIONAL_HEADERS"`
		InsecureSkipVerify bool              `yaml:"insecureSkipVerify" envconfig:"INSECURE_SKIP_VERIFY"`
		FollowRedirects    bool              `yaml:"followRedirects" envconfig:"FOLLOW_REDIRECTS"`
	} `yaml:"proxy" envconfig:"PROXY"`

	Routes []rules.Rule `yaml:"routes" ignored:"true"`

	Concurrency int `yaml:"concurrency" envconfig:"CONCURRENCY"`

	Sqlite struct {
		Enabled bool   `yaml:"enabled" envconfig:"ENABLED"`
		Dsn     string `yaml:"dsn" envconfig:"DSN"`
		Prefix  string `yaml:"prefix" envconfig:"PREFIX"`
	} `yaml:"sqlite" envconfig:"SQLITE"`

	Log struct {
		Level  string   `yaml:"level" envconfig:"LEVEL"`
		Writer []string `yaml:"writer" envconfig:"WRITER"`
		File   string   `yaml:"file" envconfig:"FILE"`
	} `yaml:"log" envconfig:"LOG"`

	Metrics struct {
		Enabled bool   `yaml:"enabled" envconfig:"ENABLED"`
		Addr    string `yaml:"addr" envconfig:"ADDR"`
	} `yaml:"metrics" envconfig:"METRICS"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	c := &Config{Version: "1.0.0"}
	c.DevTools.URL = "http://127.0.0.1:9222"
	c.DevTools.Engine = string(model.EngineCDP)
	c.Proxy.AbortOnErrors = true
	c.Proxy.AdditionalHeaders = map[string]string{}
	c.Concurrency = 32
	c.Sqlite.Enabled = true
	c.Sqlite.Dsn = "db.sqlite3"
	c.Sqlite.Prefix = "cdpproxy_"
	c.Log.Level = "info"
	c.Log.Writer = []string{"console"}
	c.Log.File = "logs/cdpproxy.log"
	c.Metrics.Addr = "127.0.0.1:9464"
	return c
}

// Load 读取 YAML 配置（path 为空时跳过）并应用环境变量覆盖
func Load(path string) (*Config, error) {
	cfg := NewConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to load env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	var errs []error
	switch model.Engine(c.DevTools.Engine) {
	case model.EngineCDP, model.EngineRod:
	default:
		errs = append(errs, fmt.Errorf("devtools.engine: unknown engine %q", c.DevTools.Engine))
	}
	if c.DevTools.URL == "" {
		errs = append(errs, errors.New("devtools.url: required"))
	}
	if c.Proxy.TimeoutMS < 0 {
		errs = append(errs, fmt.Errorf("proxy.timeoutMS: must be >= 0, got %d", c.Proxy.TimeoutMS))
	}
	if c.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("concurrency: must be >= 0, got %d", c.Concurrency))
	}
	for i, r := range c.Routes {
		if r.ID == "" {
			errs = append(errs, fmt.Errorf("routes[%d]: id required", i))
		}
	}
	return errors.Join(errs...)
}

// ReplayOptions 转换为重放配置
func (c *Config) ReplayOptions() replay.Options {
	opts := replay.DefaultOptions()
	opts.AbortOnErrors = c.Proxy.AbortOnErrors
	for k, v := range c.Proxy.AdditionalHeaders {
		opts.AdditionalHeaders[k] = v
	}
	opts.Timeout = time.Duration(c.Proxy.TimeoutMS) * time.Millisecond
	opts.ClientOptions = &client.Options{
		InsecureSkipVerify: c.Proxy.InsecureSkipVerify,
		FollowRedirects:    c.Proxy.FollowRedirects,
	}
	return opts
}

// LoggerOptions 转换为日志配置
func (c *Config) LoggerOptions() logger.Options {
	return logger.Options{Level: c.Log.Level, Writers: c.Log.Writer, File: c.Log.File}
}

// StorageOptions 转换为数据库配置
func (c *Config) StorageOptions() storage.Options {
	return storage.Options{DSN: c.Sqlite.Dsn, Prefix: c.Sqlite.Prefix}
}
