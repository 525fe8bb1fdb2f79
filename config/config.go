package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 调试适配器的配置
type Config struct {
	// Port 监听端口，Stdio为true时忽略
	Port  string `yaml:"port"`
	Stdio bool   `yaml:"stdio"`
	// LogFile 为空时输出到stderr
	LogFile  string `yaml:"logFile"`
	LogLevel string `yaml:"logLevel"`
	// DlvToolPath dlv可执行文件，launch参数中的dlvToolPath优先
	DlvToolPath string `yaml:"dlvToolPath"`
	APIVersion  int    `yaml:"apiVersion"`
	// LaunchTimeout 等待dlv开始监听的时间
	LaunchTimeout time.Duration `yaml:"launchTimeout"`
	// DisconnectTimeout disconnect时等待dlv响应的时间
	DisconnectTimeout time.Duration `yaml:"disconnectTimeout"`
	// GOPATH、GOROOT 用于远程路径推断，为空时读取环境变量
	GOPATH string `yaml:"gopath"`
	GOROOT string `yaml:"goroot"`
}

// Default 默认配置
func Default() *Config {
	return &Config{
		Port:              "8889",
		LogLevel:          "info",
		DlvToolPath:       "dlv",
		APIVersion:        2,
		LaunchTimeout:     30 * time.Second,
		DisconnectTimeout: 5 * time.Second,
	}
}

// Load 读取yaml配置，path为空时返回默认配置
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err = yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.fillFromEnv()
	if cfg.APIVersion != 1 && cfg.APIVersion != 2 {
		return nil, fmt.Errorf("invalid apiVersion %d", cfg.APIVersion)
	}
	return cfg, nil
}

// fillFromEnv 启动时读取一次环境变量，之后通过配置传递
func (c *Config) fillFromEnv() {
	if c.GOPATH == "" {
		c.GOPATH = os.Getenv("GOPATH")
	}
	if c.GOPATH == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.GOPATH = home + string(os.PathSeparator) + "go"
		}
	}
	if c.GOROOT == "" {
		c.GOROOT = os.Getenv("GOROOT")
	}
}
