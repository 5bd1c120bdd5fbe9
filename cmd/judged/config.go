package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"rankoj/internal/common/cache"
	"rankoj/internal/common/mq"
	"rankoj/internal/common/storage"
	"rankoj/internal/judge/dispatch"
	"rankoj/internal/judge/model"
	"rankoj/internal/judge/pool"
	"rankoj/internal/judge/runner"
	"rankoj/internal/judge/scoring"
	"rankoj/internal/judge/server"
	"rankoj/pkg/utils/logger"
)

// MysqlConfig holds the submission log database settings.
type MysqlConfig struct {
	DataSource string `yaml:"dataSource"`
}

// JudgeConfig holds sandbox and archival settings.
type JudgeConfig struct {
	WorkRoot      string        `yaml:"workRoot"`
	HelperPath    string        `yaml:"helperPath"`
	EnableSeccomp bool          `yaml:"enableSeccomp"`
	StatusTTL     time.Duration `yaml:"statusTTL"`
	SourceBucket  string        `yaml:"sourceBucket"`
}

// AppConfig is the root configuration for judged.
type AppConfig struct {
	Server   server.Config       `yaml:"server"`
	Logger   logger.Config       `yaml:"logger"`
	Redis    cache.RedisConfig   `yaml:"redis"`
	Kafka    mq.KafkaConfig      `yaml:"kafka"`
	MinIO    storage.MinIOConfig `yaml:"minio"`
	Mysql    MysqlConfig         `yaml:"mysql"`
	Worker   pool.Config         `yaml:"worker"`
	Judge    JudgeConfig         `yaml:"judge"`
	Dispatch dispatch.Config     `yaml:"dispatch"`
	Scoring  scoring.Config      `yaml:"scoring"`

	Languages []runner.LanguageProfile `yaml:"languages"`
	Problems  []model.Problem          `yaml:"problems"`
	Contests  []model.Contest          `yaml:"contests"`
}

func loadAppConfig(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *AppConfig) validate() error {
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	for _, broker := range c.Kafka.Brokers {
		if _, _, err := mq.SplitBrokerAddr(broker); err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
	}
	if len(c.Problems) == 0 {
		return fmt.Errorf("at least one problem must be configured")
	}
	return nil
}

func (c *AppConfig) applyDefaults() {
	def := server.DefaultConfig()
	if c.Server.Addr == "" {
		c.Server.Addr = def.Addr
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = def.ReadTimeout
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = def.WriteTimeout
	}
	if c.Server.IdleTimeout <= 0 {
		c.Server.IdleTimeout = def.IdleTimeout
	}
	if c.Logger.Level == "" {
		c.Logger = logger.Config{Level: "info", Format: "json", OutputPath: "stdout"}
	}
	if c.Judge.WorkRoot == "" {
		c.Judge.WorkRoot = "/var/lib/rankoj/work"
	}
	if c.Judge.StatusTTL <= 0 {
		c.Judge.StatusTTL = 24 * time.Hour
	}
	if c.Judge.SourceBucket == "" {
		c.Judge.SourceBucket = c.MinIO.Bucket
	}
}
