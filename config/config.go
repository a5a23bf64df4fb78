package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Custody  CustodyConfig  `yaml:"custody"`
	Agent    AgentConfig    `yaml:"agent"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                   string `yaml:"host"`
	Port                   int    `yaml:"port"`
	HandoverSubmittedTopic string `yaml:"handover_submitted_topic"`
	HandoverAcceptedTopic  string `yaml:"handover_accepted_topic"`
	Disabled               bool   `yaml:"disabled"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type CustodyConfig struct {
	GRPCAddr           string `yaml:"grpc_addr"`
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	// StrictBaseline rejects events built against a packet state that is no longer current.
	// Nil means enabled.
	StrictBaseline     *bool `yaml:"strict_baseline"`
	SnapshotTTLSeconds int   `yaml:"snapshot_ttl_seconds"`

	SyncRateLimitPerMinute int `yaml:"sync_rate_limit_per_minute"`
}

type AgentConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	DeviceID string `yaml:"device_id"`

	QueueBackend string `yaml:"queue_backend"` // "file" | "redis"
	QueueDir     string `yaml:"queue_dir"`
	QueueID      string `yaml:"queue_id"`

	APITransport      string `yaml:"api_transport"` // "http" | "grpc" | "fake"
	APIAddr           string `yaml:"api_addr"`
	APITimeoutSeconds int    `yaml:"api_timeout_seconds"`

	SyncBatchSize      int `yaml:"sync_batch_size"`
	SnapshotTTLSeconds int `yaml:"snapshot_ttl_seconds"`
	GPSTimeoutMillis   int `yaml:"gps_timeout_millis"`

	// Фиксированная позиция устройства, если GPS-провайдера нет.
	GPSLatitude  *float64 `yaml:"gps_latitude"`
	GPSLongitude *float64 `yaml:"gps_longitude"`
}

func (c CustodyConfig) StrictBaselineEnabled() bool {
	return c.StrictBaseline == nil || *c.StrictBaseline
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
