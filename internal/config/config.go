// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Chat          ChatConfig          `mapstructure:"chat"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
	RefreshTokenExpireDays int    `mapstructure:"refresh_token_expire_days"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储对话事件队列的配置。Brokers 为空时不启用。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。Addresses 为空时不启用消息检索。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储对话记录归档所用的对象存储配置。
type MinIOConfig struct {
	Endpoint             string `mapstructure:"endpoint"`
	AccessKeyID          string `mapstructure:"access_key_id"`
	SecretAccessKey      string `mapstructure:"secret_access_key"`
	UseSSL               bool   `mapstructure:"use_ssl"`
	BucketName           string `mapstructure:"bucket_name"`
	PresignExpiryMinutes int    `mapstructure:"presign_expiry_minutes"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey        string              `mapstructure:"api_key"`
	BaseURL       string              `mapstructure:"base_url"`
	Model         string              `mapstructure:"model"`
	AnalysisModel string              `mapstructure:"analysis_model"`
	Generation    LLMGenerationConfig `mapstructure:"generation"`
	Analysis      LLMGenerationConfig `mapstructure:"analysis"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// ChatConfig 存储实时会话相关的配置。
type ChatConfig struct {
	InstanceID          string `mapstructure:"instance_id"`
	PresenceTTLSeconds  int    `mapstructure:"presence_ttl_seconds"`
	WriteTimeoutSeconds int    `mapstructure:"write_timeout_seconds"`
	MaxMessageBytes     int64  `mapstructure:"max_message_bytes"`
	HistoryLimit        int    `mapstructure:"history_limit"`
	FallbackReply       string `mapstructure:"fallback_reply"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("jwt.access_token_expire_hours", 24)
	v.SetDefault("jwt.refresh_token_expire_days", 7)
	v.SetDefault("kafka.topic", "chat-turns")
	v.SetDefault("kafka.group_id", "lingua-chat-go-consumer")
	v.SetDefault("elasticsearch.index_name", "chat_messages")
	v.SetDefault("minio.bucket_name", "chat-transcripts")
	v.SetDefault("minio.presign_expiry_minutes", 60)
	v.SetDefault("llm.model", "gpt-4-turbo-preview")
	v.SetDefault("llm.generation.temperature", 0.7)
	v.SetDefault("llm.generation.max_tokens", 500)
	v.SetDefault("llm.analysis.temperature", 0.3)
	v.SetDefault("llm.analysis.max_tokens", 800)
	v.SetDefault("chat.presence_ttl_seconds", 3600)
	v.SetDefault("chat.write_timeout_seconds", 5)
	v.SetDefault("chat.max_message_bytes", 64*1024)
	v.SetDefault("chat.history_limit", 10)
	v.SetDefault("chat.fallback_reply", "I'm having trouble responding right now. Could you try asking again?")
}

// Load 从指定的 YAML 文件读取配置。环境变量（如 LLM_API_KEY）会覆盖文件中的同名项，
// 当前目录下的 .env 文件会先被加载到环境变量中。
func Load(configPath string) (Config, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("读取配置文件失败: %w", err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	return cfg, nil
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = cfg
}
