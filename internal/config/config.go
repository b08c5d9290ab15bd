package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AppInfo 对应 'app' 部分，包含应用程序的基本信息。
type AppInfo struct {
	Name        string `yaml:"name"`        // 应用程序名称
	Version     string `yaml:"version"`     // 应用程序版本
	Environment string `yaml:"environment"` // 运行环境 (例如: "development", "production")
}

// LoggerConfig 定义了日志记录器的配置。
type LoggerConfig struct {
	Level string `yaml:"level"` // 日志级别 (例如: "info", "debug", "warn", "error")
}

// MilvusConfig 定义了 Milvus 向量索引的连接与集合配置。
type MilvusConfig struct {
	Address     string `yaml:"address"`     // Milvus 服务地址
	Collection  string `yaml:"collection"`  // 集合名称
	Description string `yaml:"description"` // 集合描述
	Dim         int    `yaml:"dim"`         // 稠密向量维度 (由 embedding 模型决定, 例如 3072)
	Hybrid      bool   `yaml:"hybrid"`      // 是否启用稀疏+稠密混合检索
}

// RedisConfig 定义了 Redis 已索引 ID 缓存的连接配置。
type RedisConfig struct {
	Address  string `yaml:"address"`  // Redis 服务器地址 (例如: "localhost:6379")
	Password string `yaml:"password"` // Redis 密码
	DB       int    `yaml:"db"`       // Redis 数据库编号
}

// MongoConfig 定义了 MongoDB（报告与产品目录存储）的连接配置。
type MongoConfig struct {
	Address  string `yaml:"address"`  // MongoDB 服务器地址
	Username string `yaml:"username"` // 用户名
	Password string `yaml:"password"` // 密码
	Database string `yaml:"database"` // 数据库名称
}

// MinIOConfig 定义了 MinIO 对象存储（分块文件来源）的连接配置。
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`  // MinIO 服务端点
	AccessKey string `yaml:"accessKey"` // 访问密钥
	SecretKey string `yaml:"secretKey"` // Secret 密钥
	Bucket    string `yaml:"bucket"`    // 分块文件所在的存储桶
	Secure    bool   `yaml:"secure"`    // 是否使用HTTPS
}

// KafkaConfig 定义了 Kafka 摄取任务队列的连接配置。
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"` // Kafka Broker 地址列表
	Topic   string   `yaml:"topic"`   // 摄取任务主题
	GroupID string   `yaml:"groupID"` // 消费者组 ID
}

// DatabaseConfigs 包含所有外部存储的配置。
type DatabaseConfigs struct {
	Milvus  MilvusConfig `yaml:"milvus"`  // Milvus 向量索引配置
	Redis   RedisConfig  `yaml:"redis"`   // Redis 缓存配置
	MongoDB MongoConfig  `yaml:"mongodb"` // MongoDB 配置
	MinIO   MinIOConfig  `yaml:"minio"`   // MinIO 对象存储配置
	Kafka   KafkaConfig  `yaml:"kafka"`   // Kafka 消息队列配置
}

// ProviderConfig 包含单个模型提供商的配置。
type ProviderConfig struct {
	APIKey  string `yaml:"apiKey"`  // API 密钥
	Model   string `yaml:"model"`   // 模型名称
	BaseURL string `yaml:"baseURL"` // 服务地址 (仅本地提供商需要, 例如 ollama)
}

// EmbeddingConfig 包含了不同 Embedding 提供商的配置。
type EmbeddingConfig struct {
	Provider string         `yaml:"provider"` // Embedding 提供商 ("gemini", "openai", "ollama")
	Gemini   ProviderConfig `yaml:"gemini"`   // Gemini 模型配置
	OpenAI   ProviderConfig `yaml:"openai"`   // OpenAI 模型配置
	Ollama   ProviderConfig `yaml:"ollama"`   // Ollama 模型配置
}

// LLMConfig 包含了不同生成模型提供商的配置。
type LLMConfig struct {
	Provider string         `yaml:"provider"` // LLM 提供商 ("gemini", "openai")
	Gemini   ProviderConfig `yaml:"gemini"`   // Gemini 模型配置
	OpenAI   ProviderConfig `yaml:"openai"`   // OpenAI 模型配置
}

// IngestionConfig 定义了批量摄取管线的行为。
type IngestionConfig struct {
	BatchSize    int      `yaml:"batchSize"`    // 每批 chunk 数量
	Concurrency  int      `yaml:"concurrency"`  // 并行处理的批次数量上限 (1 表示顺序处理)
	MaxRetries   int      `yaml:"maxRetries"`   // 瞬时错误的重试上限
	ExcludeTypes []string `yaml:"excludeTypes"` // 不参与索引的 chunk 类型 (例如 Footer, Image)
}

// TimeoutConfig 为每个外部协作方的网络调用设定超时时间。
// 任何调用都不允许无限阻塞，超时后返回带类型的超时错误。
type TimeoutConfig struct {
	Embed    string `yaml:"embed"`    // embedding 调用超时 (例如: "30s")
	Query    string `yaml:"query"`    // 向量索引查询超时
	Upsert   string `yaml:"upsert"`   // 向量索引写入超时
	Generate string `yaml:"generate"` // 生成模型整体超时
}

// ServerConfig 定义了 HTTP 服务的监听配置。
type ServerConfig struct {
	Address string `yaml:"address"` // 监听地址 (例如: ":8080")
}

// RateLimiterConfig 定义了搜索 API 的令牌桶限流配置。
type RateLimiterConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Rate     float64 `yaml:"rate"`     // 每秒生成的令牌数
	Capacity int     `yaml:"capacity"` // 桶容量 (突发上限)
}

// MiddlewareConfig 包含所有中间件的配置。
type MiddlewareConfig struct {
	RateLimiter RateLimiterConfig `yaml:"rateLimiter"`
}

// AppConfig 是整个 YAML 文件的根结构，包含了应用程序的所有配置。
type AppConfig struct {
	App        AppInfo          `yaml:"app"`        // 应用程序信息
	Server     ServerConfig     `yaml:"server"`     // HTTP 服务配置
	Logger     LoggerConfig     `yaml:"logger"`     // 日志记录器配置
	Embedding  EmbeddingConfig  `yaml:"embedding"`  // Embedding 配置部分
	LLM        LLMConfig        `yaml:"llm"`        // LLM 配置部分
	Databases  DatabaseConfigs  `yaml:"databases"`  // 外部存储配置
	Ingestion  IngestionConfig  `yaml:"ingestion"`  // 摄取管线配置
	Timeouts   TimeoutConfig    `yaml:"timeouts"`   // 协作方调用超时配置
	Middleware MiddlewareConfig `yaml:"middleware"` // 中间件配置
}

// LoadConfig 从指定路径加载并解析 YAML 配置文件。
func LoadConfig(path string) (*AppConfig, error) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("无法读取 YAML 文件 '%s': %w", path, err)
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(yamlFile, &cfg); err != nil {
		return nil, fmt.Errorf("解析 YAML 文件失败: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// applyDefaults 为缺省字段填入安全的默认值。
func (c *AppConfig) applyDefaults() {
	if c.Ingestion.BatchSize <= 0 {
		c.Ingestion.BatchSize = 50
	}
	if c.Ingestion.Concurrency <= 0 {
		c.Ingestion.Concurrency = 1
	}
	if c.Ingestion.MaxRetries <= 0 {
		c.Ingestion.MaxRetries = 3
	}
	if len(c.Ingestion.ExcludeTypes) == 0 {
		c.Ingestion.ExcludeTypes = []string{"Footer", "Image", "PageNumber"}
	}
	if c.Databases.Milvus.Dim <= 0 {
		c.Databases.Milvus.Dim = 3072
	}
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
}

// Timeout 将配置的超时字符串解析为 time.Duration，解析失败时返回给定默认值。
func Timeout(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
