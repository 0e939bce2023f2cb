// Package config 统一配置管理
//
// 配置加载优先级（高→低）：
//  1. 环境变量（通过 .env 文件或 shell/systemd 注入）
//  2. YAML 配置文件（{env}.yaml，如 dev.yaml、test.yaml、prod.yaml）
//  3. 代码硬编码默认值
//
// 凭据单一数据源：
//
//	密码/密钥只存在 .env 文件或环境变量中（YAML 中不存储任何密码）。
//
// 配置路径确定策略：
//  1. --config 命令行参数（显式路径）
//  2. CONFIG_DIR 环境变量
//  3. 按 APP_ENV 选择默认路径：
//     - prod → /etc/map-agent/
//     - dev/test → ./configs/
package config

import (
	"time"

	"map-agent/pkg/logging"
)

// Environment 环境类型
type Environment string

const (
	EnvProduction  Environment = "prod"
	EnvTest        Environment = "test"
	EnvDevelopment Environment = "dev"
)

// YAMLConfig YAML 配置文件结构
type YAMLConfig struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	MinIO         MinIOConfig         `yaml:"minio"`
	LLM           LLMConfig           `yaml:"llm"`
	Geoprocessing GeoprocessingConfig `yaml:"geoprocessing"`
	Conversation  ConversationConfig  `yaml:"conversation"`
	OpenStreetMap OpenStreetMapConfig `yaml:"openstreetmap"`
	Log           logging.Config      `yaml:"log"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Port           string   `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"` // WebSocket / CORS 允许的来源，空表示不限制
}

type DatabaseConfig struct {
	Driver      string `yaml:"driver"` // "postgres" 或 "sqlite"（默认 sqlite）
	Path        string `yaml:"path"`   // SQLite 文件路径
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	User        string `yaml:"user"`
	Password    string `yaml:"-"` // 只从 DB_PASSWORD 环境变量读取
	Name        string `yaml:"name"`
	SSLMode     string `yaml:"sslmode"`
	AutoMigrate bool   `yaml:"auto_migrate"` // PostgreSQL 启动时执行内置建表脚本
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	DB       int    `yaml:"db"`
	Password string `yaml:"-"`   // 只从 REDIS_PASSWORD 环境变量读取
	URL      string `yaml:"url"` // 直接指定 URL，优先于 host/port/db
}

// MinIOConfig 对象存储配置
type MinIOConfig struct {
	Endpoint   string        `yaml:"endpoint"` // 例如 localhost:9000
	AccessKey  string        `yaml:"-"`        // 只从 MINIO_ROOT_USER 环境变量读取
	SecretKey  string        `yaml:"-"`        // 只从 MINIO_ROOT_PASSWORD 环境变量读取
	UseSSL     bool          `yaml:"use_ssl"`
	Bucket     string        `yaml:"bucket"`
	PresignTTL time.Duration `yaml:"presign_ttl"` // 预签名 URL 有效期
}

// LLMConfig 模型服务配置（OpenAI 兼容接口）
type LLMConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"-"` // 只从 OPENAI_API_KEY 环境变量读取
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// GeoprocessingConfig 远程地理处理服务配置
type GeoprocessingConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	Algorithms []string      `yaml:"algorithms"` // 启用的算法 ID，空表示全部内置算法
}

// ConversationConfig 会话编排配置
type ConversationConfig struct {
	MaxRounds        int           `yaml:"max_rounds"`
	LockTTL          time.Duration `yaml:"lock_ttl"`
	CancelTTL        time.Duration `yaml:"cancel_ttl"`
	SystemPromptFile string        `yaml:"system_prompt_file"` // 为空时使用内置提示词
}

// OpenStreetMapConfig OSM 导入配置
type OpenStreetMapConfig struct {
	Enabled     bool          `yaml:"enabled"`
	OverpassURL string        `yaml:"overpass_url"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Config 应用配置（最终使用的配置）
type Config struct {
	Env            Environment
	DatabaseDriver string // "postgres" 或 "sqlite"
	DatabaseURL    string
	AutoMigrate    bool
	RedisURL       string
	Server         ServerConfig
	MinIO          MinIOConfig
	LLM            LLMConfig
	Geoprocessing  GeoprocessingConfig
	Conversation   ConversationConfig
	OpenStreetMap  OpenStreetMapConfig
	Log            logging.Config
	ConfigFilePath string // 实际加载的配置文件路径
}

// yamlConfigInternal 内部包装，记录配置文件来源（不参与 YAML 序列化）
type yamlConfigInternal struct {
	YAMLConfig `yaml:",inline"`
	loadedFrom string
}
