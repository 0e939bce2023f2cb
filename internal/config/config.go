package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"map-agent/pkg/logging"
)

// 默认值
const (
	DefaultPort          = "8080"
	DefaultMaxRounds     = 25
	DefaultLockTTL       = 3 * time.Minute
	LockTTLMargin        = 30 * time.Second
	DefaultCancelTTL     = 5 * time.Minute
	DefaultLLMTimeout    = 120 * time.Second
	DefaultLLMModel      = "gpt-4.1"
	DefaultGeoTimeout    = 30 * time.Second
	DefaultOverpassURL   = "https://overpass-api.de/api/interpreter"
	DefaultOSMTimeout    = 60 * time.Second
	DefaultPresignTTL    = time.Hour
	DefaultBucket        = "map-agent"
	DefaultSQLitePath    = "/var/lib/map-agent/map-agent.db"
	DefaultConfigDirProd = "/etc/map-agent"
)

// Load 加载配置
//  1. 加载 .env.{env}（敏感信息）
//  2. 根据 APP_ENV 加载 {env}.yaml
//  3. 环境变量覆盖 YAML 配置
//
// 配置无法安全运行时（例如锁 TTL 短于单次模型调用）返回错误。
func Load() (*Config, error) {
	env := parseEnv(getEnv("APP_ENV", "dev"))
	loadEnvFiles(env)

	yamlCfg := loadYAMLConfig(env)
	applyEnvOverrides(&yamlCfg.YAMLConfig)

	// DATABASE_URL 显式指定时按 URL 前缀识别驱动
	driverHint := yamlCfg.Database.Driver
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL != "" {
		driverHint = ""
	} else {
		databaseURL = buildDatabaseURL(yamlCfg.Database, yamlCfg.Database.Password)
	}

	cfg := &Config{
		Env:            env,
		DatabaseDriver: detectDatabaseDriver(driverHint, databaseURL),
		DatabaseURL:    databaseURL,
		AutoMigrate:    yamlCfg.Database.AutoMigrate,
		RedisURL:       getEnv("REDIS_URL", buildRedisURL(yamlCfg.Redis)),
		Server:         yamlCfg.Server,
		MinIO:          yamlCfg.MinIO,
		LLM:            yamlCfg.LLM,
		Geoprocessing:  yamlCfg.Geoprocessing,
		Conversation:   yamlCfg.Conversation,
		OpenStreetMap:  yamlCfg.OpenStreetMap,
		Log:            yamlCfg.Log,
		ConfigFilePath: yamlCfg.loadedFrom,
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultYAMLConfig 代码硬编码默认值
func defaultYAMLConfig() YAMLConfig {
	return YAMLConfig{
		Server:   ServerConfig{Port: DefaultPort},
		Database: DatabaseConfig{Driver: "sqlite", Path: DefaultSQLitePath, Host: "localhost", Port: 5432, User: "map_agent", Name: "map_agent", SSLMode: "disable"},
		Redis:    RedisConfig{Host: "localhost", Port: 6379, DB: 0},
		MinIO:    MinIOConfig{Endpoint: "localhost:9000", Bucket: DefaultBucket, PresignTTL: DefaultPresignTTL},
		LLM:      LLMConfig{Model: DefaultLLMModel, Timeout: DefaultLLMTimeout},
		Geoprocessing: GeoprocessingConfig{
			BaseURL: "http://localhost:8081",
			Timeout: DefaultGeoTimeout,
		},
		OpenStreetMap: OpenStreetMapConfig{
			OverpassURL: DefaultOverpassURL,
			Timeout:     DefaultOSMTimeout,
		},
		Conversation: ConversationConfig{
			MaxRounds: DefaultMaxRounds,
			LockTTL:   DefaultLockTTL,
			CancelTTL: DefaultCancelTTL,
		},
		Log: logging.Config{Level: "info", Format: "text", Output: "stdout"},
	}
}

// loadYAMLConfig 加载 YAML 配置文件
// 加载顺序：默认值 → {env}.yaml
func loadYAMLConfig(env Environment) *yamlConfigInternal {
	cfg := &yamlConfigInternal{YAMLConfig: defaultYAMLConfig()}

	filename := ConfigFileNameFor(env)
	for _, base := range effectiveConfigPaths() {
		path := filepath.Join(base, filename)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, &cfg.YAMLConfig); err != nil {
			log.Printf("[config.load.invalid] path=%s error=%v", path, err)
			break
		}
		cfg.loadedFrom = path
		break
	}

	return cfg
}

// applyEnvOverrides 环境变量覆盖（凭据只从这里读取）
func applyEnvOverrides(cfg *YAMLConfig) {
	cfg.Database.Password = firstEnv("DB_PASSWORD", "POSTGRES_PASSWORD")
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	cfg.MinIO.AccessKey = firstEnv("MINIO_ROOT_USER", "MINIO_ACCESS_KEY")
	cfg.MinIO.SecretKey = firstEnv("MINIO_ROOT_PASSWORD", "MINIO_SECRET_KEY")
	cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")

	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("GEOPROCESSING_URL"); v != "" {
		cfg.Geoprocessing.BaseURL = v
	}
	if v := os.Getenv("OVERPASS_URL"); v != "" {
		cfg.OpenStreetMap.OverpassURL = v
	}
	if v := os.Getenv("MAX_ROUNDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Conversation.MaxRounds = n
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// validate 填充缺失的默认值并检查锁 TTL
//
// 锁必须比最慢的单次操作（模型调用、地理处理、OSM 查询）多活 LockTTLMargin，
// 否则续期之间锁可能过期，同一地图会被第二个循环获取。
func (c *Config) validate() error {
	if c.Server.Port == "" {
		c.Server.Port = DefaultPort
	}
	if c.Conversation.MaxRounds <= 0 {
		c.Conversation.MaxRounds = DefaultMaxRounds
	}
	if c.Conversation.LockTTL <= 0 {
		c.Conversation.LockTTL = DefaultLockTTL
	}
	if c.Conversation.CancelTTL <= 0 {
		c.Conversation.CancelTTL = DefaultCancelTTL
	}
	if c.LLM.Timeout <= 0 {
		c.LLM.Timeout = DefaultLLMTimeout
	}
	if c.LLM.Model == "" {
		c.LLM.Model = DefaultLLMModel
	}
	if c.Geoprocessing.Timeout <= 0 {
		c.Geoprocessing.Timeout = DefaultGeoTimeout
	}
	if c.OpenStreetMap.OverpassURL == "" {
		c.OpenStreetMap.OverpassURL = DefaultOverpassURL
	}
	if c.OpenStreetMap.Timeout <= 0 {
		c.OpenStreetMap.Timeout = DefaultOSMTimeout
	}
	if c.MinIO.Bucket == "" {
		c.MinIO.Bucket = DefaultBucket
	}
	if c.MinIO.PresignTTL <= 0 {
		c.MinIO.PresignTTL = DefaultPresignTTL
	}

	slowest := max(c.LLM.Timeout, c.Geoprocessing.Timeout)
	if c.OpenStreetMap.Enabled {
		slowest = max(slowest, c.OpenStreetMap.Timeout)
	}
	if c.Conversation.LockTTL <= slowest+LockTTLMargin {
		return fmt.Errorf("conversation.lock_ttl (%s) must exceed the slowest operation timeout (%s) by more than %s",
			c.Conversation.LockTTL, slowest, LockTTLMargin)
	}
	return nil
}

// SystemPrompt 读取系统提示词文件，未配置时返回空字符串
func (c *Config) SystemPrompt() (string, error) {
	if c.Conversation.SystemPromptFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.Conversation.SystemPromptFile)
	if err != nil {
		return "", fmt.Errorf("read system prompt: %w", err)
	}
	return string(data), nil
}
