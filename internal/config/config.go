package config

import (
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Data     DataConfig     `yaml:"data"`
	LLM      LLMConfig      `yaml:"llm"`
	Task     TaskConfig     `yaml:"task"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Port int `yaml:"port" env:"APP_PORT"`
	// gin 运行模式：debug/release/test
	Mode string `yaml:"mode" env:"GIN_MODE"`
	// 单次请求允许的最大上传字节数
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`
}

type DatabaseConfig struct {
	// sqlite（默认，文件位于 data 目录下）或 mysql
	Driver   string `yaml:"driver" env:"DB_DRIVER"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password" env:"DB_PASSWORD"`
	DBName   string `yaml:"dbname"`
	Charset  string `yaml:"charset"`
}

type DataConfig struct {
	// 数据根目录：sqlite/upload/index 三类子目录都在它下面
	Dir string `yaml:"dir" env:"APP_DATA_DIR"`
}

type LLMConfig struct {
	// openai（含兼容 OpenAI 协议的服务）或 ollama
	Provider       string  `yaml:"provider" env:"LLM_PROVIDER"`
	BaseURL        string  `yaml:"base_url" env:"OPENAI_BASE_URL"`
	APIKey         string  `yaml:"api_key" env:"OPENAI_API_KEY"`
	OllamaHost     string  `yaml:"ollama_host" env:"OLLAMA_HOST"`
	ChatModel      string  `yaml:"chat_model"`
	EmbeddingModel string  `yaml:"embedding_model"`
	Temperature    float64 `yaml:"temperature"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
	// 向量检索返回的片段数
	TopK int `yaml:"top_k"`
	// 切分参数（按 cl100k_base token 计）
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
	// embedding 缓存条数
	EmbeddingCacheSize int `yaml:"embedding_cache_size"`
}

type TaskConfig struct {
	// 单次后台运行的超时时间，0 表示不限制
	RunTimeout time.Duration `yaml:"run_timeout"`
	// 进程退出时等待后台任务结束的最长时间
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"APP_LOG_LEVEL"`
	Format string `yaml:"format"`
	// 为空时只输出到标准输出
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// LoadConfig 读取 YAML 配置并用环境变量覆盖；path 为空或文件不存在时只使用环境变量和默认值
func LoadConfig(path string) (*Config, error) {
	var config Config

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &config); err != nil {
				return nil, errors.Wrap(err, "解析配置文件失败")
			}
		case os.IsNotExist(err):
			// 容器内通常只靠环境变量配置
		default:
			return nil, errors.Wrap(err, "读取配置文件失败")
		}
	}

	if err := env.Parse(&config); err != nil {
		return nil, errors.Wrap(err, "解析环境变量失败")
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "release"
	}
	if c.Server.MaxUploadBytes == 0 {
		c.Server.MaxUploadBytes = 64 << 20
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Charset == "" {
		c.Database.Charset = "utf8mb4"
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.ChatModel == "" {
		if c.LLM.Provider == "ollama" {
			c.LLM.ChatModel = "llama3.2"
		} else {
			c.LLM.ChatModel = "gpt-3.5-turbo"
		}
	}
	if c.LLM.EmbeddingModel == "" {
		if c.LLM.Provider == "ollama" {
			c.LLM.EmbeddingModel = "nomic-embed-text"
		} else {
			c.LLM.EmbeddingModel = "text-embedding-ada-002"
		}
	}
	if c.LLM.TimeoutSeconds == 0 {
		c.LLM.TimeoutSeconds = 120
	}
	if c.LLM.TopK == 0 {
		c.LLM.TopK = 3
	}
	if c.LLM.ChunkSize == 0 {
		c.LLM.ChunkSize = 512
	}
	if c.LLM.ChunkOverlap == 0 {
		c.LLM.ChunkOverlap = 50
	}
	if c.LLM.EmbeddingCacheSize == 0 {
		c.LLM.EmbeddingCacheSize = 10000
	}
	if c.Task.ShutdownTimeout == 0 {
		c.Task.ShutdownTimeout = 30 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate 检查启动所必需的配置项
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Data.Dir) == "" {
		return errors.New("未配置数据目录（data.dir 或 APP_DATA_DIR）")
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return errors.Errorf("不支持的运行模式: %s", c.Server.Mode)
	}
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		return errors.Errorf("不支持的数据库类型: %s", c.Database.Driver)
	}
	switch c.LLM.Provider {
	case "openai":
		if c.LLM.APIKey == "" {
			return errors.New("未配置 OPENAI_API_KEY")
		}
	case "ollama":
	default:
		return errors.Errorf("不支持的模型提供方: %s", c.LLM.Provider)
	}
	if c.LLM.ChunkOverlap >= c.LLM.ChunkSize {
		return errors.New("chunk_overlap 必须小于 chunk_size")
	}
	return nil
}
