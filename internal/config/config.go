package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Tracker  TrackerConfig  `mapstructure:"tracker"`
	Hub      HubConfig      `mapstructure:"hub"`
	Runner   RunnerConfig   `mapstructure:"runner"`
	Summary  SummaryConfig  `mapstructure:"summary"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Security SecurityConfig `mapstructure:"security"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug / release
}

type StorageConfig struct {
	UploadDir         string   `mapstructure:"upload_dir"`
	TranscriptDir     string   `mapstructure:"transcript_dir"`
	SummaryDir        string   `mapstructure:"summary_dir"`
	WorkDir           string   `mapstructure:"work_dir"`
	AllowedExtensions []string `mapstructure:"allowed_extensions"`
	MaxUploadBytes    int64    `mapstructure:"max_upload_bytes"`
}

// HistoryPath 历史文件路径，固定位于转录文档目录下
func (s StorageConfig) HistoryPath() string {
	return filepath.Join(s.TranscriptDir, "history_records.json")
}

type WorkerConfig struct {
	MaxConcurrent      int           `mapstructure:"max_concurrent"`
	QueueSize          int           `mapstructure:"queue_size"`
	DefaultWaitTimeout time.Duration `mapstructure:"default_wait_timeout"`
}

type TrackerConfig struct {
	MinStep   time.Duration `mapstructure:"min_step"`
	MaxStep   time.Duration `mapstructure:"max_step"`
	DrainStep time.Duration `mapstructure:"drain_step"`
}

type HubConfig struct {
	QueueSize     int `mapstructure:"queue_size"`
	SessionBuffer int `mapstructure:"session_buffer"`
}

type RunnerConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Timeout        time.Duration `mapstructure:"timeout"`
	FFmpegPath     string        `mapstructure:"ffmpeg_path"`
	DefaultHotword string        `mapstructure:"default_hotword"`
}

type SummaryConfig struct {
	DefaultModel string                   `mapstructure:"default_model"`
	Timeout      time.Duration            `mapstructure:"timeout"`
	Models       map[string]ModelEndpoint `mapstructure:"models"`
}

type ModelEndpoint struct {
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
	APIKey  string `mapstructure:"api_key"`
}

type WebhookConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type SecurityConfig struct {
	RateLimit RateLimit `mapstructure:"rate_limit"`
}

type RateLimit struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`  // debug / info / warn / error
	Format   string `mapstructure:"format"` // json / console
	Output   string `mapstructure:"output"` // stdout / file
	FilePath string `mapstructure:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load 加载配置
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// 设置配置文件
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// 自动读取环境变量
	v.AutomaticEnv()

	// 环境变量覆盖
	v.BindEnv("server.port", "PORT")
	v.BindEnv("worker.max_concurrent", "MAX_CONCURRENT_JOBS")
	v.BindEnv("runner.base_url", "FUNASR_BASE_URL")
	v.BindEnv("runner.ffmpeg_path", "FFMPEG_PATH")
	v.BindEnv("summary.default_model", "SUMMARY_DEFAULT_MODEL")
	v.BindEnv("summary.models.deepseek.api_key", "DEEPSEEK_API_KEY")
	v.BindEnv("summary.models.qwen.api_key", "DASHSCOPE_API_KEY")
	v.BindEnv("summary.models.glm.api_key", "GLM_API_KEY")
	v.BindEnv("webhook.url", "WEBHOOK_URL")
	v.BindEnv("logging.level", "LOG_LEVEL")

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	// 兼容纯数字秒值（例如 RUNNER_TIMEOUT=600）
	normalizeDurationValues(v, []string{
		"worker.default_wait_timeout",
		"runner.timeout",
		"summary.timeout",
		"webhook.timeout",
	})

	// 解析配置
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// 应用默认值
	setDefaults(&cfg)

	return &cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "release"
	}
	if cfg.Storage.UploadDir == "" {
		cfg.Storage.UploadDir = "uploads"
	}
	if cfg.Storage.TranscriptDir == "" {
		cfg.Storage.TranscriptDir = "transcripts"
	}
	if cfg.Storage.SummaryDir == "" {
		cfg.Storage.SummaryDir = "meeting_summaries"
	}
	if cfg.Storage.WorkDir == "" {
		cfg.Storage.WorkDir = "work"
	}
	if len(cfg.Storage.AllowedExtensions) == 0 {
		cfg.Storage.AllowedExtensions = []string{
			".mp3", ".wav", ".m4a", ".flac", ".aac", ".ogg", ".wma",
		}
	}
	if cfg.Storage.MaxUploadBytes == 0 {
		cfg.Storage.MaxUploadBytes = 500 << 20
	}
	if cfg.Worker.MaxConcurrent == 0 {
		cfg.Worker.MaxConcurrent = 12
	}
	if cfg.Worker.QueueSize == 0 {
		cfg.Worker.QueueSize = 1024
	}
	if cfg.Worker.DefaultWaitTimeout == 0 {
		cfg.Worker.DefaultWaitTimeout = 600 * time.Second
	}
	if cfg.Tracker.MinStep == 0 {
		cfg.Tracker.MinStep = 50 * time.Millisecond
	}
	if cfg.Tracker.MaxStep == 0 {
		cfg.Tracker.MaxStep = 500 * time.Millisecond
	}
	if cfg.Tracker.DrainStep == 0 {
		cfg.Tracker.DrainStep = 2 * time.Millisecond
	}
	if cfg.Hub.QueueSize == 0 {
		cfg.Hub.QueueSize = 1024
	}
	if cfg.Hub.SessionBuffer == 0 {
		cfg.Hub.SessionBuffer = 64
	}
	if cfg.Runner.Timeout == 0 {
		cfg.Runner.Timeout = 30 * time.Minute
	}
	if cfg.Runner.FFmpegPath == "" {
		cfg.Runner.FFmpegPath = "ffmpeg"
	}
	if cfg.Summary.DefaultModel == "" {
		cfg.Summary.DefaultModel = "deepseek"
	}
	if cfg.Summary.Timeout == 0 {
		cfg.Summary.Timeout = 120 * time.Second
	}
	if cfg.Summary.Models == nil {
		cfg.Summary.Models = map[string]ModelEndpoint{}
	}
	setModelDefaults(cfg.Summary.Models, "deepseek", "https://api.deepseek.com", "deepseek-chat")
	setModelDefaults(cfg.Summary.Models, "qwen", "https://dashscope.aliyuncs.com/compatible-mode/v1", "qwen-turbo")
	setModelDefaults(cfg.Summary.Models, "glm", "https://open.bigmodel.cn/api/paas/v4", "glm-4")
	if cfg.Webhook.Timeout == 0 {
		cfg.Webhook.Timeout = 10 * time.Second
	}
	if cfg.Security.RateLimit.RequestsPerMinute == 0 {
		cfg.Security.RateLimit.RequestsPerMinute = 120
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

func setModelDefaults(models map[string]ModelEndpoint, key, baseURL, model string) {
	ep := models[key]
	if ep.BaseURL == "" {
		ep.BaseURL = baseURL
	}
	if ep.Model == "" {
		ep.Model = model
	}
	models[key] = ep
}

func normalizeDurationValues(v *viper.Viper, keys []string) {
	for _, key := range keys {
		raw := strings.TrimSpace(v.GetString(key))
		if raw == "" {
			continue
		}
		if _, err := time.ParseDuration(raw); err == nil {
			continue
		}
		if isDigits(raw) {
			v.Set(key, raw+"s")
		}
	}
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
