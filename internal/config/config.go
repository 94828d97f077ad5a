package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/seweryn-pilarska/email-reply/internal/agent"
	"github.com/seweryn-pilarska/email-reply/internal/calendar"
	"github.com/seweryn-pilarska/email-reply/internal/llm"
	"github.com/seweryn-pilarska/email-reply/pkg/config"
	"github.com/seweryn-pilarska/email-reply/pkg/otel"
)

// RateLimitConfig 每个客户端（JWT subject 或 IP）的请求配额，0 表示不限流
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// WorkerConfig 异步回复 worker
type WorkerConfig struct {
	Queue      string        `yaml:"queue"`
	Prefetch   int           `yaml:"prefetch"`
	MaxRetries int64         `yaml:"max_retries"`
	DedupTTL   time.Duration `yaml:"dedup_ttl"`
}

// OutboxConfig outbox dispatcher
type OutboxConfig struct {
	Interval   time.Duration `yaml:"interval"`
	BatchSize  int           `yaml:"batch_size"`
	MaxRetries int           `yaml:"max_retries"`
}

type Config struct {
	Server    config.ServerConfig `yaml:"server"`
	Log       config.LogConfig    `yaml:"log"`
	DB        config.DBConfig     `yaml:"db"`
	MQ        config.MQConfig     `yaml:"mq"`
	Redis     config.RedisConfig  `yaml:"redis"`
	JWT       config.JWTConfig    `yaml:"jwt"`
	LLM       llm.Config          `yaml:"llm"`
	Calendar  calendar.Config     `yaml:"calendar"`
	Meeting   agent.MeetingPolicy `yaml:"meeting"`
	RateLimit RateLimitConfig     `yaml:"rate_limit"`
	Worker    WorkerConfig        `yaml:"worker"`
	Outbox    OutboxConfig        `yaml:"outbox"`
	OTel      otel.Config         `yaml:"otel"`
}

// Load 使用统一配置中心（CONFIG_ENV / CONFIG_DIR），环境变量优先级最高
func Load() (*Config, error) {
	return LoadFrom(config.GetConfigEnv(), config.GetEnv("CONFIG_DIR", "config"))
}

func LoadFrom(env, dir string) (*Config, error) {
	var cfg Config
	if err := config.Decode(env, dir, &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	config.OverrideServerFromEnv(&cfg.Server)
	config.OverrideLogFromEnv(&cfg.Log)
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideJWTFromEnv(&cfg.JWT)
	if err := overrideLLMFromEnv(&cfg.LLM); err != nil {
		return nil, err
	}
	overrideCalendarFromEnv(&cfg.Calendar)
	applyDefaults(&cfg)

	return &cfg, nil
}

// Engine returns the workflow engine settings.
func (c *Config) Engine() agent.Config {
	return agent.Config{
		Model:            c.LLM.Model,
		ClassifierModel:  c.LLM.ClassifierModel,
		ReplyTemperature: c.LLM.Temperature,
		SystemPrompt:     c.LLM.SystemPrompt,
		Meeting:          c.Meeting,
	}
}

func overrideLLMFromEnv(cfg *llm.Config) error {
	if provider := os.Getenv("LLM_PROVIDER"); provider != "" {
		cfg.Provider = provider
	}
	// provider 对应的 API key
	switch cfg.Provider {
	case llm.ProviderAnthropic:
		if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
			cfg.APIKey = key
		}
	default:
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			cfg.APIKey = key
		}
	}
	if baseURL := os.Getenv("LLM_BASE_URL"); baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model := os.Getenv("DEFAULT_MODEL"); model != "" {
		cfg.Model = model
	}
	if t := os.Getenv("DEFAULT_TEMPERATURE"); t != "" {
		v, err := strconv.ParseFloat(t, 32)
		if err != nil {
			return fmt.Errorf("invalid DEFAULT_TEMPERATURE %q: %w", t, err)
		}
		cfg.Temperature = float32(v)
	}
	return nil
}

func overrideCalendarFromEnv(cfg *calendar.Config) {
	if provider := os.Getenv("CALENDAR_PROVIDER"); provider != "" {
		cfg.Provider = provider
	}
	if url := os.Getenv("CALENDAR_URL"); url != "" {
		cfg.URL = url
	}
	if id := os.Getenv("CALENDAR_ID"); id != "" {
		cfg.CalendarID = id
	}
	if file := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); file != "" && cfg.CredentialsFile == "" {
		cfg.CredentialsFile = file
	}
}

const defaultReplyTemperature = 0.5

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	// 回复温度默认 0.5；分类和抽取固定为 0
	if cfg.LLM.Temperature <= 0 {
		cfg.LLM.Temperature = defaultReplyTemperature
	}

	def := agent.DefaultMeetingPolicy()
	if cfg.Meeting.UTCOffset == "" {
		cfg.Meeting.UTCOffset = def.UTCOffset
	}
	if cfg.Meeting.TimeZone == "" {
		cfg.Meeting.TimeZone = def.TimeZone
	}
	if cfg.Meeting.Location == "" {
		cfg.Meeting.Location = def.Location
	}

	if cfg.Worker.Queue == "" {
		cfg.Worker.Queue = "email.reply.q"
	}
	if cfg.Worker.MaxRetries <= 0 {
		cfg.Worker.MaxRetries = 5
	}
	if cfg.Worker.DedupTTL <= 0 {
		cfg.Worker.DedupTTL = 24 * time.Hour
	}
	if cfg.OTel.ServiceName == "" {
		cfg.OTel.ServiceName = "email-reply"
	}
}
