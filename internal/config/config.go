package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// LLMConfig selects the chat-completions endpoint. All three fields are
// required before a turn can run.
type LLMConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

// TokenRates prices the three token classes per million tokens.
type TokenRates struct {
	InputCachedPerMillion   float64 `mapstructure:"input_cached_per_million"`
	InputUncachedPerMillion float64 `mapstructure:"input_uncached_per_million"`
	OutputPerMillion        float64 `mapstructure:"output_per_million"`
}

// EmailConfig configures the SMTP sender used by the email skills and the
// scheduler.
type EmailConfig struct {
	SMTPServer       string `mapstructure:"smtp_server"`
	SMTPPort         int    `mapstructure:"smtp_port"`
	SMTPSSL          bool   `mapstructure:"smtp_ssl"`
	SMTPUser         string `mapstructure:"smtp_user"`
	SMTPAuthCode     string `mapstructure:"smtp_auth_code"`
	DefaultSender    string `mapstructure:"default_sender"`
	DefaultRecipient string `mapstructure:"default_recipient"`
}

// MemoryConfig bounds the dialog memory replay window.
type MemoryConfig struct {
	WindowSeconds int `mapstructure:"window_seconds"`
	MaxRecords    int `mapstructure:"max_records"`
}

// TurnConfig bounds the plan/execute/review loop.
type TurnConfig struct {
	MaxReviewRounds     int `mapstructure:"max_review_rounds"`
	SkillTimeoutSeconds int `mapstructure:"skill_timeout_seconds"`
}

// TransportConfig sizes per-subscriber event buffers.
type TransportConfig struct {
	SubscriberBuffer int `mapstructure:"subscriber_buffer"`
}

// ServerConfig configures the remote relay listener.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Config is the single application configuration blob.
type Config struct {
	LLM        LLMConfig       `mapstructure:"llm"`
	TokenRates TokenRates      `mapstructure:"token_rates"`
	Email      EmailConfig     `mapstructure:"email"`
	Memory     MemoryConfig    `mapstructure:"memory"`
	Turn       TurnConfig      `mapstructure:"turn"`
	Transport  TransportConfig `mapstructure:"transport"`
	Server     ServerConfig    `mapstructure:"server"`
	DataDir    string          `mapstructure:"data_dir"`
}

// Load reads deskmate-config.json from $HOME or the working directory,
// layers DESKMATE_* environment variables (and a local .env) on top, and
// applies defaults. A missing config file is not an error; a missing LLM
// section surfaces later as a config-kind failure.
func Load() (*Config, error) {
	// .env is optional; secrets usually live there during development.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("deskmate-config")
	v.SetConfigType("json")
	v.AddConfigPath("$HOME")
	v.AddConfigPath(".")
	v.SetEnvPrefix("deskmate")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("DESKMATE_API_KEY")
	}
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".deskmate")
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("token_rates.input_cached_per_million", 0.2)
	v.SetDefault("token_rates.input_uncached_per_million", 2.0)
	v.SetDefault("token_rates.output_per_million", 3.0)
	v.SetDefault("email.smtp_server", "smtp.qq.com")
	v.SetDefault("email.smtp_port", 465)
	v.SetDefault("email.smtp_ssl", true)
	v.SetDefault("memory.window_seconds", 3600)
	v.SetDefault("turn.max_review_rounds", 3)
	v.SetDefault("turn.skill_timeout_seconds", 30)
	v.SetDefault("transport.subscriber_buffer", 256)
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8089)
}

// Window returns the memory replay window as a duration.
func (m MemoryConfig) Window() time.Duration {
	if m.WindowSeconds <= 0 {
		return time.Hour
	}
	return time.Duration(m.WindowSeconds) * time.Second
}

// SkillTimeout returns the per-skill-call deadline.
func (t TurnConfig) SkillTimeout() time.Duration {
	if t.SkillTimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(t.SkillTimeoutSeconds) * time.Second
}
