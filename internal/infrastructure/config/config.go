package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the full gateway configuration, populated from environment
// variables. Variable names are part of the deployment contract and must not
// be renamed.
type Config struct {
	ProxyAPIKey string
	Port        int
	LogLevel    string

	// Upstream credentials
	RefreshToken string
	ProfileArn   string
	Region       string
	CredsFile    string // local path or http(s) URL

	// Credential lifecycle
	TokenRefreshThreshold time.Duration

	// Retry / timeout policy
	MaxRetries           int
	BaseRetryDelay       time.Duration
	FirstTokenTimeout    time.Duration
	FirstTokenMaxRetries int
	StreamReadTimeout    time.Duration
	NonStreamTimeout     time.Duration
	SlowModelMultiplier  float64

	// Converters
	ToolDescriptionMaxLength int

	// Token accounting
	DefaultMaxInputTokens int

	// Misc
	ModelCacheTTL      time.Duration
	RateLimitPerMinute int // 0 = disabled
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for _, key := range []string{
		"PROXY_API_KEY", "PORT", "LOG_LEVEL",
		"REFRESH_TOKEN", "PROFILE_ARN", "KIRO_REGION", "KIRO_CREDS_FILE",
		"TOKEN_REFRESH_THRESHOLD",
		"MAX_RETRIES", "BASE_RETRY_DELAY",
		"FIRST_TOKEN_TIMEOUT", "FIRST_TOKEN_MAX_RETRIES",
		"STREAM_READ_TIMEOUT", "NON_STREAM_TIMEOUT", "SLOW_MODEL_TIMEOUT_MULTIPLIER",
		"TOOL_DESCRIPTION_MAX_LENGTH", "MODEL_CACHE_TTL",
		"DEFAULT_MAX_INPUT_TOKENS", "RATE_LIMIT_PER_MINUTE",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	cfg := &Config{
		ProxyAPIKey: v.GetString("PROXY_API_KEY"),
		Port:        v.GetInt("PORT"),
		LogLevel:    v.GetString("LOG_LEVEL"),

		RefreshToken: v.GetString("REFRESH_TOKEN"),
		ProfileArn:   v.GetString("PROFILE_ARN"),
		Region:       v.GetString("KIRO_REGION"),
		CredsFile:    v.GetString("KIRO_CREDS_FILE"),

		TokenRefreshThreshold: seconds(v, "TOKEN_REFRESH_THRESHOLD"),

		MaxRetries:           v.GetInt("MAX_RETRIES"),
		BaseRetryDelay:       seconds(v, "BASE_RETRY_DELAY"),
		FirstTokenTimeout:    seconds(v, "FIRST_TOKEN_TIMEOUT"),
		FirstTokenMaxRetries: v.GetInt("FIRST_TOKEN_MAX_RETRIES"),
		StreamReadTimeout:    seconds(v, "STREAM_READ_TIMEOUT"),
		NonStreamTimeout:     seconds(v, "NON_STREAM_TIMEOUT"),
		SlowModelMultiplier:  v.GetFloat64("SLOW_MODEL_TIMEOUT_MULTIPLIER"),

		ToolDescriptionMaxLength: v.GetInt("TOOL_DESCRIPTION_MAX_LENGTH"),

		DefaultMaxInputTokens: v.GetInt("DEFAULT_MAX_INPUT_TOKENS"),

		ModelCacheTTL:      seconds(v, "MODEL_CACHE_TTL"),
		RateLimitPerMinute: v.GetInt("RATE_LIMIT_PER_MINUTE"),
	}

	if cfg.ProxyAPIKey == "" {
		return nil, fmt.Errorf("PROXY_API_KEY is required")
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("KIRO_REGION", "us-east-1")
	v.SetDefault("TOKEN_REFRESH_THRESHOLD", 300)
	v.SetDefault("MAX_RETRIES", 3)
	v.SetDefault("BASE_RETRY_DELAY", 1)
	v.SetDefault("FIRST_TOKEN_TIMEOUT", 120)
	v.SetDefault("FIRST_TOKEN_MAX_RETRIES", 3)
	v.SetDefault("STREAM_READ_TIMEOUT", 300)
	v.SetDefault("NON_STREAM_TIMEOUT", 900)
	v.SetDefault("SLOW_MODEL_TIMEOUT_MULTIPLIER", 3.0)
	v.SetDefault("TOOL_DESCRIPTION_MAX_LENGTH", 10000)
	v.SetDefault("MODEL_CACHE_TTL", 300)
	v.SetDefault("DEFAULT_MAX_INPUT_TOKENS", 200000)
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 0)
}

// seconds reads an env value expressed in whole seconds.
func seconds(v *viper.Viper, key string) time.Duration {
	return time.Duration(v.GetFloat64(key) * float64(time.Second))
}
