// Package config loads the process configuration from a YAML file, an
// optional .env file and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"

	"taskcal/internal/apperr"
	"taskcal/internal/ics"
)

// Placeholder secrets shipped in example files. Starting with any of them
// is a configuration error.
var placeholders = []string{
	"your_telegram_bot_token_here",
	"your_openai_api_key_here",
	"changeme",
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the HTTP endpoints.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username" validate:"required"`
	Password string `yaml:"password" json:"password" validate:"required"`
}

// LLMConfig selects the extraction models. Fallback is optional.
type LLMConfig struct {
	PrimaryModel  string  `yaml:"primary_model" json:"primary_model" validate:"required"`
	FallbackModel string  `yaml:"fallback_model,omitempty" json:"fallback_model,omitempty"`
	APIKey        string  `yaml:"-" json:"-"`
	BaseURL       string  `yaml:"base_url,omitempty" json:"base_url,omitempty" validate:"omitempty,url"`
	Temperature   float64 `yaml:"temperature" json:"temperature" validate:"gte=0,lte=2"`
	// Timeout bounds a single provider call.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// Attempts is the retry budget per provider.
	Attempts int `yaml:"attempts" json:"attempts" validate:"gte=1,lte=10"`
	// MaxPromptTokens is the extraction context budget.
	MaxPromptTokens int `yaml:"max_prompt_tokens" json:"max_prompt_tokens" validate:"gte=1000"`
}

// SessionConfig bounds the in-memory session store.
type SessionConfig struct {
	MaxLive   int           `yaml:"max_live" json:"max_live" validate:"gte=1"`
	MaxAge    time.Duration `yaml:"max_age" json:"max_age"`
	MaxRounds int           `yaml:"max_rounds" json:"max_rounds" validate:"gte=1"`
	// Workers bounds units of work in flight across all chats.
	Workers int `yaml:"workers" json:"workers" validate:"gte=1"`
}

// HolidayConfig lists public holiday feeds applied to every chat.
type HolidayConfig struct {
	Feeds       []ics.Feed `yaml:"feeds" json:"feeds" validate:"dive"`
	RefreshCron string     `yaml:"refresh" json:"refresh" validate:"required"`
	HorizonDays int        `yaml:"horizon_days" json:"horizon_days" validate:"gte=30"`
	CacheDir    string     `yaml:"cache_dir" json:"cache_dir"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for health, metrics and stats.
	Listen string `yaml:"listen" json:"listen" validate:"required"`

	// Timezone must be UTC; every instant the bot produces is UTC.
	Timezone string `yaml:"timezone" json:"timezone" validate:"eq=UTC"`

	LogLevel  string `yaml:"log_level" json:"log_level" validate:"oneof=DEBUG INFO WARN ERROR"`
	LogFormat string `yaml:"log_format" json:"log_format" validate:"oneof=text json"`

	// TelegramToken comes only from the environment.
	TelegramToken string `yaml:"-" json:"-"`

	LLM      LLMConfig     `yaml:"llm" json:"llm"`
	Session  SessionConfig `yaml:"session" json:"session"`
	Holidays HolidayConfig `yaml:"holidays" json:"holidays"`

	// StatsCron schedules the periodic session-store sweep and stats log.
	StatsCron string `yaml:"stats_cron" json:"stats_cron" validate:"required"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:    "127.0.0.1:8080",
		Timezone:  "UTC",
		LogLevel:  "INFO",
		LogFormat: "text",
		LLM: LLMConfig{
			PrimaryModel:    "gpt-4o-mini",
			FallbackModel:   "gpt-4o",
			Temperature:     0.2,
			Timeout:         60 * time.Second,
			Attempts:        3,
			MaxPromptTokens: 24000,
		},
		Session: SessionConfig{
			MaxLive:   1000,
			MaxAge:    time.Hour,
			MaxRounds: 4,
			Workers:   16,
		},
		Holidays: HolidayConfig{
			Feeds:       []ics.Feed{},
			RefreshCron: "0 */6 * * *",
			HorizonDays: ics.DefaultHorizonDays,
			CacheDir:    "./var/ics-cache",
		},
		StatsCron: "*/5 * * * *",
	}
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave correctly.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	c.LogLevel = strings.ToUpper(c.LogLevel)
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = d.LogFormat
	}
	if c.LLM.PrimaryModel == "" {
		c.LLM.PrimaryModel = d.LLM.PrimaryModel
	}
	if c.LLM.Timeout <= 0 {
		c.LLM.Timeout = d.LLM.Timeout
	}
	if c.LLM.Attempts <= 0 {
		c.LLM.Attempts = d.LLM.Attempts
	}
	if c.LLM.MaxPromptTokens <= 0 {
		c.LLM.MaxPromptTokens = d.LLM.MaxPromptTokens
	}
	if c.Session.MaxLive <= 0 {
		c.Session.MaxLive = d.Session.MaxLive
	}
	if c.Session.MaxAge <= 0 {
		c.Session.MaxAge = d.Session.MaxAge
	}
	if c.Session.MaxRounds <= 0 {
		c.Session.MaxRounds = d.Session.MaxRounds
	}
	if c.Session.Workers <= 0 {
		c.Session.Workers = d.Session.Workers
	}
	if c.Holidays.Feeds == nil {
		c.Holidays.Feeds = []ics.Feed{}
	}
	for i := range c.Holidays.Feeds {
		if c.Holidays.Feeds[i].ID == "" {
			c.Holidays.Feeds[i].ID = fmt.Sprintf("feed-%d", i+1)
		}
	}
	if c.Holidays.RefreshCron == "" {
		c.Holidays.RefreshCron = d.Holidays.RefreshCron
	}
	if c.Holidays.HorizonDays <= 0 {
		c.Holidays.HorizonDays = d.Holidays.HorizonDays
	}
	if c.Holidays.CacheDir == "" {
		c.Holidays.CacheDir = d.Holidays.CacheDir
	}
	if c.StatsCron == "" {
		c.StatsCron = d.StatsCron
	}
}

// Load loads configuration from the given YAML path, creating a default
// file on first run, then applies environment overrides. envFile, when
// set, is loaded into the process environment first; a missing envFile is
// not an error. The result is not validated; call Validate.
func Load(path, envFile string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg, err := readFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.Normalize()
	return cfg, nil
}

func readFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// applyEnv overrides file values with environment variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		d, err := str2duration.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = d
		return nil
	}

	str("TELEGRAM_BOT_TOKEN", &c.TelegramToken)
	str("OPENAI_API_KEY", &c.LLM.APIKey)
	str("OPENAI_BASE_URL", &c.LLM.BaseURL)
	str("LLM_PRIMARY_MODEL", &c.LLM.PrimaryModel)
	str("LLM_FALLBACK_MODEL", &c.LLM.FallbackModel)
	str("LOG_LEVEL", &c.LogLevel)
	str("APP_TZ", &c.Timezone)
	str("HTTP_LISTEN", &c.Listen)

	return errors.Join(
		num("MAX_PROMPT_TOKENS", &c.LLM.MaxPromptTokens),
		num("SESSION_MAX_LIVE", &c.Session.MaxLive),
		dur("SESSION_MAX_AGE", &c.Session.MaxAge),
	)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks required secrets and field constraints. Every failure is
// a FatalConfig error; the process must not serve traffic with it.
func (c *Config) Validate() error {
	var problems []string
	for key, v := range map[string]string{
		"TELEGRAM_BOT_TOKEN": c.TelegramToken,
		"OPENAI_API_KEY":     c.LLM.APIKey,
	} {
		if isPlaceholder(v) {
			problems = append(problems, key+" is missing or a placeholder")
		}
	}
	if c.BasicAuth != nil && isPlaceholder(c.BasicAuth.Password) {
		problems = append(problems, "basic_auth.password is missing or a placeholder")
	}
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				problems = append(problems, fmt.Sprintf("%s fails %q", fe.Namespace(), fe.Tag()))
			}
		} else {
			problems = append(problems, err.Error())
		}
	}
	if c.Session.MaxAge < time.Minute {
		problems = append(problems, "session max age must be at least 1m")
	}
	if len(problems) == 0 {
		return nil
	}
	slices.Sort(problems)
	return apperr.Wrap(apperr.KindFatalConfig, "invalid configuration", errors.New(strings.Join(problems, "; ")))
}

func isPlaceholder(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return true
	}
	for _, p := range placeholders {
		if strings.EqualFold(v, p) {
			return true
		}
	}
	return false
}

// Save writes the given configuration to the specified path atomically
// with 0600 permissions. Secrets are never written.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".taskcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
