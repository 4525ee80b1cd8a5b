package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskcal/internal/apperr"
	"taskcal/internal/ics"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"TELEGRAM_BOT_TOKEN", "OPENAI_API_KEY", "OPENAI_BASE_URL", "LLM_PRIMARY_MODEL",
		"LLM_FALLBACK_MODEL", "LOG_LEVEL", "APP_TZ", "HTTP_LISTEN",
		"MAX_PROMPT_TOKENS", "SESSION_MAX_LIVE", "SESSION_MAX_AGE",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "conf", "config.yaml")

	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Listen, cfg.Listen)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	again, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, cfg.Session, again.Session)
	assert.Equal(t, time.Hour, again.Session.MaxAge)
}

func TestLoadAppliesEnvFileAndEnvironment(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":9000"
session:
  max_live: 50
holidays:
  feeds:
    - url: https://example.com/holidays.ics
`), 0o600))
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("TELEGRAM_BOT_TOKEN=123:abc\nOPENAI_API_KEY=sk-test\nSESSION_MAX_AGE=2h30m\n"), 0o600))
	// godotenv does not override variables that are already set.
	os.Unsetenv("TELEGRAM_BOT_TOKEN")
	os.Unsetenv("OPENAI_API_KEY")
	os.Unsetenv("SESSION_MAX_AGE")
	t.Cleanup(func() {
		os.Unsetenv("TELEGRAM_BOT_TOKEN")
		os.Unsetenv("OPENAI_API_KEY")
		os.Unsetenv("SESSION_MAX_AGE")
	})
	t.Setenv("MAX_PROMPT_TOKENS", "8000")

	cfg, err := Load(path, envFile)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, 50, cfg.Session.MaxLive)
	assert.Equal(t, "123:abc", cfg.TelegramToken)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, 150*time.Minute, cfg.Session.MaxAge)
	assert.Equal(t, 8000, cfg.LLM.MaxPromptTokens)
	require.Len(t, cfg.Holidays.Feeds, 1)
	assert.Equal(t, "feed-1", cfg.Holidays.Feeds[0].ID)
	assert.NoError(t, cfg.Validate())
}

func TestLoadRejectsBadNumbers(t *testing.T) {
	clearEnv(t)
	t.Setenv("SESSION_MAX_LIVE", "lots")
	_, err := Load(filepath.Join(t.TempDir(), "c.yaml"), "")
	assert.ErrorContains(t, err, "SESSION_MAX_LIVE")
}

func TestStr2DurationAcceptsDays(t *testing.T) {
	cfg := DefaultConfig()
	env := map[string]string{"SESSION_MAX_AGE": "1d"}
	require.NoError(t, cfg.applyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))
	assert.Equal(t, 24*time.Hour, cfg.Session.MaxAge)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := DefaultConfig()
		c.TelegramToken = "123:abc"
		c.LLM.APIKey = "sk-real"
		return c
	}
	require.NoError(t, valid().Validate())

	cases := map[string]func(c *Config){
		"missing telegram token": func(c *Config) { c.TelegramToken = "" },
		"placeholder token":      func(c *Config) { c.TelegramToken = "your_telegram_bot_token_here" },
		"placeholder api key":    func(c *Config) { c.LLM.APIKey = "your_openai_api_key_here" },
		"changeme password":      func(c *Config) { c.BasicAuth = &BasicAuthConfig{Username: "admin", Password: "changeme"} },
		"non UTC timezone":       func(c *Config) { c.Timezone = "Asia/Seoul" },
		"bad log level":          func(c *Config) { c.LogLevel = "LOUD" },
		"tiny token budget":      func(c *Config) { c.LLM.MaxPromptTokens = 10 },
		"bad feed url":           func(c *Config) { c.Holidays.Feeds = []ics.Feed{{ID: "x", URL: "nope"}} },
		"short session age":      func(c *Config) { c.Session.MaxAge = time.Second },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.KindFatalConfig))
		})
	}
}

func TestSaveNeverWritesSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.TelegramToken = "123:secret"
	cfg.LLM.APIKey = "sk-secret"
	require.NoError(t, cfg.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret")
}
