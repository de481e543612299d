package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 8787, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Equal(t, 10, cfg.Queue.MaxWorkers)
	assert.Equal(t, 60*time.Second, cfg.Queue.LockTTL)
	assert.Equal(t, "openai", cfg.AI.Provider)
	assert.Equal(t, 60, cfg.AI.ConfidenceThreshold)
	assert.Equal(t, 587, cfg.Email.SMTPPort)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replydesk.toml")
	content := `
[server]
port = 9100

[database]
url = "postgres://localhost/replydesk_test"

[ai]
provider = "claude"
confidence_threshold = 75
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "postgres://localhost/replydesk_test", cfg.Database.URL)
	assert.Equal(t, "claude", cfg.AI.Provider)
	assert.Equal(t, 75, cfg.AI.ConfidenceThreshold)
	// Untouched keys keep their defaults.
	assert.Equal(t, "info", cfg.Server.LogLevel)
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replydesk.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\nport = 9100\n"), 0644))

	t.Setenv("REPLYDESK_SERVER_PORT", "9200")
	t.Setenv("REPLYDESK_AI_PROVIDER", "ollama")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.Server.Port)
	assert.Equal(t, "ollama", cfg.AI.Provider)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{}
		cfg.Database.URL = "postgres://localhost/replydesk"
		cfg.AI.Provider = "openai"
		cfg.AI.ConfidenceThreshold = 60
		cfg.AI.Timeout = 45 * time.Second
		cfg.Queue.LockTTL = 60 * time.Second
		return cfg
	}

	assert.NoError(t, Validate(base()))

	noDB := base()
	noDB.Database.URL = ""
	assert.Error(t, Validate(noDB))

	noProvider := base()
	noProvider.AI.Provider = ""
	assert.Error(t, Validate(noProvider))

	badThreshold := base()
	badThreshold.AI.ConfidenceThreshold = 101
	assert.Error(t, Validate(badThreshold))

	shortLock := base()
	shortLock.Queue.LockTTL = 10 * time.Second
	assert.Error(t, Validate(shortLock))
}

func TestInitConfigRefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replydesk.toml")
	require.NoError(t, InitConfig(path))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 8787, cfg.Server.Port)

	assert.Error(t, InitConfig(path))
}
