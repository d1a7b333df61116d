package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig places a config file under a fake home directory so the
// allowed-directory check passes.
func writeConfig(t *testing.T, content string, perm os.FileMode) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".config", "draftd")
	require.NoError(t, os.MkdirAll(dir, 0700))

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	return path
}

func TestLoadWithFile_Defaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := LoadWithFile("")
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Engine.ErrorThreshold)
	assert.False(t, cfg.Engine.AutoApprove)
	assert.Equal(t, 3, cfg.Engine.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Engine.Retry.BaseDelay.Duration())
	assert.Equal(t, 30*time.Second, cfg.Engine.Retry.MaxDelay.Duration())
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.Equal(t, "./documents", cfg.Output.DocumentDir)
	assert.Equal(t, "builtin", cfg.LLM.Provider)
	require.NotNil(t, cfg.Logging)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadWithFile_YAML(t *testing.T) {
	path := writeConfig(t, `
engine:
  error_threshold: 1
  auto_approve: true
  retry:
    max_attempts: 2
    base_delay: 100ms
server:
  host: 0.0.0.0
  port: 9000
output:
  document_dir: /tmp/docs
`, 0600)

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.Engine.ErrorThreshold)
	assert.True(t, cfg.Engine.AutoApprove)
	assert.Equal(t, 2, cfg.Engine.Retry.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, cfg.Engine.Retry.BaseDelay.Duration())
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "/tmp/docs", cfg.Output.DocumentDir)
	// Untouched sections still get defaults
	assert.Equal(t, 30*time.Second, cfg.Engine.Retry.MaxDelay.Duration())
}

func TestLoadWithFile_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9000\n", 0600)
	t.Setenv("DRAFTD_SERVER_PORT", "9444")
	t.Setenv("DRAFTD_ENGINE_ERROR_THRESHOLD", "5")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, 9444, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Engine.ErrorThreshold)
}

func TestLoadWithFile_RejectsInsecurePermissions(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9000\n", 0644)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure config file permissions")
}

func TestLoadWithFile_RejectsPathOutsideAllowedDirs(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	outside := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(outside, []byte("{}"), 0600))

	_, err := LoadWithFile(outside)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file must be in")
}

func TestLoadWithFile_ValidationFailure(t *testing.T) {
	path := writeConfig(t, "llm:\n  provider: carrier-pigeon\n", 0600)

	_, err := LoadWithFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm.provider")
}

func TestConfigValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{}
		applyDefaults(cfg)
		return cfg
	}

	cfg := base()
	assert.NoError(t, cfg.Validate())

	cfg = base()
	cfg.Engine.Retry.MaxAttempts = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Engine.Retry.JitterFraction = 1.5
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Server.Port = 70000
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.LLM.Provider = "openai"
	assert.Error(t, cfg.Validate(), "openai provider requires an api key")
	cfg.LLM.APIKey = "sk-test"
	assert.NoError(t, cfg.Validate())
}

func TestDuration(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("90s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("-1s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))

	text, err := Duration(time.Minute).MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1m0s", string(text))
}

func TestSecret(t *testing.T) {
	s := Secret("hunter2")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "hunter2", s.Value())
	assert.True(t, s.IsSet())

	j, err := s.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(j))

	empty := Secret("")
	assert.Equal(t, "", empty.String())
	assert.False(t, empty.IsSet())
}
