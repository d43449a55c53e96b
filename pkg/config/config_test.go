package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		t.Setenv(k, v)
	}
}

func TestLoad_RequiresSessionsDir(t *testing.T) {
	os.Unsetenv("OPENCLAW_SESSIONS_DIR")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, map[string]string{"OPENCLAW_SESSIONS_DIR": "/tmp/sessions"})

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.MaxMessagesPerSession)
	assert.Equal(t, 600, cfg.MemorizeTimeoutSec)
	assert.Equal(t, 60, cfg.RateLimitBackoffSec)
	assert.Equal(t, 900, cfg.RateLimitBackoffMaxSec)
	assert.Equal(t, 1800, cfg.FlushIdleSec)
	assert.Equal(t, 60, cfg.FlushPollSec)
	assert.Equal(t, "default", cfg.UserID)
	assert.Equal(t, 0.0, cfg.DispatchRatePerSec)
}

func TestLoad_DispatchRatePerSec(t *testing.T) {
	setEnv(t, map[string]string{
		"OPENCLAW_SESSIONS_DIR":     "/tmp/sessions",
		"MEMU_DISPATCH_RATE_PER_SEC": "2.5",
	})

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2.5, cfg.DispatchRatePerSec)
}

func TestLoad_ProviderPrefixes(t *testing.T) {
	setEnv(t, map[string]string{
		"OPENCLAW_SESSIONS_DIR": "/tmp/sessions",
		"MEMU_CHAT_BASE_URL":    "https://chat.example.com/v1",
		"MEMU_CHAT_API_KEY":     "sk-test",
		"MEMU_EMBED_MODEL":      "text-embed-3",
	})

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://chat.example.com/v1", cfg.Chat.BaseURL)
	assert.Equal(t, "sk-test", cfg.Chat.APIKey)
	assert.Equal(t, "text-embed-3", cfg.Embed.Model)
}

func TestExtraPathList(t *testing.T) {
	setEnv(t, map[string]string{
		"OPENCLAW_SESSIONS_DIR": "/tmp/sessions",
		"MEMU_EXTRA_PATHS":      `["/docs/a.md", "/docs/b"]`,
	})

	cfg, err := Load()
	require.NoError(t, err)

	paths, err := cfg.ExtraPathList()
	require.NoError(t, err)
	assert.Equal(t, []string{"/docs/a.md", "/docs/b"}, paths)
}

func TestExtraPathList_Empty(t *testing.T) {
	setEnv(t, map[string]string{"OPENCLAW_SESSIONS_DIR": "/tmp/sessions"})
	cfg, err := Load()
	require.NoError(t, err)

	paths, err := cfg.ExtraPathList()
	require.NoError(t, err)
	assert.Nil(t, paths)
}

func TestLangPrefix(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, "", cfg.LangPrefix())

	cfg.OutputLang = "zh"
	assert.NotEmpty(t, cfg.LangPrefix())

	cfg.OutputLang = "custom prefix text"
	assert.Equal(t, "custom prefix text", cfg.LangPrefix())
}
