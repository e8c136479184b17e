package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileDefaults(t *testing.T) {
	clearEnvVars(t)

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, "groq", p.LLMProvider)
	assert.Equal(t, "https://api.groq.com/openai/v1", p.LLMBaseURL)
	assert.Equal(t, "llama-3.1-8b-instant", p.LLMModel)
	assert.Equal(t, 120, p.LLMTimeout)
	assert.False(t, p.IsAIEnabled())

	// Without a dedicated title key the title model shares LLM credentials.
	assert.Equal(t, "groq", p.TitleProvider)
	assert.Equal(t, "llama-3.1-8b-instant", p.TitleModel)
	assert.Equal(t, 10, p.TitleTimeout)

	assert.Equal(t, 300, p.StreamTimeout)
	assert.Equal(t, 150, p.FlushIntervalMs)
	assert.Equal(t, 8, p.GenerationSlots)
}

func TestProfileFromEnv(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("TYPEWRITER_LLM_PROVIDER", "openai")
	t.Setenv("TYPEWRITER_LLM_API_KEY", "sk-test")
	t.Setenv("TYPEWRITER_TITLE_PROVIDER", "gemini")
	t.Setenv("TYPEWRITER_TITLE_API_KEY", "g-test")
	t.Setenv("TYPEWRITER_FLUSH_INTERVAL_MS", "50")

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, "openai", p.LLMProvider)
	assert.Equal(t, "https://api.openai.com/v1", p.LLMBaseURL)
	assert.True(t, p.IsAIEnabled())
	assert.Equal(t, "gemini", p.TitleProvider)
	assert.Equal(t, "https://generativelanguage.googleapis.com/v1beta/openai", p.TitleBaseURL)
	assert.Equal(t, "gemini-2.0-flash-lite", p.TitleModel)
	assert.Equal(t, 50, p.FlushIntervalMs)
}

func TestProfileUnknownProviderFallsBack(t *testing.T) {
	clearEnvVars(t)
	t.Setenv("TYPEWRITER_LLM_PROVIDER", "nonsense")

	p := &Profile{}
	p.FromEnv()

	assert.Equal(t, "groq", p.LLMProvider)
}

func TestProfileValidate(t *testing.T) {
	dir := t.TempDir()

	p := &Profile{Mode: "dev", Driver: "sqlite", Data: dir}
	require.NoError(t, p.Validate())
	assert.Contains(t, p.DSN, "typewriter_dev.db")
	assert.NotEmpty(t, p.Secret)

	p = &Profile{Mode: "dev", Driver: "postgres", Data: dir}
	assert.Error(t, p.Validate(), "postgres needs an explicit DSN")

	p = &Profile{Mode: "dev", Driver: "bolt", Data: dir}
	assert.Error(t, p.Validate())

	p = &Profile{Mode: "prod", Driver: "sqlite", Data: dir, Secret: ""}
	assert.Error(t, p.Validate(), "prod requires a secret")
}

func clearEnvVars(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"TYPEWRITER_LLM_PROVIDER", "TYPEWRITER_LLM_API_KEY", "TYPEWRITER_LLM_BASE_URL",
		"TYPEWRITER_LLM_MODEL", "TYPEWRITER_LLM_TIMEOUT_SECONDS",
		"TYPEWRITER_TITLE_PROVIDER", "TYPEWRITER_TITLE_MODEL", "TYPEWRITER_TITLE_API_KEY",
		"TYPEWRITER_TITLE_BASE_URL", "TYPEWRITER_TITLE_TIMEOUT_SECONDS",
		"TYPEWRITER_STREAM_TIMEOUT_SECONDS", "TYPEWRITER_FLUSH_INTERVAL_MS",
		"TYPEWRITER_GENERATION_SLOTS", "TYPEWRITER_SECRET",
	} {
		t.Setenv(key, "")
	}
}
