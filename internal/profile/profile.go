package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is configuration to start the main server.
//
// It is built once at process start (flags + environment) and passed by
// reference into every component that needs provider credentials or tunables.
// Nothing below reads the environment after FromEnv returns.
type Profile struct {
	// Conversational LLM configuration (OpenAI-compatible protocol).
	// The caller-supplied model identifier on each message overrides LLMModel.
	LLMProvider string // openai, groq, deepseek, openrouter, ollama, gemini
	LLMAPIKey   string
	LLMBaseURL  string // optional, has a default per provider
	LLMModel    string // default model when the request does not name one
	LLMTimeout  int    // request timeout in seconds (default: 120)

	// Title model configuration. A small/fast model used for the one-shot
	// conversation title call. Falls back to the LLM settings when unset.
	TitleProvider string
	TitleModel    string
	TitleAPIKey   string
	TitleBaseURL  string
	TitleTimeout  int // seconds (default: 10)

	// Streaming persistence tunables.
	StreamTimeout   int // max seconds for one generation job (default: 300)
	FlushIntervalMs int // min interval between content patches (default: 150)
	GenerationSlots int // max concurrent generation jobs (default: 8)

	// Server / storage configuration.
	Mode    string
	Addr    string
	Port    int
	Data    string
	Driver  string
	DSN     string
	Secret  string // JWT signing secret
	Version string
}

// Provider default configurations for the OpenAI-compatible endpoint.
// Used when the base URL is not explicitly set.
var llmProviderDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o-mini",
	},
	"groq": {
		BaseURL: "https://api.groq.com/openai/v1",
		Model:   "llama-3.1-8b-instant",
	},
	"gemini": {
		BaseURL: "https://generativelanguage.googleapis.com/v1beta/openai",
		Model:   "gemini-2.0-flash-lite",
	},
	"deepseek": {
		BaseURL: "https://api.deepseek.com",
		Model:   "deepseek-chat",
	},
	"openrouter": {
		BaseURL: "https://openrouter.ai/api/v1",
		Model:   "deepseek/deepseek-chat",
	},
	"ollama": {
		BaseURL: "http://localhost:11434",
		Model:   "llama3.1",
	},
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled returns true if an LLM API key is configured.
func (p *Profile) IsAIEnabled() bool {
	return p.LLMAPIKey != ""
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.LLMProvider = getEnvOrDefault("TYPEWRITER_LLM_PROVIDER", "groq")
	p.LLMAPIKey = getEnvOrDefault("TYPEWRITER_LLM_API_KEY", "")
	p.LLMBaseURL = getEnvOrDefault("TYPEWRITER_LLM_BASE_URL", "")
	p.LLMModel = getEnvOrDefault("TYPEWRITER_LLM_MODEL", "")
	p.LLMTimeout = getEnvOrDefaultInt("TYPEWRITER_LLM_TIMEOUT_SECONDS", 120)

	if _, ok := llmProviderDefaults[p.LLMProvider]; !ok {
		slog.Warn("Unknown LLM provider, using default: groq", "provider", p.LLMProvider)
		p.LLMProvider = "groq"
	}
	if defaults, ok := llmProviderDefaults[p.LLMProvider]; ok {
		if p.LLMBaseURL == "" {
			p.LLMBaseURL = defaults.BaseURL
		}
		if p.LLMModel == "" {
			p.LLMModel = defaults.Model
		}
	}

	// Title model: defaults to a fast Gemini flash model, falling back to the
	// conversational provider credentials when no dedicated key is configured.
	p.TitleProvider = getEnvOrDefault("TYPEWRITER_TITLE_PROVIDER", "gemini")
	p.TitleModel = getEnvOrDefault("TYPEWRITER_TITLE_MODEL", "")
	p.TitleAPIKey = getEnvOrDefault("TYPEWRITER_TITLE_API_KEY", "")
	p.TitleBaseURL = getEnvOrDefault("TYPEWRITER_TITLE_BASE_URL", "")
	p.TitleTimeout = getEnvOrDefaultInt("TYPEWRITER_TITLE_TIMEOUT_SECONDS", 10)
	if p.TitleAPIKey == "" {
		p.TitleProvider = p.LLMProvider
		p.TitleAPIKey = p.LLMAPIKey
		p.TitleBaseURL = p.LLMBaseURL
	}
	if defaults, ok := llmProviderDefaults[p.TitleProvider]; ok {
		if p.TitleBaseURL == "" {
			p.TitleBaseURL = defaults.BaseURL
		}
		if p.TitleModel == "" {
			p.TitleModel = defaults.Model
		}
	}

	p.StreamTimeout = getEnvOrDefaultInt("TYPEWRITER_STREAM_TIMEOUT_SECONDS", 300)
	p.FlushIntervalMs = getEnvOrDefaultInt("TYPEWRITER_FLUSH_INTERVAL_MS", 150)
	p.GenerationSlots = getEnvOrDefaultInt("TYPEWRITER_GENERATION_SLOTS", 8)

	p.Secret = getEnvOrDefault("TYPEWRITER_SECRET", p.Secret)
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Driver != "sqlite" && p.Driver != "postgres" {
		return errors.Errorf("unsupported database driver %q", p.Driver)
	}

	if p.Mode == "prod" && p.Data == "" {
		p.Data = "/var/opt/typewriter"
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data dir", slog.String("data", p.Data), slog.String("error", err.Error()))
		return err
	}
	p.Data = dataDir

	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("typewriter_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}
	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("postgres driver requires an explicit DSN")
	}

	if p.Secret == "" {
		if p.Mode == "prod" {
			return errors.New("TYPEWRITER_SECRET must be set in prod mode")
		}
		p.Secret = "typewriter-dev-secret"
	}

	return nil
}
