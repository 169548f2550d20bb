package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Server    ServerConfig
	LLM       LLMConfig
	Ollama    OllamaConfig
	TMDB      TMDBConfig
	Storage   StorageConfig
	Retrieval RetrievalConfig
	Agent     AgentConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
}

type LLMConfig struct {
	OpenRouterAPIKey string
	Model            string
}

type OllamaConfig struct {
	BaseURL    string
	EmbedModel string
}

type TMDBConfig struct {
	APIKey string
}

type StorageConfig struct {
	DataDir string
}

type RetrievalConfig struct {
	TopK          int
	MinSimilarity float64
}

type AgentConfig struct {
	MaxToolRounds  int
	DefaultPersona string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port: 4400,
		},
		LLM: LLMConfig{
			Model: "openai/gpt-4o-mini",
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			EmbedModel: "nomic-embed-text",
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Retrieval: RetrievalConfig{
			TopK:          4,
			MinSimilarity: 0.35,
		},
		Agent: AgentConfig{
			MaxToolRounds:  4,
			DefaultPersona: "casual",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.kino.app) and secrets
// fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/kino/config.json
// and secrets come from $XDG_DATA_HOME/kino/secrets.json or environment
// variables.
//
// Environment variables (KINO_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainReader{})
}

// keychain abstracts secret store access for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Try the platform secret store for keys still empty.
	if cfg.LLM.OpenRouterAPIKey == "" {
		if key, err := kc.Get("kino", "openrouter_api_key"); err == nil && key != "" {
			cfg.LLM.OpenRouterAPIKey = key
		}
	}
	if cfg.TMDB.APIKey == "" {
		if key, err := kc.Get("kino", "tmdb_api_key"); err == nil && key != "" {
			cfg.TMDB.APIKey = key
		}
	}

	if cfg.LLM.OpenRouterAPIKey == "" {
		msg := "missing required config: OpenRouter API key. " +
			"Set it via environment variable KINO_OPENROUTER_API_KEY" +
			apiKeyHint()
		return Config{}, fmt.Errorf("%s", msg)
	}
	if cfg.TMDB.APIKey == "" {
		msg := "missing required config: TMDB API key. " +
			"Set it via environment variable KINO_TMDB_API_KEY" +
			apiKeyHint()
		return Config{}, fmt.Errorf("%s", msg)
	}

	return cfg, nil
}

// keychainReader reads from the platform secret store.
type keychainReader struct{}

func (keychainReader) Get(service, account string) (string, error) {
	out, err := keychainExec(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}
