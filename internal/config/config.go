package config

import (
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendOllama = "ollama"
	BackendGrok   = "grok"
	BackendOpenAI = "openai"
)

// Config holds application configuration
type Config struct {
	DBPath string
	LogDir string
	Debug  bool

	Mentor MentorConfig
	Live   LiveConfig
	Relay  RelayConfig
}

// MentorConfig configures the client side of the mentor chat
type MentorConfig struct {
	URL         string        // Streaming chat endpoint
	APIKey      string        // Bearer token sent to the endpoint
	TurnTimeout time.Duration // Upper bound for a whole send
	IdleTimeout time.Duration // Upper bound between two reads of the stream
	SessionTTL  time.Duration // How long an idle snippet session stays cached
}

// LiveConfig configures the websocket server of the console binary
type LiveConfig struct {
	ListenAddr string
}

// RelayConfig configures mentord, the server side of the mentor chat
type RelayConfig struct {
	Addr          string
	APIKey        string // Bearer token clients must present
	Backend       string // ollama|grok|openai
	Model         string
	UpstreamURL   string // Overrides the backend's default base URL
	UpstreamKey   string
	KeepAlive     time.Duration
	MaxTokens     int
	UpstreamLimit time.Duration
}

// Load reads .env (if present) and the environment, falling back to defaults.
// Flags parsed by the binaries override the result.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using system environment")
	}

	backend := getEnv("MENTORD_BACKEND", BackendOpenAI)
	return Config{
		DBPath: getEnv("VAULT_DB_PATH", "snippetvault.db"),
		LogDir: getEnv("VAULT_LOG_DIR", "logs"),
		Debug:  getEnvAsBool("VAULT_DEBUG", false),
		Mentor: MentorConfig{
			URL:         getEnv("MENTOR_URL", "http://localhost:8787/functions/v1/vault-mentor"),
			APIKey:      getEnv("MENTOR_API_KEY", ""),
			TurnTimeout: getEnvAsDuration("MENTOR_TURN_TIMEOUT", 5*time.Minute),
			IdleTimeout: getEnvAsDuration("MENTOR_IDLE_TIMEOUT", 60*time.Second),
			SessionTTL:  getEnvAsDuration("SESSION_TTL", 30*time.Minute),
		},
		Live: LiveConfig{
			ListenAddr: getEnv("VAULT_LISTEN_ADDR", ""),
		},
		Relay: RelayConfig{
			Addr:          getEnv("MENTORD_ADDR", ":8787"),
			APIKey:        getEnv("MENTORD_API_KEY", ""),
			Backend:       backend,
			Model:         getEnv("MENTORD_MODEL", DefaultModel(backend)),
			UpstreamURL:   getEnv("MENTORD_UPSTREAM_URL", ""),
			UpstreamKey:   UpstreamKey(backend),
			KeepAlive:     getEnvAsDuration("MENTORD_KEEPALIVE", 15*time.Second),
			MaxTokens:     getEnvAsInt("MENTORD_MAX_TOKENS", 1024),
			UpstreamLimit: getEnvAsDuration("MENTORD_UPSTREAM_TIMEOUT", 5*time.Minute),
		},
	}
}

// ValidBackend reports whether name is a known upstream backend
func ValidBackend(name string) bool {
	switch name {
	case BackendOllama, BackendGrok, BackendOpenAI:
		return true
	}
	return false
}

// DefaultModel returns the model used when none is configured
func DefaultModel(backend string) string {
	switch backend {
	case BackendOllama:
		return "llama3:latest"
	case BackendGrok:
		return "grok-1"
	default:
		return "gpt-4o-mini"
	}
}

// UpstreamKey returns the API key configured for a backend
func UpstreamKey(backend string) string {
	return getEnv(upstreamKeyEnv(backend), "")
}

func upstreamKeyEnv(backend string) string {
	switch backend {
	case BackendGrok:
		return "GROK_API_KEY"
	case BackendOllama:
		return "OLLAMA_API_KEY"
	default:
		return "OPENAI_API_KEY"
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, err := time.ParseDuration(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}
