package config

import (
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Log     LogConfig
	Chat    ChatConfig
	Ingest  IngestConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type ChatConfig struct {
	ResponseDelay time.Duration
	HistoryTurns  int
	RateLimit     float64
	RateBurst     int
}

type IngestConfig struct {
	PollInterval time.Duration
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           8000,
			AllowedOrigins: []string{"http://localhost:3000"},
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Chat: ChatConfig{
			ResponseDelay: 0,
			HistoryTurns:  6,
			RateLimit:     5,
			RateBurst:     10,
		},
		Ingest: IngestConfig{
			PollInterval: 500 * time.Millisecond,
		},
	}
}

// Load reads configuration from the platform-native backend and environment
// variables.
//
// On macOS the backend is UserDefaults (domain: com.kgchat.app).
// On Linux the backend is a TOML file at $XDG_CONFIG_HOME/kgchat/config.toml.
//
// A .env file in the working directory is loaded first; environment
// variables (KGCHAT_*) then override backend values on all platforms.
func Load() (Config, error) {
	_ = godotenv.Load()
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// loadFromPath loads config with a TOML file backend at path.
func loadFromPath(path string) (Config, error) {
	return loadWith(newFileBackend(path))
}
