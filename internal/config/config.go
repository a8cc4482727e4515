package config

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Rewrite RewriteConfig
	Session SessionConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port     int
	MCPPort  int
	APIToken string
}

type StorageConfig struct {
	DataDir string
}

type RewriteConfig struct {
	// Backend selects the rewriter: "builtin" (deterministic tone pass) or
	// "ollama" (local model server).
	Backend string
	BaseURL string
	Model   string
}

type SessionConfig struct {
	// TTLMinutes is the sliding session lifetime.
	TTLMinutes int
	// Backend selects session persistence: "memory" or "sqlite".
	Backend string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:    4600,
			MCPPort: 4601,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Rewrite: RewriteConfig{
			Backend: "builtin",
			BaseURL: "http://localhost:11434",
			Model:   "phi3.5",
		},
		Session: SessionConfig{
			TTLMinutes: 30,
			Backend:    "sqlite",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/tendaro/config.json, then applies TENDARO_*
// environment overrides. The API token is env-only
// (TENDARO_SERVER_API_TOKEN); it is never written to the config file.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()
	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}
