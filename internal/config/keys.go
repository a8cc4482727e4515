package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "TENDARO_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp_port", typ: kInt, env: "TENDARO_SERVER_MCP_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPPort = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MCPPort },
	},
	{
		key: "server.api_token", typ: kString, env: "TENDARO_SERVER_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "storage.data_dir", typ: kString, env: "TENDARO_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "rewrite.backend", typ: kString, env: "TENDARO_REWRITE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Rewrite.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Rewrite.Backend },
	},
	{
		key: "rewrite.base_url", typ: kString, env: "TENDARO_REWRITE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Rewrite.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Rewrite.BaseURL },
	},
	{
		key: "rewrite.model", typ: kString, env: "TENDARO_REWRITE_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Rewrite.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Rewrite.Model },
	},
	{
		key: "session.ttl_minutes", typ: kInt, env: "TENDARO_SESSION_TTL_MINUTES",
		apply:   func(cfg *Config, v any) { cfg.Session.TTLMinutes = v.(int) },
		extract: func(cfg Config) any { return cfg.Session.TTLMinutes },
	},
	{
		key: "session.backend", typ: kString, env: "TENDARO_SESSION_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Session.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Session.Backend },
	},
	{
		key: "log.level", typ: kString, env: "TENDARO_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
