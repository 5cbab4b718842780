package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// DefaultFile is read from the working directory when no --config is given
const DefaultFile = "knowledge-map.toml"

// EnvPrefix prefixes every environment override. Nested keys use a double
// underscore: KNOWLEDGE_MAP_LLM__API_KEY sets llm.api_key.
const EnvPrefix = "KNOWLEDGE_MAP_"

// LLMConfig selects the answer model
type LLMConfig struct {
	APIKey  string `koanf:"api_key"`
	Model   string `koanf:"model"`
	BaseURL string `koanf:"base_url"`
}

// ChatConfig tunes the chat client
type ChatConfig struct {
	Timeout time.Duration `koanf:"timeout"`
}

// Config holds all configuration for the application
type Config struct {
	Port           int        `koanf:"port" validate:"min=1,max=65535"`
	APIBase        string     `koanf:"api_base"`
	StaticDir      string     `koanf:"static_dir"`
	Seed           string     `koanf:"seed"`
	Watch          bool       `koanf:"watch"`
	OpenBrowser    bool       `koanf:"open"`
	Verbosity      string     `koanf:"verbosity" validate:"omitempty,oneof=trace debug info warn warning error"`
	VerboseCnt     int        `koanf:"verbose"`
	JSONLogs       bool       `koanf:"json_logs"`
	DataDir        string     `koanf:"data_dir"`
	Backend        bool       `koanf:"backend"`
	AllowedOrigins []string   `koanf:"allowed_origins"`
	LLM            LLMConfig  `koanf:"llm"`
	Chat           ChatConfig `koanf:"chat"`
}

// ChatBaseURL is where the session sends chat messages: api_base when set,
// otherwise this process's own backend
func (c *Config) ChatBaseURL() string {
	if c.APIBase != "" {
		return c.APIBase
	}
	return fmt.Sprintf("http://localhost:%d", c.Port)
}

// flagKeys maps dashed flag names to config keys; other flags map to themselves
var flagKeys = map[string]string{
	"api-base":        "api_base",
	"static-dir":      "static_dir",
	"json-logs":       "json_logs",
	"data-dir":        "data_dir",
	"allowed-origins": "allowed_origins",
	"llm-model":       "llm.model",
	"llm-base-url":    "llm.base_url",
	"chat-timeout":    "chat.timeout",
}

var validate = validator.New()

// Load loads configuration from defaults, config file, environment variables, and flags.
// Priority: Flags > Env > Config File > Defaults
func Load(f *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	defaults := map[string]interface{}{
		"port":            8000,
		"api_base":        "",
		"static_dir":      "",
		"seed":            "",
		"watch":           false,
		"open":            false,
		"verbosity":       "",
		"verbose":         0,
		"json_logs":       false,
		"data_dir":        "",
		"backend":         true,
		"allowed_origins": []string{"http://localhost:5173"},
		"llm": map[string]interface{}{
			"api_key":  "",
			"model":    "",
			"base_url": "",
		},
		"chat": map[string]interface{}{
			"timeout": "0s",
		},
	}
	if err := k.Load(makeMapProvider(defaults), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file (optional unless named explicitly)
	path, explicit := DefaultFile, false
	if f != nil {
		if fl := f.Lookup("config"); fl != nil && fl.Value.String() != "" {
			path, explicit = fl.Value.String(), fl.Changed
		}
	}
	if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// 3. Environment Variables
	// Prefix: KNOWLEDGE_MAP_ (e.g., KNOWLEDGE_MAP_PORT=9090)
	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", func(s, v string) (string, interface{}) {
		key := strings.ReplaceAll(strings.ToLower(
			strings.TrimPrefix(s, EnvPrefix)), "__", ".")
		if key == "allowed_origins" {
			return key, strings.Split(v, ",")
		}
		return key, v
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags
	if f != nil {
		if err := k.Load(posflag.ProviderWithFlag(f, ".", k, func(fl *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[fl.Name]
			if !ok {
				key = fl.Name
			}
			return key, posflag.FlagVal(f, fl)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// Unmarshal into struct
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Helper to use map as a provider
type mapProvider struct {
	m map[string]interface{}
}

func makeMapProvider(m map[string]interface{}) *mapProvider {
	return &mapProvider{m: m}
}

func (p *mapProvider) Read() (map[string]interface{}, error) {
	return p.m, nil
}

func (p *mapProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("not implemented")
}
