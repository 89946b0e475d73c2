package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/fyrsmithlabs/formextract/internal/logging"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB
	levelKey          = "logging.level"
)

// sections are the top-level keys an environment variable may target.
var sections = map[string]bool{
	"server":    true,
	"logging":   true,
	"telemetry": true,
	"cache":     true,
	"pipeline":  true,
	"backends":  true,
}

// subsections are nested keys that are themselves split out of an
// environment variable name: BACKENDS_OPENAI_API_KEY -> backends.openai.api_key.
var subsections = map[string]map[string]bool{
	"backends": {"openai": true, "ollama": true, "anthropic": true, "retry": true, "breaker": true},
	"logging":  {"output": true, "sampling": true, "redaction": true},
}

// legacyEnv maps the variable names of the original deployment to keys.
// They are loaded before the canonical names, which win on conflict.
var legacyEnv = map[string]string{
	"AI_PROVIDER_PRIORITY": "backends.priority",
	"OPENAI_API_KEY":       "backends.openai.api_key",
	"OPENAI_MODEL":         "backends.openai.model",
	"OPENAI_TEMPERATURE":   "backends.openai.temperature",
	"OPENAI_MAX_TOKENS":    "backends.openai.max_tokens",
	"ANTHROPIC_API_KEY":    "backends.anthropic.api_key",
	"OLLAMA_URL":           "backends.ollama.base_url",
	"OLLAMA_MODEL":         "backends.ollama.model",
	"OLLAMA_TIMEOUT":       "backends.ollama.timeout",
	"OLLAMA_TEMPERATURE":   "backends.ollama.temperature",
	"OLLAMA_MAX_TOKENS":    "backends.ollama.max_tokens",
	"MAX_INPUT_LENGTH":     "pipeline.max_input_length",
	"LOG_LEVEL":            "logging.level",
	"HOST":                 "server.host",
	"PORT":                 "server.http_port",
}

// Load reads the default config file, if any, then the environment.
func Load() (*Config, error) {
	return LoadWithFile("")
}

// LoadWithFile loads configuration from a YAML file, then overrides it with
// environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (CACHE_MAX_PATTERNS, BACKENDS_OPENAI_API_KEY, etc.)
//  2. Legacy environment variables (OPENAI_API_KEY, AI_PROVIDER_PRIORITY, etc.)
//  3. YAML config file (~/.config/formextract/config.yaml)
//  4. Built-in defaults
//
// # Security Considerations
//
// The file must have 0600 or 0400 permissions, be at most 1MB, and live in
// ~/.config/formextract/ or /etc/formextract/. A missing file is not an
// error.
//
// # Environment Variable Mapping
//
// The first underscore separates the section, and known subsections are
// split out next:
//
//	SERVER_HTTP_PORT            -> server.http_port
//	CACHE_MAX_PATTERNS          -> cache.max_patterns
//	BACKENDS_OPENAI_API_KEY     -> backends.openai.api_key
//	BACKENDS_PRIORITY=regex,openai (comma separated lists)
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		dir, err := configDir()
		if err != nil {
			return nil, err
		}
		configPath = filepath.Join(dir, "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}
	if _, err := os.Stat(configPath); err == nil {
		// Validate through the open descriptor to avoid a TOCTOU race.
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", legacyKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load legacy environment variables: %w", err)
	}
	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := NewDefaultConfig()

	// zapcore cannot parse the custom trace level, so the level is
	// decoded separately.
	if k.Exists(levelKey) {
		lvl, err := logging.LevelFromString(k.String(levelKey))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", levelKey, err)
		}
		cfg.Logging.Level = lvl
		k.Delete(levelKey)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// envKey maps an environment variable to a config key, or "" to ignore it.
func envKey(s string) string {
	lower := strings.ToLower(s)
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) != 2 || !sections[parts[0]] || parts[1] == "" {
		return ""
	}
	section, rest := parts[0], parts[1]

	if subs, ok := subsections[section]; ok {
		if sub := strings.SplitN(rest, "_", 2); len(sub) == 2 && subs[sub[0]] {
			return section + "." + sub[0] + "." + sub[1]
		}
	}
	return section + "." + rest
}

// legacyKey maps the original deployment's variables. OLLAMA_TIMEOUT was
// given in whole seconds.
func legacyKey(name, value string) (string, interface{}) {
	key, ok := legacyEnv[name]
	if !ok {
		return "", nil
	}
	return key, value
}

// EnsureConfigDir creates the config directory with 0700 permissions.
func EnsureConfigDir() error {
	dir, err := configDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	return nil
}

func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "formextract"), nil
}

// validateConfigPath checks that path is in an allowed directory. It runs
// even when the file does not exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}
	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolvedPath = absPath
	}

	dir, err := configDir()
	if err != nil {
		return err
	}
	for _, allowed := range []string{dir, "/etc/formextract"} {
		if resolvedPath == allowed || strings.HasPrefix(resolvedPath, allowed+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/formextract/ or /etc/formextract/")
}

// validateConfigFileProperties checks permissions and size on an open file.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
