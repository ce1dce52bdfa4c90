package utils

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Config errors
var (
	ErrConfigKeyMissing = errors.New("config: required key missing")
	ErrSecretMissing    = errors.New("config: required secret missing")
)

// ConfigSource abstracts where configuration values come from.
// The default source reads process environment variables.
type ConfigSource interface {
	Get(key string) (string, bool)
}

type envSource struct{}

func (envSource) Get(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	return v, ok
}

// MapSource is a static in-memory source, used in tests and for overrides
type MapSource struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMapSource(values map[string]string) *MapSource {
	if values == nil {
		values = make(map[string]string)
	}
	return &MapSource{values: values}
}

func (m *MapSource) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *MapSource) Set(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
}

// ConfigManagerConfig holds ConfigManager construction parameters
type ConfigManagerConfig struct {
	Source ConfigSource // nil means process environment
	Logger *Logger
}

// ConfigManager provides type-safe configuration access over a ConfigSource.
// Secrets are fetched through GetSecret and never logged.
type ConfigManager struct {
	source ConfigSource
	log    *Logger
}

// NewConfigManager creates a config manager
func NewConfigManager(cfg *ConfigManagerConfig) (*ConfigManager, error) {
	if cfg == nil {
		cfg = &ConfigManagerConfig{}
	}
	src := cfg.Source
	if src == nil {
		src = envSource{}
	}
	return &ConfigManager{source: src, log: cfg.Logger}, nil
}

func (c *ConfigManager) GetString(key, defaultValue string) string {
	if v, ok := c.source.Get(key); ok && v != "" {
		return v
	}
	return defaultValue
}

func (c *ConfigManager) GetStringRequired(key string) (string, error) {
	if v, ok := c.source.Get(key); ok && v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s", ErrConfigKeyMissing, key)
}

func (c *ConfigManager) GetInt(key string, defaultValue int) int {
	if v, ok := c.source.Get(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		c.warnParse(key, v, "int")
	}
	return defaultValue
}

func (c *ConfigManager) GetFloat64(key string, defaultValue float64) float64 {
	if v, ok := c.source.Get(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		c.warnParse(key, v, "float64")
	}
	return defaultValue
}

func (c *ConfigManager) GetBool(key string, defaultValue bool) bool {
	if v, ok := c.source.Get(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		c.warnParse(key, v, "bool")
	}
	return defaultValue
}

func (c *ConfigManager) GetDuration(key string, defaultValue time.Duration) time.Duration {
	if v, ok := c.source.Get(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		// bare integers are treated as seconds
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
		c.warnParse(key, v, "duration")
	}
	return defaultValue
}

func (c *ConfigManager) GetStringSlice(key string, defaultValue []string) []string {
	if v, ok := c.source.Get(key); ok && v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}

// GetIntRange returns an int clamped into [min, max]
func (c *ConfigManager) GetIntRange(key string, defaultValue, min, max int) int {
	v := c.GetInt(key, defaultValue)
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// GetSecret fetches a secret value. The value is never logged, only its presence.
func (c *ConfigManager) GetSecret(key string) (string, error) {
	if v, ok := c.source.Get(key); ok && v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s", ErrSecretMissing, key)
}

func (c *ConfigManager) warnParse(key, value, kind string) {
	if c.log != nil {
		c.log.Warn("config value parse failed, using default",
			ZapString("key", key),
			ZapString("kind", kind),
			ZapInt("value_len", len(value)))
	}
}
