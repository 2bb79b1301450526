package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "MACROBOX_"

const (
	StorageSQLite = "sqlite"
	StorageRedis  = "redis"

	WidgetTerminal = "terminal"
	WidgetSandbox  = "sandbox"
)

type Config struct {
	API struct {
		BaseURL string        `koanf:"base_url"`
		Timeout time.Duration `koanf:"timeout"`
	} `koanf:"api"`

	Storage struct {
		Backend string `koanf:"backend"`
	} `koanf:"storage"`

	Redis struct {
		Addr      string `koanf:"addr"`
		Password  string `koanf:"password"`
		DB        int    `koanf:"db"`
		Namespace string `koanf:"namespace"`
	} `koanf:"redis"`

	Checkout struct {
		Currency       string        `koanf:"currency"`
		PaymentTimeout time.Duration `koanf:"payment_timeout"`
		StoreName      string        `koanf:"store_name"`
	} `koanf:"checkout"`

	Payment struct {
		Widget        string `koanf:"widget"`
		SandboxSecret string `koanf:"sandbox_secret"`
	} `koanf:"payment"`

	Log struct {
		Level string `koanf:"level"`
		File  string `koanf:"file"`
	} `koanf:"log"`
}

func defaults() map[string]any {
	return map[string]any{
		"api.base_url":             "http://localhost:5000/api",
		"api.timeout":              "12s",
		"storage.backend":          StorageSQLite,
		"redis.addr":               "localhost:6379",
		"redis.db":                 0,
		"redis.namespace":          "macrobox",
		"checkout.currency":        "INR",
		"checkout.payment_timeout": "0s",
		"checkout.store_name":      "MacroBox",
		"payment.widget":           WidgetTerminal,
		"log.level":                "info",
	}
}

// Load layers configuration: defaults, the optional YAML file, persisted
// overrides (app_config rows), then MACROBOX_ environment variables.
// Nested keys use "__" in env names, e.g. MACROBOX_API__BASE_URL.
func Load(path string, overrides map[string]string) (Config, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return Config{}, fmt.Errorf("load config file %s: %w", path, err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("stat config file %s: %w", path, err)
		}
	}

	if len(overrides) > 0 {
		m := make(map[string]any, len(overrides))
		for key, value := range overrides {
			m[key] = value
		}
		if err := k.Load(confmap.Provider(m, "."), nil); err != nil {
			return Config{}, fmt.Errorf("load stored overrides: %w", err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, envPrefix)
		s = strings.ReplaceAll(s, "__", ".")
		return strings.ToLower(s)
	}), nil); err != nil {
		return Config{}, fmt.Errorf("env overlay: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.API.BaseURL) == "" {
		return fmt.Errorf("api.base_url required")
	}
	switch c.Storage.Backend {
	case StorageSQLite:
	case StorageRedis:
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return fmt.Errorf("redis.addr required when storage.backend=redis")
		}
	default:
		return fmt.Errorf("unsupported storage.backend %q", c.Storage.Backend)
	}
	switch c.Payment.Widget {
	case WidgetTerminal, WidgetSandbox:
	default:
		return fmt.Errorf("unsupported payment.widget %q", c.Payment.Widget)
	}
	if c.Checkout.PaymentTimeout < 0 {
		return fmt.Errorf("checkout.payment_timeout must be >= 0")
	}
	if strings.TrimSpace(c.Checkout.Currency) == "" {
		return fmt.Errorf("checkout.currency required")
	}
	return nil
}

// Keys lists the settable configuration keys.
func Keys() []string {
	keys := make([]string, 0, len(defaults())+3)
	for k := range defaults() {
		keys = append(keys, k)
	}
	keys = append(keys, "redis.password", "payment.sandbox_secret", "log.file")
	return keys
}

func IsKnownKey(key string) bool {
	key = strings.TrimSpace(strings.ToLower(key))
	for _, k := range Keys() {
		if k == key {
			return true
		}
	}
	return false
}
