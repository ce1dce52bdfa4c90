package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/Hamida-ai/BLEEP-V1/pkg/utils"
)

func loadConfig(t *testing.T, values map[string]string) (CockroachConfig, error) {
	t.Helper()
	cm, err := utils.NewConfigManager(&utils.ConfigManagerConfig{Source: utils.NewMapSource(values)})
	if err != nil {
		t.Fatal(err)
	}
	return LoadCockroachConfig(cm)
}

func TestLoadCockroachConfigRequiresDSN(t *testing.T) {
	if _, err := loadConfig(t, nil); !errors.Is(err, ErrDSNRequired) {
		t.Fatalf("got %v, want ErrDSNRequired", err)
	}
}

func TestLoadCockroachConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(t, map[string]string{
		"DB_DSN": "postgres://node@db:26257/bleep?sslmode=verify-full",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.TLSEnabled {
		t.Fatal("TLS must default to enabled")
	}
	if cfg.Environment != "production" {
		t.Fatalf("environment = %q, want production default", cfg.Environment)
	}
	if cfg.MaxOpenConns != 50 || cfg.MaxIdleConns != 10 || cfg.ConnTimeout != 5*time.Second {
		t.Fatalf("unexpected pool defaults: %+v", cfg)
	}
}

func TestValidateFailClosedTLS(t *testing.T) {
	base := CockroachConfig{
		DSN:        "postgres://node@db:26257/bleep?sslmode=verify-full",
		TLSEnabled: true,
	}

	cases := []struct {
		name string
		mut  func(*CockroachConfig)
		want error
	}{
		{"valid production", func(*CockroachConfig) {}, nil},
		{"tls disabled in production", func(c *CockroachConfig) { c.TLSEnabled = false }, ErrTLSRequired},
		{"dsn missing sslmode in production", func(c *CockroachConfig) {
			c.DSN = "postgres://node@db:26257/bleep"
		}, ErrTLSRequired},
		{"sslmode disable in production", func(c *CockroachConfig) {
			c.DSN = "postgres://node@db:26257/bleep?sslmode=disable"
		}, ErrTLSRequired},
		{"plaintext ok in development", func(c *CockroachConfig) {
			c.Environment = "development"
			c.TLSEnabled = false
			c.DSN = "postgres://node@localhost:26257/bleep"
		}, nil},
		{"bad scheme", func(c *CockroachConfig) { c.DSN = "mysql://db/bleep" }, ErrDSNInvalid},
		{"pool too large", func(c *CockroachConfig) { c.MaxOpenConns = 5000 }, ErrPoolInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base
			tc.mut(&cfg)
			cfg.applyDefaults()
			if err := cfg.validate(); !errors.Is(err, tc.want) {
				t.Fatalf("validate() = %v, want %v", err, tc.want)
			}
		})
	}
}
