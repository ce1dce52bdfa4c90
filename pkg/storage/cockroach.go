package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	"github.com/lib/pq"

	"github.com/Hamida-ai/BLEEP-V1/pkg/consensus/types"
	"github.com/Hamida-ai/BLEEP-V1/pkg/utils"
)

var (
	ErrDSNRequired      = errors.New("storage: DB_DSN is required")
	ErrDSNInvalid       = errors.New("storage: DB_DSN is invalid")
	ErrTLSRequired      = errors.New("storage: TLS is required in production environments")
	ErrConnectionFailed = errors.New("storage: failed to establish connection")
	ErrPoolInvalid      = errors.New("storage: connection pool configuration invalid")
)

// CockroachConfig holds connection parameters for the durable checkpoint
// store. The DSN is sensitive and is never logged.
type CockroachConfig struct {
	DSN         string
	ConnTimeout time.Duration
	TLSEnabled  bool

	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration

	Environment string // "production", "development", "test"
}

// LoadCockroachConfig reads connection settings from the config manager
func LoadCockroachConfig(cm types.ConfigManager) (CockroachConfig, error) {
	dsn, err := cm.GetSecret("DB_DSN")
	if err != nil {
		return CockroachConfig{}, ErrDSNRequired
	}
	return CockroachConfig{
		DSN:          dsn,
		ConnTimeout:  cm.GetDuration("DB_CONN_TIMEOUT", 5*time.Second),
		TLSEnabled:   cm.GetBool("DB_TLS", true),
		MaxOpenConns: cm.GetInt("DB_MAX_OPEN", 50),
		MaxIdleConns: cm.GetInt("DB_MAX_IDLE", 10),
		MaxLifetime:  cm.GetDuration("DB_MAX_LIFETIME", 30*time.Minute),
		Environment:  strings.ToLower(cm.GetString("ENVIRONMENT", "production")),
	}, nil
}

func (c *CockroachConfig) applyDefaults() {
	if c.ConnTimeout == 0 {
		c.ConnTimeout = 5 * time.Second
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 50
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 10
	}
	if c.MaxLifetime == 0 {
		c.MaxLifetime = 30 * time.Minute
	}
	if c.Environment == "" {
		c.Environment = "production"
	}
}

func (c *CockroachConfig) validate() error {
	if strings.TrimSpace(c.DSN) == "" {
		return ErrDSNRequired
	}
	if !strings.HasPrefix(c.DSN, "postgres://") && !strings.HasPrefix(c.DSN, "postgresql://") {
		return fmt.Errorf("%w: must start with postgres:// or postgresql://", ErrDSNInvalid)
	}
	if c.MaxOpenConns < 1 || c.MaxOpenConns > 1000 {
		return fmt.Errorf("%w: max_open_conns must be between 1 and 1000", ErrPoolInvalid)
	}
	if c.MaxIdleConns < 0 || c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("%w: max_idle_conns must be between 0 and max_open_conns", ErrPoolInvalid)
	}
	if c.ConnTimeout < time.Second || c.ConnTimeout > time.Minute {
		return fmt.Errorf("%w: conn_timeout must be between 1s and 1m", ErrPoolInvalid)
	}
	// fail closed outside development and test
	if c.Environment != "development" && c.Environment != "test" {
		if !c.TLSEnabled {
			return fmt.Errorf("%w: environment=%s", ErrTLSRequired, c.Environment)
		}
		if !strings.Contains(c.DSN, "sslmode=") || strings.Contains(c.DSN, "sslmode=disable") {
			return fmt.Errorf("%w: DSN must require sslmode in %s", ErrTLSRequired, c.Environment)
		}
	}
	return nil
}

// CockroachStore persists checkpoint keys in a single kv table:
//
//	CREATE TABLE IF NOT EXISTS node_kv (
//	    key        STRING PRIMARY KEY,
//	    value      BYTES NOT NULL,
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//
// Same-key write ordering is handled by the database; the store itself
// holds no state beyond the pool.
type CockroachStore struct {
	db    *sql.DB
	log   *utils.Logger
	audit types.AuditLogger
}

// NewCockroachStore opens the connection pool, verifies liveness, and
// ensures the kv table exists.
func NewCockroachStore(ctx context.Context, cfg CockroachConfig, log *utils.Logger, audit types.AuditLogger) (*CockroachStore, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		if audit != nil {
			_ = audit.Security("db_connection_rejected", map[string]interface{}{
				"error":       err.Error(),
				"environment": cfg.Environment,
			})
		}
		return nil, err
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database", ErrConnectionFailed)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MaxLifetime)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		// never wrap the driver error here, it can embed the DSN
		return nil, fmt.Errorf("%w: failed to ping database", ErrConnectionFailed)
	}

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS node_kv (
			key        STRING PRIMARY KEY,
			value      BYTES NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: schema init: %w", err)
	}

	if audit != nil {
		_ = audit.Info("db_connection_established", map[string]interface{}{
			"environment":    cfg.Environment,
			"tls_enabled":    cfg.TLSEnabled,
			"max_open_conns": cfg.MaxOpenConns,
		})
	}
	if log != nil {
		log.InfoContext(ctx, "CockroachDB checkpoint store ready",
			utils.ZapString("environment", cfg.Environment),
			utils.ZapBool("tls_enabled", cfg.TLSEnabled),
			utils.ZapInt("max_open", cfg.MaxOpenConns))
	}

	return &CockroachStore{db: db, log: log, audit: audit}, nil
}

func (s *CockroachStore) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		UPSERT INTO node_kv (key, value, updated_at) VALUES ($1, $2, now())`,
		key, value)
	if err != nil {
		return fmt.Errorf("storage: put %q: %w", key, err)
	}
	return nil
}

func (s *CockroachStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT value FROM node_kv WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("storage: get %q: %w", key, err)
	}
	return value, true, nil
}

// PutIfAbsent inserts the key only if it does not exist. Used for
// insert-only records like epoch snapshots; returns false when the key was
// already written by this node or another.
func (s *CockroachStore) PutIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO node_kv (key, value) VALUES ($1, $2)`, key, value)
	if isUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: put-if-absent %q: %w", key, err)
	}
	return true, nil
}

// Ping checks database liveness
func (s *CockroachStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *CockroachStore) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
