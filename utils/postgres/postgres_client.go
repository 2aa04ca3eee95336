package postgres

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coderunner/execd/utils"
)

// Config holds the connection parameters for a PostgreSQL pool.
type Config struct {
	Host            string
	Port            int
	Database        string
	User            string
	Password        string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	SSLMode         string
}

// Client wraps a pgxpool.Pool with the flag/env configuration pattern
// shared by this codebase's other external-dependency clients.
type Client struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewClient parses config into a pgxpool config, opens a pool, and
// verifies connectivity with a bounded ping before returning.
func NewClient(ctx context.Context, config Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		config.User, config.Password, config.Host, config.Port, config.Database, config.SSLMode)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	poolConfig.MaxConns = config.MaxConns
	poolConfig.MinConns = config.MinConns
	poolConfig.MaxConnLifetime = config.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	logger.Info("connected to postgres", slog.String("host", config.Host), slog.String("database", config.Database))
	return &Client{pool: pool, logger: logger}, nil
}

// Close releases every connection in the pool.
func (c *Client) Close() {
	if c.pool != nil {
		c.pool.Close()
	}
}

// Pool returns the underlying pgxpool.Pool for query execution.
func (c *Client) Pool() *pgxpool.Pool {
	return c.pool
}

// Ping verifies the pool can still reach the server.
func (c *Client) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

// FlagPointers holds the flag.* pointers registered by RegisterFlags,
// resolved into a Config by ToConfig after flag.Parse.
type FlagPointers struct {
	host                *string
	port                *int
	user                *string
	password            *string
	database            *string
	maxConns            *int
	minConns            *int
	maxConnLifetimeMin  *int
	sslMode             *string
}

// RegisterFlags registers postgres connection flags, defaulted from
// EXECD_POSTGRES_* environment variables or an optional config file.
func RegisterFlags() *FlagPointers {
	return &FlagPointers{
		host:               flag.String("postgres-host", utils.GetEnv("EXECD_POSTGRES_HOST", "localhost"), "PostgreSQL host"),
		port:               flag.Int("postgres-port", utils.GetEnvInt("EXECD_POSTGRES_PORT", 5432), "PostgreSQL port"),
		user:               flag.String("postgres-user", utils.GetEnv("EXECD_POSTGRES_USER", "postgres"), "PostgreSQL user"),
		password:           flag.String("postgres-password", utils.GetEnv("EXECD_POSTGRES_PASSWORD", ""), "PostgreSQL password"),
		database:           flag.String("postgres-database", utils.GetEnv("EXECD_POSTGRES_DATABASE_NAME", "execd"), "PostgreSQL database name"),
		maxConns:           flag.Int("postgres-max-conns", utils.GetEnvInt("EXECD_POSTGRES_MAX_CONNS", 10), "maximum pool connections"),
		minConns:           flag.Int("postgres-min-conns", utils.GetEnvInt("EXECD_POSTGRES_MIN_CONNS", 1), "minimum pool connections"),
		maxConnLifetimeMin: flag.Int("postgres-max-conn-lifetime-min", utils.GetEnvInt("EXECD_POSTGRES_MAX_CONN_LIFETIME", 60), "maximum connection lifetime in minutes"),
		sslMode:            flag.String("postgres-ssl-mode", utils.GetEnv("EXECD_POSTGRES_SSL_MODE", "disable"), "PostgreSQL sslmode"),
	}
}

// ToConfig resolves the registered flags into a Config. Call after flag.Parse.
func (p *FlagPointers) ToConfig() Config {
	return Config{
		Host:            *p.host,
		Port:            *p.port,
		User:            *p.user,
		Password:        *p.password,
		Database:        *p.database,
		MaxConns:        int32(*p.maxConns),
		MinConns:        int32(*p.minConns),
		MaxConnLifetime: time.Duration(*p.maxConnLifetimeMin) * time.Minute,
		SSLMode:         *p.sslMode,
	}
}
