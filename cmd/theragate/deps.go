package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/TheraGate/internal/adapter/postgres"
	"github.com/Strob0t/TheraGate/internal/config"
	"github.com/Strob0t/TheraGate/internal/port/keystore"
	"github.com/Strob0t/TheraGate/internal/secrets"
)

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigFile
	}
	cfg, err := config.LoadFrom(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// newVault loads every key-material variable so the audit redactor can scrub
// them from entry details.
func newVault() (*secrets.Vault, error) {
	vault, err := secrets.NewVault(secrets.PrefixEnvLoader(secrets.EnvKeyPrefix,
		"THERAGATE_ADMIN_TOKEN", "THERAGATE_BILLING_API_KEY", "THERAGATE_MASTER_KEY", "THERAGATE_SMTP_PASSWORD"))
	if err != nil {
		return nil, fmt.Errorf("secrets vault: %w", err)
	}
	return vault, nil
}

// openKeyStore builds the configured key store backend. pool may be nil for
// the file and env backends.
func openKeyStore(cfg *config.Config, pool *pgxpool.Pool, vault *secrets.Vault) (keystore.Store, *secrets.Sealer, error) {
	var sealer *secrets.Sealer
	if cfg.Keystore.MasterKey != "" {
		s, err := secrets.NewSealer(cfg.Keystore.MasterKey)
		if err != nil {
			return nil, nil, fmt.Errorf("keystore sealer: %w", err)
		}
		sealer = s
	}

	switch cfg.Keystore.Backend {
	case "postgres":
		if pool == nil {
			return nil, nil, fmt.Errorf("keystore: postgres backend needs a database connection")
		}
		if sealer == nil {
			return nil, nil, fmt.Errorf("keystore: postgres backend: %w", secrets.ErrNoMasterKey)
		}
		return postgres.NewStore(pool, sealer), sealer, nil
	case "file":
		if sealer == nil {
			return nil, nil, fmt.Errorf("keystore: file backend: %w", secrets.ErrNoMasterKey)
		}
		return secrets.NewFileStore(cfg.Keystore.FilePath, sealer), sealer, nil
	case "env":
		return secrets.NewEnvStore(vault), sealer, nil
	default:
		return nil, nil, fmt.Errorf("keystore: unknown backend %q", cfg.Keystore.Backend)
	}
}

// openDatabase connects to PostgreSQL and applies pending migrations.
func openDatabase(ctx context.Context, cfg config.Postgres) (*pgxpool.Pool, error) {
	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.DSN); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")
	return pool, nil
}
