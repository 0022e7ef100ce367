package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Strob0t/TheraGate/internal/adapter/postgres"
	"github.com/Strob0t/TheraGate/internal/adapter/ristretto"
	"github.com/Strob0t/TheraGate/internal/domain/keys"
	"github.com/Strob0t/TheraGate/internal/logger"
	"github.com/Strob0t/TheraGate/internal/port/database"
	"github.com/Strob0t/TheraGate/internal/service"
)

func keysCmd() *cobra.Command {
	var purpose, env string
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage key material in the configured key store",
		Long: `Manage key material in the configured key store.

Secrets are never printed; only their fingerprint is shown.

Examples:
  theragate keys set --purpose webhook --env production
  theragate keys fingerprint --purpose webhook --env production
  theragate keys delete --purpose secret --env staging`,
	}
	cmd.PersistentFlags().StringVar(&purpose, "purpose", string(keys.PurposeWebhook), "publishable | secret | webhook")
	cmd.PersistentFlags().StringVar(&env, "env", string(keys.EnvDevelopment), "development | staging | production")

	var fromStdin bool
	set := &cobra.Command{
		Use:   "set",
		Short: "Store a secret (prompted without echo)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ref, err := keys.NewRef(purpose, env)
			if err != nil {
				return err
			}
			var secret string
			if fromStdin {
				b, err := readPayload(cmd, "-")
				if err != nil {
					return err
				}
				secret = strings.TrimSpace(string(b))
			} else {
				if secret, err = promptSecret("Secret: "); err != nil {
					return fmt.Errorf("read secret: %w", err)
				}
				confirm, err := promptSecret("Confirm secret: ")
				if err != nil {
					return fmt.Errorf("read secret: %w", err)
				}
				if secret != confirm {
					return fmt.Errorf("secrets do not match")
				}
			}

			return withKeyService(cmd.Context(), func(svc *service.KeyService) error {
				fp, err := svc.Set(cmd.Context(), ref.Purpose, ref.Environment, []byte(secret))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "stored %s (fingerprint %s)\n", ref, fp)
				return nil
			})
		},
	}
	set.Flags().BoolVar(&fromStdin, "stdin", false, "read the secret from stdin instead of prompting")
	cmd.AddCommand(set)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete",
		Short: "Delete a secret",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ref, err := keys.NewRef(purpose, env)
			if err != nil {
				return err
			}
			return withKeyService(cmd.Context(), func(svc *service.KeyService) error {
				if err := svc.Delete(cmd.Context(), ref.Purpose, ref.Environment); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", ref)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "fingerprint",
		Short: "Print the fingerprint of a stored secret",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ref, err := keys.NewRef(purpose, env)
			if err != nil {
				return err
			}
			return withKeyService(cmd.Context(), func(svc *service.KeyService) error {
				fp, err := svc.Fingerprint(cmd.Context(), ref.Purpose, ref.Environment)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), fp)
				return nil
			})
		},
	})
	return cmd
}

// withKeyService builds a KeyService over the configured backend. Key changes
// made from the CLI are audited like those made by the server; high severity
// entries reach the database when one is configured.
func withKeyService(ctx context.Context, fn func(*service.KeyService) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, closeLog := logger.NewWithWriter(cfg.Logging, os.Stderr)
	defer closeLog.Close()
	slog.SetDefault(log)

	var (
		pool   *pgxpool.Pool
		secure database.AuditStore
	)
	if cfg.Keystore.Backend == "postgres" {
		if pool, err = openDatabase(ctx, cfg.Postgres); err != nil {
			return err
		}
		defer pool.Close()
	}

	vault, err := newVault()
	if err != nil {
		return err
	}
	store, sealer, err := openKeyStore(cfg, pool, vault)
	if err != nil {
		return err
	}
	if pool != nil {
		secure = postgres.NewStore(pool, sealer)
	}

	auditSvc := service.NewAuditService(cfg.Audit, secure, nil, nil)
	auditSvc.SetRedactor(vault.RedactString)
	defer auditSvc.Close()

	c, err := ristretto.New(1)
	if err != nil {
		return err
	}
	return fn(service.NewKeyService(store, c, cfg.Keystore.CacheTTL, auditSvc))
}

// promptSecret reads a secret from the terminal without echoing.
func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // int conversion needed on some platforms
	fmt.Fprintln(os.Stderr)                         // newline after input
	if err != nil {
		return "", err
	}
	return string(b), nil
}
