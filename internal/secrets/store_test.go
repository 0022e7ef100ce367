package secrets_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Strob0t/TheraGate/internal/domain/keys"
	"github.com/Strob0t/TheraGate/internal/secrets"
)

var webhookProd = keys.Ref{Purpose: keys.PurposeWebhook, Environment: keys.EnvProduction}

func TestEnvKeyName(t *testing.T) {
	if got := secrets.EnvKeyName(webhookProd); got != "THERAGATE_KEY_WEBHOOK_PRODUCTION" {
		t.Fatalf("unexpected name %q", got)
	}
}

func TestEnvStore(t *testing.T) {
	v, _ := secrets.NewVault(func() (map[string]string, error) {
		return map[string]string{"THERAGATE_KEY_WEBHOOK_PRODUCTION": "whsec_prod"}, nil
	})
	s := secrets.NewEnvStore(v)
	ctx := context.Background()

	got, err := s.Get(ctx, webhookProd)
	if err != nil || string(got) != "whsec_prod" {
		t.Fatalf("Get = %q, %v", got, err)
	}

	staging := keys.Ref{Purpose: keys.PurposeWebhook, Environment: keys.EnvStaging}
	if _, err := s.Get(ctx, staging); !errors.Is(err, keys.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.Set(ctx, webhookProd, []byte("x")); !errors.Is(err, keys.ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
	if err := s.Delete(ctx, webhookProd); !errors.Is(err, keys.ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
}

func TestFileStore_Lifecycle(t *testing.T) {
	sealer, err := secrets.NewSealer("file-store-master")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "nested", "keys.json")
	s := secrets.NewFileStore(path, sealer)
	ctx := context.Background()

	if _, err := s.Get(ctx, webhookProd); !errors.Is(err, keys.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty store, got %v", err)
	}

	if err := s.Set(ctx, webhookProd, []byte("whsec_file_secret")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "whsec_file_secret") {
		t.Fatal("key file must not contain cleartext secrets")
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600 permissions, got %v", info.Mode().Perm())
	}

	// A fresh store over the same file reads what the first wrote.
	got, err := secrets.NewFileStore(path, sealer).Get(ctx, webhookProd)
	if err != nil || string(got) != "whsec_file_secret" {
		t.Fatalf("Get = %q, %v", got, err)
	}

	if err := s.Delete(ctx, webhookProd); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, webhookProd); !errors.Is(err, keys.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}
