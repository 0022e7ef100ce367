package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Strob0t/TheraGate/internal/domain/audit"
	"github.com/Strob0t/TheraGate/internal/domain/keys"
	"github.com/Strob0t/TheraGate/internal/port/cache"
	"github.com/Strob0t/TheraGate/internal/port/keystore"
)

const keyCachePrefix = "key."

// KeyService reads and writes security key material. Reads go through a
// short-lived cache; writes invalidate it. All failures are *keys.Error and
// audit entries only ever carry the key fingerprint.
type KeyService struct {
	store keystore.Store
	cache cache.Cache
	ttl   time.Duration
	audit *AuditService
}

// NewKeyService creates a KeyService. c may be nil to disable caching.
func NewKeyService(store keystore.Store, c cache.Cache, ttl time.Duration, auditSvc *AuditService) *KeyService {
	return &KeyService{store: store, cache: c, ttl: ttl, audit: auditSvc}
}

// Get returns the secret stored for (purpose, env).
func (s *KeyService) Get(ctx context.Context, purpose keys.Purpose, env keys.Environment) ([]byte, error) {
	ref := keys.Ref{Purpose: purpose, Environment: env}
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	if secret, ok := s.cached(ctx, ref); ok {
		return secret, nil
	}

	secret, err := s.store.Get(ctx, ref)
	if err == nil && len(secret) == 0 {
		err = keys.ErrNotFound
	}
	if err != nil {
		return nil, s.fail(ctx, "get", ref, err)
	}
	if s.cache != nil {
		if cerr := s.cache.Set(ctx, keyCachePrefix+ref.String(), secret, s.ttl); cerr != nil {
			slog.Debug("key cache write failed", "ref", ref.String(), "error", cerr)
		}
	}
	return secret, nil
}

func (s *KeyService) cached(ctx context.Context, ref keys.Ref) ([]byte, bool) {
	if s.cache == nil {
		return nil, false
	}
	secret, ok, err := s.cache.Get(ctx, keyCachePrefix+ref.String())
	if err != nil || !ok || len(secret) == 0 {
		return nil, false
	}
	return secret, true
}

// WebhookSecret returns the signing secret for env as a string.
func (s *KeyService) WebhookSecret(ctx context.Context, env keys.Environment) (string, error) {
	secret, err := s.Get(ctx, keys.PurposeWebhook, env)
	if err != nil {
		return "", err
	}
	return string(secret), nil
}

// Set stores secret for (purpose, env) and returns its fingerprint.
func (s *KeyService) Set(ctx context.Context, purpose keys.Purpose, env keys.Environment, secret []byte) (string, error) {
	ref := keys.Ref{Purpose: purpose, Environment: env}
	if err := ref.Validate(); err != nil {
		return "", err
	}
	if len(secret) == 0 {
		return "", s.fail(ctx, "set", ref, keys.ErrEmptySecret)
	}
	if err := s.store.Set(ctx, ref, secret); err != nil {
		return "", s.fail(ctx, "set", ref, err)
	}
	s.invalidate(ctx, ref)

	fp := keys.Fingerprint(secret)
	s.audit.Log(ctx, audit.KindKeyStored, map[string]any{
		"purpose":     string(purpose),
		"environment": string(env),
		"fingerprint": fp,
	}, audit.SeverityMedium)
	return fp, nil
}

// Delete removes the secret for (purpose, env).
func (s *KeyService) Delete(ctx context.Context, purpose keys.Purpose, env keys.Environment) error {
	ref := keys.Ref{Purpose: purpose, Environment: env}
	if err := ref.Validate(); err != nil {
		return err
	}
	if err := s.store.Delete(ctx, ref); err != nil {
		return s.fail(ctx, "delete", ref, err)
	}
	s.invalidate(ctx, ref)
	s.audit.Log(ctx, audit.KindKeyDeleted, map[string]any{
		"purpose":     string(purpose),
		"environment": string(env),
	}, audit.SeverityHigh)
	return nil
}

// Fingerprint returns the fingerprint of the stored secret.
func (s *KeyService) Fingerprint(ctx context.Context, purpose keys.Purpose, env keys.Environment) (string, error) {
	secret, err := s.Get(ctx, purpose, env)
	if err != nil {
		return "", err
	}
	return keys.Fingerprint(secret), nil
}

func (s *KeyService) invalidate(ctx context.Context, ref keys.Ref) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, keyCachePrefix+ref.String()); err != nil {
		slog.Warn("key cache invalidation failed", "ref", ref.String(), "error", err)
	}
}

// fail wraps err as *keys.Error and audits it. Missing keys are medium;
// every other failure is high.
func (s *KeyService) fail(ctx context.Context, op string, ref keys.Ref, err error) error {
	kerr := keys.Wrap(op, ref, err)
	sev := audit.SeverityHigh
	if errors.Is(err, keys.ErrNotFound) || errors.Is(err, keys.ErrEmptySecret) {
		sev = audit.SeverityMedium
	}
	s.audit.Log(ctx, audit.KindKeyFailure, map[string]any{
		"op":          op,
		"purpose":     string(ref.Purpose),
		"environment": string(ref.Environment),
		"error":       err.Error(),
	}, sev)
	return kerr
}
