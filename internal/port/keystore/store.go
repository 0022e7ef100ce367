// Package keystore defines the secure key store port.
package keystore

import (
	"context"

	"github.com/Strob0t/TheraGate/internal/domain/keys"
)

// Store persists key material by (purpose, environment). Implementations
// return errors wrapping keys.ErrNotFound for missing slots and must never log
// the secret.
type Store interface {
	Get(ctx context.Context, ref keys.Ref) ([]byte, error)
	Set(ctx context.Context, ref keys.Ref, secret []byte) error
	Delete(ctx context.Context, ref keys.Ref) error
}
