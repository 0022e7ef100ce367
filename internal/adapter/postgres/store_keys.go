package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/TheraGate/internal/domain/keys"
)

// Get opens the key material stored for ref.
func (s *Store) Get(ctx context.Context, ref keys.Ref) ([]byte, error) {
	var sealed []byte
	err := s.pool.QueryRow(ctx,
		`SELECT sealed FROM security_keys WHERE purpose = $1 AND environment = $2`,
		string(ref.Purpose), string(ref.Environment)).Scan(&sealed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, keys.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select key %s: %w", ref, err)
	}
	return s.sealer.Open(ref.String(), sealed)
}

// Set seals and upserts the key material for ref.
func (s *Store) Set(ctx context.Context, ref keys.Ref, secret []byte) error {
	sealed, err := s.sealer.Seal(ref.String(), secret)
	if err != nil {
		return fmt.Errorf("seal key %s: %w", ref, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO security_keys (purpose, environment, sealed, fingerprint)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (purpose, environment)
		 DO UPDATE SET sealed = EXCLUDED.sealed, fingerprint = EXCLUDED.fingerprint, updated_at = now()`,
		string(ref.Purpose), string(ref.Environment), sealed, keys.Fingerprint(secret))
	if err != nil {
		return fmt.Errorf("upsert key %s: %w", ref, err)
	}
	return nil
}

// Delete removes the key material for ref.
func (s *Store) Delete(ctx context.Context, ref keys.Ref) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM security_keys WHERE purpose = $1 AND environment = $2`,
		string(ref.Purpose), string(ref.Environment))
	if err != nil {
		return fmt.Errorf("delete key %s: %w", ref, err)
	}
	if tag.RowsAffected() == 0 {
		return keys.ErrNotFound
	}
	return nil
}
