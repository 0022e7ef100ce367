package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/TheraGate/internal/secrets"
)

// Store implements database.AuditStore, database.IncidentStore and
// keystore.Store using PostgreSQL. Audit details and key material are sealed
// with the master-key sealer before they reach the database.
type Store struct {
	pool   *pgxpool.Pool
	sealer *secrets.Sealer
}

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool, sealer *secrets.Sealer) *Store {
	return &Store{pool: pool, sealer: sealer}
}

// Ping checks database connectivity for the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
