package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"

	"QuantPipe/internal/domain/models"
	domrepo "QuantPipe/internal/domain/repository"
	applogger "QuantPipe/pkg/logger"
	"QuantPipe/pkg/postgres"
)

// PGStore implements domrepo.Store on PostgreSQL.
type PGStore struct {
	client *postgres.Client
	pool   postgres.Pool
	l      *applogger.Logger
}

var _ domrepo.Store = (*PGStore)(nil)

// NewPGStore wraps a connected client. Call Migrate before use.
func NewPGStore(client *postgres.Client, l *applogger.Logger) *PGStore {
	return &PGStore{client: client, pool: client.Pool(), l: l}
}

// Migrate applies PostgresSchema.
func (s *PGStore) Migrate(ctx context.Context) error {
	if err := s.client.InitSchema(ctx, PostgresSchema); err != nil {
		return wrapErr("migrate", err)
	}
	return nil
}

func (s *PGStore) Health(ctx context.Context) error {
	return wrapErr("health", s.client.Health(ctx))
}

func (s *PGStore) Close() error {
	return s.client.Close()
}

// wrapErr tags connectivity failures with ErrStoreUnavailable so the runner
// retries them, and maps no-rows to ErrNotFound.
func wrapErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	case postgres.IsUnavailable(err):
		return fmt.Errorf("%s: %w: %v", op, models.ErrStoreUnavailable, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func toJSONB(v interface{}) (pgtype.JSONB, error) {
	var j pgtype.JSONB
	if v == nil {
		j.Status = pgtype.Null
		return j, nil
	}
	if err := j.Set(v); err != nil {
		return j, fmt.Errorf("encode jsonb: %w", err)
	}
	return j, nil
}

func fromJSONB(j pgtype.JSONB, dst interface{}) error {
	if j.Status != pgtype.Present {
		return nil
	}
	if err := j.AssignTo(dst); err != nil {
		return fmt.Errorf("decode jsonb: %w", err)
	}
	return nil
}
