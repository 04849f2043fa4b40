package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/2beens/adminauth/internal/auth"
	"github.com/2beens/adminauth/internal/telemetry/tracing"
	"github.com/2beens/adminauth/pkg"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PsqlRepo keeps sessions in the admin_session table.
type PsqlRepo struct {
	db *pgxpool.Pool
	// ability to inject random string generator func for ids (for unit and dev testing)
	RandStringFunc IDFunc
}

func NewPsqlRepo(db *pgxpool.Pool) *PsqlRepo {
	return &PsqlRepo{
		db:             db,
		RandStringFunc: pkg.GenerateRandomString,
	}
}

func (r *PsqlRepo) Create(ctx context.Context, owner string, createdAt, expiresAt time.Time) (_ string, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "psqlSessionsRepo.create")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	if _, err := checkLifetime(createdAt, expiresAt); err != nil {
		return "", err
	}

	return allocateID(r.RandStringFunc, func(id string) (bool, error) {
		tag, err := r.db.Exec(
			ctx,
			`
				INSERT INTO admin_session (id, owner, created_at, expires_at)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (id) DO NOTHING;`,
			id, owner, createdAt, expiresAt,
		)
		if pkg.IsCheckViolationError(err) {
			return false, fmt.Errorf("session expiry not after creation: %w", err)
		}
		if err != nil {
			return false, err
		}
		return tag.RowsAffected() == 1, nil
	})
}

func (r *PsqlRepo) Get(ctx context.Context, id string) (_ *auth.Session, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "psqlSessionsRepo.get")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	var session auth.Session
	err = r.db.QueryRow(
		ctx,
		`SELECT id, owner, created_at, expires_at FROM admin_session WHERE id = $1;`,
		id,
	).Scan(&session.ID, &session.Owner, &session.CreatedAt, &session.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, auth.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}

	return &session, nil
}

func (r *PsqlRepo) Delete(ctx context.Context, id string) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "psqlSessionsRepo.delete")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	_, err = r.db.Exec(ctx, `DELETE FROM admin_session WHERE id = $1;`, id)
	return err
}

func (r *PsqlRepo) DeleteAllForOwner(ctx context.Context, owner string) (_ int, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "psqlSessionsRepo.deleteAllForOwner")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	tag, err := r.db.Exec(ctx, `DELETE FROM admin_session WHERE owner = $1;`, owner)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *PsqlRepo) DeleteExpired(ctx context.Context, now time.Time) (_ int, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "psqlSessionsRepo.deleteExpired")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	tag, err := r.db.Exec(ctx, `DELETE FROM admin_session WHERE expires_at <= $1;`, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
