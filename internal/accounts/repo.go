package accounts

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
	"go.opentelemetry.io/otel/attribute"
)

var ErrAccountExists = errors.New("account already exists")

// Repo keeps admin accounts in the admin_account table.
type Repo struct {
	db *pgxpool.Pool
}

func NewRepo(db *pgxpool.Pool) *Repo {
	return &Repo{
		db: db,
	}
}

func (r *Repo) FindByUsername(ctx context.Context, username string) (_ *auth.AdminAccount, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "accountsRepo.findByUsername")
	span.SetAttributes(attribute.String("admin.username", username))
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	var account auth.AdminAccount
	err = r.db.QueryRow(
		ctx,
		`SELECT username, password_hash, is_active, last_login_at FROM admin_account WHERE username = $1;`,
		username,
	).Scan(&account.Username, &account.PasswordHash, &account.IsActive, &account.LastLoginAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, auth.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}

	return &account, nil
}

func (r *Repo) TouchLastLogin(ctx context.Context, username string, at time.Time) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "accountsRepo.touchLastLogin")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	tag, err := r.db.Exec(
		ctx,
		`UPDATE admin_account SET last_login_at = $1 WHERE username = $2;`,
		at, username,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return auth.ErrAccountNotFound
	}
	return nil
}

// Add provisions a new account. It is used by the admin tools only.
func (r *Repo) Add(ctx context.Context, account *auth.AdminAccount) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "accountsRepo.add")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	if account.Username == "" || account.PasswordHash == "" {
		return errors.New("account username or password hash empty")
	}

	_, err = r.db.Exec(
		ctx,
		`INSERT INTO admin_account (username, password_hash, is_active) VALUES ($1, $2, $3);`,
		account.Username, account.PasswordHash, account.IsActive,
	)
	if pkg.IsUniqueViolationError(err) {
		return ErrAccountExists
	}
	return err
}

func (r *Repo) SetActive(ctx context.Context, username string, active bool) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "accountsRepo.setActive")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	tag, err := r.db.Exec(
		ctx,
		`UPDATE admin_account SET is_active = $1 WHERE username = $2;`,
		active, username,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return auth.ErrAccountNotFound
	}
	return nil
}
