package identity

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ConsumeRefreshSessionSQL is the rotation primitive. The revoked guard in
// the predicate makes the update conditional: of any number of concurrent
// exchanges of the same handle, exactly one affects a row.
var ConsumeRefreshSessionSQL = `UPDATE "refresh_sessions" AS "rfs"
SET
	"revoked" = TRUE,
	"revoked_at" = ?
WHERE
	"rfs"."jti" = ?
AND "rfs"."revoked" = FALSE;`

var RevokeSessionsForUserSQL = `UPDATE "refresh_sessions" AS "rfs"
SET
	"revoked" = TRUE,
	"revoked_at" = ?
WHERE
	"rfs"."user_id" = ?
AND "rfs"."revoked" = FALSE;`

var RevokeMatchingSessionsSQL = `UPDATE "refresh_sessions" AS "rfs"
SET
	"revoked" = TRUE,
	"revoked_at" = ?
WHERE
	"rfs"."user_id" = ?
AND "rfs"."device_name" = ?
AND "rfs"."created_at" >= ?
AND "rfs"."revoked" = FALSE;`

// Sessions is the full refresh session repository surface. SessionStore is
// the subset the token engine consumes.
type Sessions interface {
	SessionStore

	CreateTx(ctx context.Context, tx bun.IDB, session *RefreshSession) (*RefreshSession, error)
	GetByJTITx(ctx context.Context, tx bun.IDB, jti string) (*RefreshSession, error)
	ConsumeTx(ctx context.Context, tx bun.IDB, jti string, at time.Time) (bool, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]*RefreshSession, error)
}

type sessions struct {
	repo repository.Repository[*RefreshSession]
	db   *bun.DB
}

var (
	_ Sessions     = (*sessions)(nil)
	_ SessionStore = (*sessions)(nil)
)

func NewSessionsRepository(db *bun.DB) Sessions {
	repo := repository.NewRepository[*RefreshSession](db, repository.ModelHandlers[*RefreshSession]{
		NewRecord: func() *RefreshSession { return &RefreshSession{} },
		GetID: func(s *RefreshSession) uuid.UUID {
			if s == nil {
				return uuid.Nil
			}
			return s.ID
		},
		SetID: func(s *RefreshSession, id uuid.UUID) {
			if s != nil {
				s.ID = id
			}
		},
		GetIdentifier: func() string {
			return "jti"
		},
	})

	return &sessions{
		repo: repo,
		db:   db,
	}
}

func (a *sessions) Create(ctx context.Context, session *RefreshSession) (*RefreshSession, error) {
	return a.CreateTx(ctx, a.db, session)
}

func (a *sessions) CreateTx(ctx context.Context, tx bun.IDB, session *RefreshSession) (*RefreshSession, error) {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	return a.repo.CreateTx(ctx, tx, session)
}

func (a *sessions) GetByJTI(ctx context.Context, jti string) (*RefreshSession, error) {
	return a.GetByJTITx(ctx, a.db, jti)
}

func (a *sessions) GetByJTITx(ctx context.Context, tx bun.IDB, jti string) (*RefreshSession, error) {
	return a.repo.GetByIdentifierTx(ctx, tx, jti)
}

func (a *sessions) Consume(ctx context.Context, jti string, at time.Time) (bool, error) {
	return a.ConsumeTx(ctx, a.db, jti, at)
}

func (a *sessions) ConsumeTx(ctx context.Context, tx bun.IDB, jti string, at time.Time) (bool, error) {
	res, err := tx.NewRaw(ConsumeRefreshSessionSQL, at, jti).Exec(ctx)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected == 1, nil
}

// Revoke marks a session revoked by jti. Already revoked or absent rows are
// left alone without error, which makes the operation idempotent.
func (a *sessions) Revoke(ctx context.Context, jti string, at time.Time) error {
	_, err := a.db.NewRaw(ConsumeRefreshSessionSQL, at, jti).Exec(ctx)
	return err
}

func (a *sessions) RevokeAllForUser(ctx context.Context, userID uuid.UUID, at time.Time) (int64, error) {
	res, err := a.db.NewRaw(RevokeSessionsForUserSQL, at, userID).Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (a *sessions) RevokeMatching(ctx context.Context, userID uuid.UUID, deviceKey string, createdAfter, at time.Time) (int64, error) {
	res, err := a.db.NewRaw(RevokeMatchingSessionsSQL, at, userID, deviceKey, createdAfter).Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteExpired removes sessions past their expiry regardless of revoked
// state. Expiry is the only criterion, so the sweep never races a live
// exchange.
func (a *sessions) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := a.db.NewDelete().
		Model((*RefreshSession)(nil)).
		Where("?TableAlias.expires_at < ?", now).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (a *sessions) ListForUser(ctx context.Context, userID uuid.UUID) ([]*RefreshSession, error) {
	records := []*RefreshSession{}

	err := a.db.NewSelect().
		Model(&records).
		Where("?TableAlias.user_id = ?", userID).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	return records, nil
}
