package identity

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ConsumeProofTokenSQL is the single-use primitive, the same conditional
// shape as the session rotation update.
var ConsumeProofTokenSQL = `UPDATE "proof_tokens" AS "prt"
SET
	"consumed" = TRUE,
	"consumed_at" = ?
WHERE
	"prt"."id" = ?
AND "prt"."consumed" = FALSE;`

// ProofTokens is the full proof token repository surface. ProofTokenStore
// is the subset the token engine consumes.
type ProofTokens interface {
	ProofTokenStore

	CreateTx(ctx context.Context, tx bun.IDB, token *ProofToken) (*ProofToken, error)
	ConsumeTx(ctx context.Context, tx bun.IDB, id uuid.UUID, at time.Time) (bool, error)
}

type proofTokens struct {
	repo repository.Repository[*ProofToken]
	db   *bun.DB
}

var (
	_ ProofTokens     = (*proofTokens)(nil)
	_ ProofTokenStore = (*proofTokens)(nil)
)

func NewProofTokensRepository(db *bun.DB) ProofTokens {
	repo := repository.NewRepository[*ProofToken](db, repository.ModelHandlers[*ProofToken]{
		NewRecord: func() *ProofToken { return &ProofToken{} },
		GetID: func(t *ProofToken) uuid.UUID {
			if t == nil {
				return uuid.Nil
			}
			return t.ID
		},
		SetID: func(t *ProofToken, id uuid.UUID) {
			if t != nil {
				t.ID = id
			}
		},
	})

	return &proofTokens{
		repo: repo,
		db:   db,
	}
}

func (a *proofTokens) Create(ctx context.Context, token *ProofToken) (*ProofToken, error) {
	return a.CreateTx(ctx, a.db, token)
}

func (a *proofTokens) CreateTx(ctx context.Context, tx bun.IDB, token *ProofToken) (*ProofToken, error) {
	if token.ID == uuid.Nil {
		token.ID = uuid.New()
	}
	return a.repo.CreateTx(ctx, tx, token)
}

func (a *proofTokens) GetByID(ctx context.Context, id uuid.UUID) (*ProofToken, error) {
	return a.repo.GetByID(ctx, id.String())
}

func (a *proofTokens) Consume(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	return a.ConsumeTx(ctx, a.db, id, at)
}

func (a *proofTokens) ConsumeTx(ctx context.Context, tx bun.IDB, id uuid.UUID, at time.Time) (bool, error) {
	res, err := tx.NewRaw(ConsumeProofTokenSQL, at, id).Exec(ctx)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected == 1, nil
}

// DeleteExpired removes tokens past their expiry, consumed or not.
func (a *proofTokens) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := a.db.NewDelete().
		Model((*ProofToken)(nil)).
		Where("?TableAlias.expires_at < ?", now).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
