package identity

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	Users() Users
	Sessions() Sessions
	ProofTokens() ProofTokens
	Roles() Roles
	Profiles() Profiles
}

// Profiles persists the display profile attached to a user.
type Profiles interface {
	ProfileStore

	CreateTx(ctx context.Context, tx bun.IDB, profile *Profile) (*Profile, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) (*Profile, error)
}

type profiles struct {
	repo repository.Repository[*Profile]
	db   *bun.DB
}

var _ Profiles = (*profiles)(nil)

func NewProfilesRepository(db *bun.DB) Profiles {
	repo := repository.NewRepository[*Profile](db, repository.ModelHandlers[*Profile]{
		NewRecord: func() *Profile { return &Profile{} },
		GetID: func(p *Profile) uuid.UUID {
			if p == nil {
				return uuid.Nil
			}
			return p.ID
		},
		SetID: func(p *Profile, id uuid.UUID) {
			if p != nil {
				p.ID = id
			}
		},
	})

	return &profiles{
		repo: repo,
		db:   db,
	}
}

func (a *profiles) Create(ctx context.Context, profile *Profile) (*Profile, error) {
	return a.CreateTx(ctx, a.db, profile)
}

func (a *profiles) CreateTx(ctx context.Context, tx bun.IDB, profile *Profile) (*Profile, error) {
	if profile.ID == uuid.Nil {
		profile.ID = uuid.New()
	}
	return a.repo.CreateTx(ctx, tx, profile)
}

func (a *profiles) GetByUserID(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	record := &Profile{}

	err := a.db.NewSelect().
		Model(record).
		Where("?TableAlias.user_id = ?", userID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"user_id": userID.String(),
				})
		}
		return nil, err
	}

	return record, nil
}

type mngr struct {
	db          *bun.DB
	users       Users
	sessions    Sessions
	proofTokens ProofTokens
	roles       Roles
	profiles    Profiles
}

func NewRepositoryManager(db *bun.DB) RepositoryManager {
	return &mngr{
		db:          db,
		users:       NewUsersRepository(db),
		sessions:    NewSessionsRepository(db),
		proofTokens: NewProofTokensRepository(db),
		roles:       NewRolesRepository(db),
		profiles:    NewProfilesRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.users == nil {
		return errors.New("repository users should be initialized")
	}

	if m.sessions == nil {
		return errors.New("repository sessions should be initialized")
	}

	if m.proofTokens == nil {
		return errors.New("repository proofTokens should be initialized")
	}

	if m.roles == nil {
		return errors.New("repository roles should be initialized")
	}

	if m.profiles == nil {
		return errors.New("repository profiles should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Users() Users {
	return m.users
}

func (m mngr) Sessions() Sessions {
	return m.sessions
}

func (m mngr) ProofTokens() ProofTokens {
	return m.proofTokens
}

func (m mngr) Roles() Roles {
	return m.roles
}

func (m mngr) Profiles() Profiles {
	return m.profiles
}
