package repository

import (
	"context"
	"database/sql"
	"errors"
	"log"

	trust "github.com/goliatone/go-trust"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

// Manager groups the bun repositories backing the trust core collaborators.
type Manager struct {
	db          *bun.DB
	users       *UserRepository
	invitations *InvitationRepository
	resources   *ResourceRepository
}

// NewManager creates every repository on db.
func NewManager(db *bun.DB) *Manager {
	return &Manager{
		db:          db,
		users:       NewUserRepository(db),
		invitations: NewInvitationRepository(db),
		resources:   NewResourceRepository(db),
	}
}

func (m *Manager) Validate() error {
	if m.db == nil {
		return errors.New("repository db should be initialized")
	}

	if m.users == nil || m.invitations == nil || m.resources == nil {
		return errors.New("repositories should be initialized")
	}

	return nil
}

func (m *Manager) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m *Manager) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m *Manager) DB() *bun.DB {
	return m.db
}

func (m *Manager) Users() *UserRepository {
	return m.users
}

func (m *Manager) Invitations() *InvitationRepository {
	return m.invitations
}

func (m *Manager) Resources() *ResourceRepository {
	return m.resources
}

func (m *Manager) EventOwners() trust.OwnerLoader {
	return EventOwners(m.db)
}

func (m *Manager) IssueOwners() trust.OwnerLoader {
	return IssueOwners(m.db)
}

// Migrate applies the embedded SQL migrations that have not run yet.
func (m *Manager) Migrate(ctx context.Context) (*migrate.MigrationGroup, error) {
	return Migrate(ctx, m.db)
}

// Migrate applies the embedded SQL migrations on db.
func Migrate(ctx context.Context, db *bun.DB) (*migrate.MigrationGroup, error) {
	dir, err := trust.MigrationsDir()
	if err != nil {
		return nil, err
	}

	migrations := migrate.NewMigrations()
	if err := migrations.Discover(dir); err != nil {
		return nil, err
	}

	migrator := migrate.NewMigrator(db, migrations)
	if err := migrator.Init(ctx); err != nil {
		return nil, err
	}

	return migrator.Migrate(ctx)
}
