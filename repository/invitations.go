package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/goliatone/go-errors"
	trust "github.com/goliatone/go-trust"
	"github.com/uptrace/bun"
)

// InvitationModel is the Bun model for invitations.
type InvitationModel struct {
	bun.BaseModel `bun:"table:invitations,alias:inv"`

	ID        string     `bun:"id,pk"`
	Email     string     `bun:"email,notnull"`
	ExpireAt  time.Time  `bun:"expire_at,notnull"`
	Used      bool       `bun:"used,notnull"`
	UsedAt    *time.Time `bun:"used_at,nullzero"`
	CreatorID string     `bun:"creator_id"`
	CreatedAt time.Time  `bun:"created_at,notnull,default:current_timestamp"`
}

// InvitationRepository implements trust.InvitationStore using Bun.
type InvitationRepository struct {
	db bun.IDB
}

var _ trust.InvitationStore = (*InvitationRepository)(nil)

// NewInvitationRepository creates a new repository.
func NewInvitationRepository(db bun.IDB) *InvitationRepository {
	return &InvitationRepository{db: db}
}

// Create implements trust.InvitationStore. The insert only happens when no
// active invitation exists for the email at CreatedAt, so concurrent creates
// for one email store a single row.
func (r *InvitationRepository) Create(ctx context.Context, inv *trust.Invitation) error {
	model := fromInvitation(inv)
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}

	res, err := r.db.NewRaw(`INSERT INTO invitations (id, email, expire_at, used, creator_id, created_at)
SELECT ?, ?, ?, ?, ?, ?
WHERE NOT EXISTS (
	SELECT 1 FROM invitations WHERE email = ? AND used = ? AND expire_at > ?
)`,
		model.ID, model.Email, model.ExpireAt, model.Used, model.CreatorID, model.CreatedAt,
		model.Email, false, model.CreatedAt,
	).Exec(ctx)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return trust.ErrDuplicateInvitation
	}
	return nil
}

// FindBySubjectID implements trust.InvitationStore.
func (r *InvitationRepository) FindBySubjectID(ctx context.Context, subjectID string) (*trust.Invitation, error) {
	var model InvitationModel
	err := r.db.NewSelect().
		Model(&model).
		Where("id = ?", subjectID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return toInvitation(&model), nil
}

// FindActiveByEmail implements trust.InvitationStore. Expiry is compared in Go
// so the query stays dialect neutral.
func (r *InvitationRepository) FindActiveByEmail(ctx context.Context, email string, now time.Time) (*trust.Invitation, error) {
	var models []InvitationModel
	err := r.db.NewSelect().
		Model(&models).
		Where("email = ?", email).
		Where("used = ?", false).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	for i := range models {
		if now.Before(models[i].ExpireAt) {
			return toInvitation(&models[i]), nil
		}
	}
	return nil, nil
}

// MarkUsed implements trust.InvitationStore. The update only matches unused
// rows, so concurrent redemptions mark the row once.
func (r *InvitationRepository) MarkUsed(ctx context.Context, subjectID string, usedAt time.Time) (bool, error) {
	res, err := r.db.NewUpdate().
		Model((*InvitationModel)(nil)).
		Set("used = ?", true).
		Set("used_at = ?", usedAt.UTC()).
		Where("id = ?", subjectID).
		Where("used = ?", false).
		Exec(ctx)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Delete implements trust.InvitationStore.
func (r *InvitationRepository) Delete(ctx context.Context, subjectID string) error {
	_, err := r.db.NewDelete().
		Model((*InvitationModel)(nil)).
		Where("id = ?", subjectID).
		Exec(ctx)
	return err
}

// List implements trust.InvitationStore, newest first.
func (r *InvitationRepository) List(ctx context.Context) ([]*trust.Invitation, error) {
	var models []InvitationModel
	err := r.db.NewSelect().
		Model(&models).
		Order("created_at DESC").
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []*trust.Invitation{}, nil
		}
		return nil, err
	}

	invitations := make([]*trust.Invitation, len(models))
	for i := range models {
		invitations[i] = toInvitation(&models[i])
	}
	return invitations, nil
}

func fromInvitation(inv *trust.Invitation) *InvitationModel {
	return &InvitationModel{
		ID:        inv.ID,
		Email:     inv.Email,
		ExpireAt:  inv.ExpireAt.UTC(),
		Used:      inv.Used,
		UsedAt:    inv.UsedAt,
		CreatorID: inv.CreatorID,
		CreatedAt: inv.CreatedAt.UTC(),
	}
}

func toInvitation(m *InvitationModel) *trust.Invitation {
	return &trust.Invitation{
		ID:        m.ID,
		Email:     m.Email,
		ExpireAt:  m.ExpireAt,
		Used:      m.Used,
		UsedAt:    m.UsedAt,
		CreatorID: m.CreatorID,
		CreatedAt: m.CreatedAt,
	}
}
