package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	trust "github.com/goliatone/go-trust"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UserModel is the Bun model for users.
type UserModel struct {
	bun.BaseModel `bun:"table:users,alias:usr"`

	ID               string    `bun:"id,pk"`
	Email            string    `bun:"email,notnull,unique"`
	PasswordHash     string    `bun:"password_hash,notnull"`
	Role             string    `bun:"role,notnull"`
	TwoFactorEnabled bool      `bun:"two_factor_enabled,notnull"`
	CreatedAt        time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt        time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// UserRepository implements trust.UserLookup, trust.UserRegistrar and
// trust.PasswordUpdater using Bun.
type UserRepository struct {
	db bun.IDB
}

var (
	_ trust.UserLookup      = (*UserRepository)(nil)
	_ trust.UserRegistrar   = (*UserRepository)(nil)
	_ trust.PasswordUpdater = (*UserRepository)(nil)
)

// NewUserRepository creates a new repository.
func NewUserRepository(db bun.IDB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByEmailWithRole implements trust.UserLookup.
func (r *UserRepository) FindByEmailWithRole(ctx context.Context, email string) (*trust.UserRecord, error) {
	var model UserModel
	err := r.db.NewSelect().
		Model(&model).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return toUserRecord(&model), nil
}

// FindByID implements trust.UserLookup.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*trust.UserRecord, error) {
	var model UserModel
	err := r.db.NewSelect().
		Model(&model).
		Where("id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return toUserRecord(&model), nil
}

// RegisterUser implements trust.UserRegistrar.
func (r *UserRepository) RegisterUser(ctx context.Context, email, passwordHash string, role trust.UserRole) (*trust.UserRecord, error) {
	return r.CreateUser(ctx, &trust.UserRecord{
		Email:        email,
		PasswordHash: passwordHash,
		Role:         role,
	})
}

// CreateUser inserts user, assigning an id when it has none.
func (r *UserRepository) CreateUser(ctx context.Context, user *trust.UserRecord) (*trust.UserRecord, error) {
	now := time.Now().UTC()
	model := &UserModel{
		ID:               user.ID,
		Email:            strings.ToLower(strings.TrimSpace(user.Email)),
		PasswordHash:     user.PasswordHash,
		Role:             string(user.Role),
		TwoFactorEnabled: user.TwoFactorEnabled,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if model.ID == "" {
		model.ID = uuid.New().String()
	}
	if model.Role == "" {
		model.Role = string(trust.RoleMember)
	}

	if _, err := r.db.NewInsert().Model(model).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return nil, errors.New("a user with this email already exists", errors.CategoryConflict).
				WithCode(errors.CodeConflict).
				WithTextCode("USER_EXISTS")
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "could not create user")
	}

	return toUserRecord(model), nil
}

// UpdatePasswordHash implements trust.PasswordUpdater.
func (r *UserRepository) UpdatePasswordHash(ctx context.Context, userID, passwordHash string) error {
	return r.update(ctx, userID, "password_hash = ?", passwordHash)
}

// SetTwoFactor toggles second factor codes for a user.
func (r *UserRepository) SetTwoFactor(ctx context.Context, userID string, enabled bool) error {
	return r.update(ctx, userID, "two_factor_enabled = ?", enabled)
}

// SetRole changes a user's role. Open sessions keep the role they were
// created with.
func (r *UserRepository) SetRole(ctx context.Context, userID string, role trust.UserRole) error {
	if !role.IsValid() {
		return errors.New("unknown role", errors.CategoryBadInput).
			WithMetadata(map[string]any{"role": string(role)})
	}
	return r.update(ctx, userID, "role = ?", string(role))
}

func (r *UserRepository) update(ctx context.Context, userID, set string, value any) error {
	res, err := r.db.NewUpdate().
		Model((*UserModel)(nil)).
		Set(set, value).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", userID).
		Exec(ctx)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return trust.ErrResourceNotFound
	}
	return nil
}

func toUserRecord(m *UserModel) *trust.UserRecord {
	return &trust.UserRecord{
		ID:               m.ID,
		Email:            m.Email,
		PasswordHash:     m.PasswordHash,
		Role:             trust.UserRole(m.Role),
		TwoFactorEnabled: m.TwoFactorEnabled,
	}
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key")
}
