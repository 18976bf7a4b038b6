package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/goliatone/go-errors"
	trust "github.com/goliatone/go-trust"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// EventModel is the Bun model for events.
type EventModel struct {
	bun.BaseModel `bun:"table:events,alias:evt"`

	ID        string    `bun:"id,pk"`
	OwnerID   string    `bun:"owner_id,notnull"`
	Title     string    `bun:"title,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// IssueModel is the Bun model for issues.
type IssueModel struct {
	bun.BaseModel `bun:"table:issues,alias:iss"`

	ID        string    `bun:"id,pk"`
	OwnerID   string    `bun:"owner_id,notnull"`
	EventID   string    `bun:"event_id,nullzero"`
	Title     string    `bun:"title,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// Table names of the owned resources guarded by the trust core.
const (
	EventsTable = "events"
	IssuesTable = "issues"
)

// OwnerLoader returns a trust.OwnerLoader reading owner_id from table. The
// table name is quoted as an identifier.
func OwnerLoader(db bun.IDB, table string) trust.OwnerLoader {
	return trust.OwnerLoaderFunc(func(ctx context.Context, resourceID string) (string, error) {
		var ownerID string
		err := db.NewSelect().
			TableExpr("?", bun.Ident(table)).
			Column("owner_id").
			Where("id = ?", resourceID).
			Limit(1).
			Scan(ctx, &ownerID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return "", trust.ErrResourceNotFound
			}
			return "", err
		}
		return ownerID, nil
	})
}

// EventOwners resolves event owners.
func EventOwners(db bun.IDB) trust.OwnerLoader {
	return OwnerLoader(db, EventsTable)
}

// IssueOwners resolves issue owners.
func IssueOwners(db bun.IDB) trust.OwnerLoader {
	return OwnerLoader(db, IssuesTable)
}

// ResourceRepository creates owned resources. The full CRUD surface lives
// with the application; this covers what the trust core needs to exercise.
type ResourceRepository struct {
	db bun.IDB
}

// NewResourceRepository creates a new repository.
func NewResourceRepository(db bun.IDB) *ResourceRepository {
	return &ResourceRepository{db: db}
}

// CreateEvent inserts an event owned by ownerID.
func (r *ResourceRepository) CreateEvent(ctx context.Context, ownerID, title string) (*EventModel, error) {
	model := &EventModel{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := r.db.NewInsert().Model(model).Exec(ctx); err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "could not create event")
	}
	return model, nil
}

// CreateIssue inserts an issue owned by ownerID, optionally linked to an event.
func (r *ResourceRepository) CreateIssue(ctx context.Context, ownerID, eventID, title string) (*IssueModel, error) {
	model := &IssueModel{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		EventID:   eventID,
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}
	if _, err := r.db.NewInsert().Model(model).Exec(ctx); err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "could not create issue")
	}
	return model, nil
}
