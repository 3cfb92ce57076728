package projections

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/liftline/liftline-backend/internal/domain"
	"github.com/liftline/liftline-backend/internal/pkg/dbctx"
	"github.com/liftline/liftline-backend/internal/pkg/logger"
)

type ProjectionRepo interface {
	// Upsert writes the row keyed by (user_id, projection_type, key) unless
	// the stored row has a strictly newer basis, in which case the write is a
	// no-op and applied is false. Re-running a job with the same inputs
	// produces the same row (equal basis overwrites).
	Upsert(dbc dbctx.Context, row *types.Projection) (applied bool, err error)
	Get(dbc dbctx.Context, userID uuid.UUID, projectionType string, key string) (*types.Projection, error)
	ListByUser(dbc dbctx.Context, userID uuid.UUID) ([]*types.Projection, error)
	// Delete exists for maintenance paths only (e.g. alias consolidation);
	// projection-update jobs never remove rows.
	Delete(dbc dbctx.Context, userID uuid.UUID, projectionType string, key string) error
}

type projectionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProjectionRepo(db *gorm.DB, baseLog *logger.Logger) ProjectionRepo {
	return &projectionRepo{
		db:  db,
		log: baseLog.With("repo", "ProjectionRepo"),
	}
}

func (r *projectionRepo) Upsert(dbc dbctx.Context, row *types.Projection) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if row == nil {
		return false, fmt.Errorf("nil projection")
	}
	if row.UserID == uuid.Nil || row.ProjectionType == "" || row.Key == "" {
		return false, fmt.Errorf("missing projection natural key")
	}
	now := time.Now().UTC()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now
	}
	row.UpdatedAt = now

	res := transaction.WithContext(dbc.Ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
			{Name: "projection_type"},
			{Name: "key"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"value", "source", "basis_at", "updated_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: `"projection"."basis_at" <= excluded."basis_at"`},
		}},
	}).Create(row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *projectionRepo) Get(dbc dbctx.Context, userID uuid.UUID, projectionType string, key string) (*types.Projection, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if userID == uuid.Nil || projectionType == "" || key == "" {
		return nil, nil
	}
	var row types.Projection
	err := transaction.WithContext(dbc.Ctx).
		Where("user_id = ? AND projection_type = ? AND key = ?", userID, projectionType, key).
		Limit(1).
		Find(&row).Error
	if err != nil {
		return nil, err
	}
	if row.UserID == uuid.Nil {
		return nil, nil
	}
	return &row, nil
}

func (r *projectionRepo) ListByUser(dbc dbctx.Context, userID uuid.UUID) ([]*types.Projection, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Projection
	if userID == uuid.Nil {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("user_id = ?", userID).
		Order("projection_type ASC, key ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *projectionRepo) Delete(dbc dbctx.Context, userID uuid.UUID, projectionType string, key string) error {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if userID == uuid.Nil || projectionType == "" || key == "" {
		return fmt.Errorf("missing projection natural key")
	}
	return transaction.WithContext(dbc.Ctx).
		Where("user_id = ? AND projection_type = ? AND key = ?", userID, projectionType, key).
		Delete(&types.Projection{}).Error
}
