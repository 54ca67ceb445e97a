package coaching

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/stridelab/coach-backend/internal/domain"
	"github.com/stridelab/coach-backend/internal/pkg/dbctx"
	"github.com/stridelab/coach-backend/internal/pkg/logger"
)

type PlanRepo interface {
	GetCurrentByUserID(dbc dbctx.Context, userID uuid.UUID) (*types.Plan, error)
	CreateCurrent(dbc dbctx.Context, p *types.Plan) (*types.Plan, error)
	ReplaceCurrent(dbc dbctx.Context, p *types.Plan) (*types.Plan, error)
	CountByUserID(dbc dbctx.Context, userID uuid.UUID) (int64, error)
}

type planRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPlanRepo(db *gorm.DB, baseLog *logger.Logger) PlanRepo {
	return &planRepo{db: db, log: baseLog.With("repo", "PlanRepo")}
}

func (r *planRepo) GetCurrentByUserID(dbc dbctx.Context, userID uuid.UUID) (*types.Plan, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if userID == uuid.Nil {
		return nil, nil
	}
	var p types.Plan
	err := transaction.WithContext(dbc.Ctx).
		Where("user_id = ? AND current_key = ?", userID, types.CurrentKey).
		Order("created_at DESC").
		Limit(1).
		Find(&p).Error
	if err != nil {
		return nil, err
	}
	if p.ID == uuid.Nil {
		return nil, nil
	}
	return &p, nil
}

func (r *planRepo) CreateCurrent(dbc dbctx.Context, p *types.Plan) (*types.Plan, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	p.CurrentKey = types.CurrentSlot()
	if err := transaction.WithContext(dbc.Ctx).Create(p).Error; err != nil {
		return nil, err
	}
	return p, nil
}

func (r *planRepo) ReplaceCurrent(dbc dbctx.Context, p *types.Plan) (*types.Plan, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		if err := txx.Model(&types.Plan{}).
			Where("user_id = ? AND current_key = ?", p.UserID, types.CurrentKey).
			Update("current_key", nil).Error; err != nil {
			return err
		}
		p.CurrentKey = types.CurrentSlot()
		return txx.Create(p).Error
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *planRepo) CountByUserID(dbc dbctx.Context, userID uuid.UUID) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	err := transaction.WithContext(dbc.Ctx).
		Model(&types.Plan{}).
		Where("user_id = ?", userID).
		Count(&count).Error
	return count, err
}
