package coaching

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/stridelab/coach-backend/internal/domain"
	"github.com/stridelab/coach-backend/internal/pkg/dbctx"
	"github.com/stridelab/coach-backend/internal/pkg/logger"
)

type MicrocycleRepo interface {
	GetCurrentForWeek(dbc dbctx.Context, userID uuid.UUID, weekStart string) (*types.Microcycle, error)
	CreateCurrent(dbc dbctx.Context, m *types.Microcycle) (*types.Microcycle, error)
	ReplaceCurrentForWeek(dbc dbctx.Context, m *types.Microcycle) (*types.Microcycle, error)
	CountForWeek(dbc dbctx.Context, userID uuid.UUID, weekStart string) (int64, error)
}

type microcycleRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMicrocycleRepo(db *gorm.DB, baseLog *logger.Logger) MicrocycleRepo {
	return &microcycleRepo{db: db, log: baseLog.With("repo", "MicrocycleRepo")}
}

func (r *microcycleRepo) GetCurrentForWeek(dbc dbctx.Context, userID uuid.UUID, weekStart string) (*types.Microcycle, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if userID == uuid.Nil || weekStart == "" {
		return nil, nil
	}
	var m types.Microcycle
	err := transaction.WithContext(dbc.Ctx).
		Where("user_id = ? AND week_start = ? AND current_key = ?", userID, weekStart, types.CurrentKey).
		Order("created_at DESC").
		Limit(1).
		Find(&m).Error
	if err != nil {
		return nil, err
	}
	if m.ID == uuid.Nil {
		return nil, nil
	}
	return &m, nil
}

func (r *microcycleRepo) CreateCurrent(dbc dbctx.Context, m *types.Microcycle) (*types.Microcycle, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	m.CurrentKey = types.CurrentSlot()
	if err := transaction.WithContext(dbc.Ctx).Create(m).Error; err != nil {
		return nil, err
	}
	return m, nil
}

func (r *microcycleRepo) ReplaceCurrentForWeek(dbc dbctx.Context, m *types.Microcycle) (*types.Microcycle, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		if err := txx.Model(&types.Microcycle{}).
			Where("user_id = ? AND week_start = ? AND current_key = ?", m.UserID, m.WeekStart, types.CurrentKey).
			Update("current_key", nil).Error; err != nil {
			return err
		}
		m.CurrentKey = types.CurrentSlot()
		return txx.Create(m).Error
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (r *microcycleRepo) CountForWeek(dbc dbctx.Context, userID uuid.UUID, weekStart string) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	err := transaction.WithContext(dbc.Ctx).
		Model(&types.Microcycle{}).
		Where("user_id = ? AND week_start = ?", userID, weekStart).
		Count(&count).Error
	return count, err
}
