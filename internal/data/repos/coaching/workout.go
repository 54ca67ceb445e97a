package coaching

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/stridelab/coach-backend/internal/domain"
	"github.com/stridelab/coach-backend/internal/pkg/dbctx"
	"github.com/stridelab/coach-backend/internal/pkg/logger"
)

type WorkoutRepo interface {
	GetCurrentByDate(dbc dbctx.Context, userID uuid.UUID, workoutDate string) (*types.WorkoutInstance, error)
	CreateCurrent(dbc dbctx.Context, w *types.WorkoutInstance) (*types.WorkoutInstance, error)
	ReplaceCurrentForDate(dbc dbctx.Context, w *types.WorkoutInstance) (*types.WorkoutInstance, error)
	CountForDate(dbc dbctx.Context, userID uuid.UUID, workoutDate string) (int64, error)
}

type workoutRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewWorkoutRepo(db *gorm.DB, baseLog *logger.Logger) WorkoutRepo {
	return &workoutRepo{db: db, log: baseLog.With("repo", "WorkoutRepo")}
}

func (r *workoutRepo) GetCurrentByDate(dbc dbctx.Context, userID uuid.UUID, workoutDate string) (*types.WorkoutInstance, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if userID == uuid.Nil || workoutDate == "" {
		return nil, nil
	}
	var w types.WorkoutInstance
	err := transaction.WithContext(dbc.Ctx).
		Where("user_id = ? AND workout_date = ? AND current_key = ?", userID, workoutDate, types.CurrentKey).
		Order("created_at DESC").
		Limit(1).
		Find(&w).Error
	if err != nil {
		return nil, err
	}
	if w.ID == uuid.Nil {
		return nil, nil
	}
	return &w, nil
}

func (r *workoutRepo) CreateCurrent(dbc dbctx.Context, w *types.WorkoutInstance) (*types.WorkoutInstance, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	w.CurrentKey = types.CurrentSlot()
	if err := transaction.WithContext(dbc.Ctx).Create(w).Error; err != nil {
		return nil, err
	}
	return w, nil
}

func (r *workoutRepo) ReplaceCurrentForDate(dbc dbctx.Context, w *types.WorkoutInstance) (*types.WorkoutInstance, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		if err := txx.Model(&types.WorkoutInstance{}).
			Where("user_id = ? AND workout_date = ? AND current_key = ?", w.UserID, w.WorkoutDate, types.CurrentKey).
			Update("current_key", nil).Error; err != nil {
			return err
		}
		w.CurrentKey = types.CurrentSlot()
		return txx.Create(w).Error
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (r *workoutRepo) CountForDate(dbc dbctx.Context, userID uuid.UUID, workoutDate string) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	err := transaction.WithContext(dbc.Ctx).
		Model(&types.WorkoutInstance{}).
		Where("user_id = ? AND workout_date = ?", userID, workoutDate).
		Count(&count).Error
	return count, err
}
