package onboarding

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/stridelab/coach-backend/internal/domain"
	"github.com/stridelab/coach-backend/internal/pkg/dbctx"
	"github.com/stridelab/coach-backend/internal/pkg/logger"
)

// RunRepo is the onboarding ledger. All transitions are compare-and-swap
// updates conditioned on the expected prior status, so two concurrent
// executions of the same run cannot both win a transition.
type RunRepo interface {
	EnsureForUser(dbc dbctx.Context, userID uuid.UUID) (*types.OnboardingRun, error)
	GetByUserID(dbc dbctx.Context, userID uuid.UUID) (*types.OnboardingRun, error)
	MarkStarted(dbc dbctx.Context, userID uuid.UUID) (bool, error)
	MarkCompleted(dbc dbctx.Context, userID uuid.UUID) (bool, error)
	MarkFailed(dbc dbctx.Context, userID uuid.UUID, reason string) (bool, error)
	Restart(dbc dbctx.Context, userID uuid.UUID) (bool, error)
}

type runRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRunRepo(db *gorm.DB, baseLog *logger.Logger) RunRepo {
	return &runRepo{db: db, log: baseLog.With("repo", "OnboardingRunRepo")}
}

func (r *runRepo) EnsureForUser(dbc dbctx.Context, userID uuid.UUID) (*types.OnboardingRun, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if userID == uuid.Nil {
		return nil, errors.New("nil user id")
	}
	existing, err := r.GetByUserID(dbc, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	run := &types.OnboardingRun{
		ID:     uuid.New(),
		UserID: userID,
		Status: types.RunPending,
	}
	if err := transaction.WithContext(dbc.Ctx).Create(run).Error; err != nil {
		// A concurrent delivery created the row first; it is the same run.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return r.GetByUserID(dbc, userID)
		}
		return nil, err
	}
	return run, nil
}

func (r *runRepo) GetByUserID(dbc dbctx.Context, userID uuid.UUID) (*types.OnboardingRun, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if userID == uuid.Nil {
		return nil, nil
	}
	var run types.OnboardingRun
	err := transaction.WithContext(dbc.Ctx).
		Where("user_id = ?", userID).
		Limit(1).
		Find(&run).Error
	if err != nil {
		return nil, err
	}
	if run.ID == uuid.Nil {
		return nil, nil
	}
	return &run, nil
}

func (r *runRepo) MarkStarted(dbc dbctx.Context, userID uuid.UUID) (bool, error) {
	now := time.Now().UTC()
	return r.casUpdate(dbc, userID, []string{types.RunPending}, map[string]interface{}{
		"status":         types.RunStarted,
		"started_at":     now,
		"failure_reason": "",
		"updated_at":     now,
	})
}

func (r *runRepo) MarkCompleted(dbc dbctx.Context, userID uuid.UUID) (bool, error) {
	now := time.Now().UTC()
	return r.casUpdate(dbc, userID, []string{types.RunStarted}, map[string]interface{}{
		"status":       types.RunCompleted,
		"completed_at": now,
		"updated_at":   now,
	})
}

func (r *runRepo) MarkFailed(dbc dbctx.Context, userID uuid.UUID, reason string) (bool, error) {
	now := time.Now().UTC()
	return r.casUpdate(dbc, userID, []string{types.RunPending, types.RunStarted}, map[string]interface{}{
		"status":         types.RunFailed,
		"failure_reason": reason,
		"updated_at":     now,
	})
}

// Restart re-opens a terminal run: force re-onboarding, or a fresh trigger
// after a terminal failure. Stamping started_at anew also rotates the
// message dedupe token, so the new attempt can notify again.
func (r *runRepo) Restart(dbc dbctx.Context, userID uuid.UUID) (bool, error) {
	now := time.Now().UTC()
	return r.casUpdate(dbc, userID, []string{types.RunCompleted, types.RunFailed}, map[string]interface{}{
		"status":         types.RunStarted,
		"started_at":     now,
		"completed_at":   nil,
		"failure_reason": "",
		"updated_at":     now,
	})
}

func (r *runRepo) casUpdate(dbc dbctx.Context, userID uuid.UUID, fromStatuses []string, updates map[string]interface{}) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if userID == uuid.Nil {
		return false, nil
	}
	res := transaction.WithContext(dbc.Ctx).
		Model(&types.OnboardingRun{}).
		Where("user_id = ? AND status IN ?", userID, fromStatuses).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
