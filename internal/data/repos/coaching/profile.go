package coaching

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/stridelab/coach-backend/internal/domain"
	"github.com/stridelab/coach-backend/internal/pkg/dbctx"
	"github.com/stridelab/coach-backend/internal/pkg/logger"
)

// ProfileRepo owns the "current slot" discipline for profiles. CreateCurrent
// relies on the (user_id, current_key) unique index: a racing second insert
// surfaces gorm.ErrDuplicatedKey instead of a second current row.
type ProfileRepo interface {
	GetCurrentByUserID(dbc dbctx.Context, userID uuid.UUID) (*types.Profile, error)
	CreateCurrent(dbc dbctx.Context, p *types.Profile) (*types.Profile, error)
	ReplaceCurrent(dbc dbctx.Context, p *types.Profile) (*types.Profile, error)
	CountByUserID(dbc dbctx.Context, userID uuid.UUID) (int64, error)
}

type profileRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProfileRepo(db *gorm.DB, baseLog *logger.Logger) ProfileRepo {
	return &profileRepo{db: db, log: baseLog.With("repo", "ProfileRepo")}
}

func (r *profileRepo) GetCurrentByUserID(dbc dbctx.Context, userID uuid.UUID) (*types.Profile, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if userID == uuid.Nil {
		return nil, nil
	}
	var p types.Profile
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

func (r *profileRepo) CreateCurrent(dbc dbctx.Context, p *types.Profile) (*types.Profile, error) {
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

// ReplaceCurrent demotes the existing current row (if any) and inserts p as
// the new current, atomically. Prior rows are kept, only their slot changes.
func (r *profileRepo) ReplaceCurrent(dbc dbctx.Context, p *types.Profile) (*types.Profile, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		if err := txx.Model(&types.Profile{}).
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

func (r *profileRepo) CountByUserID(dbc dbctx.Context, userID uuid.UUID) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	err := transaction.WithContext(dbc.Ctx).
		Model(&types.Profile{}).
		Where("user_id = ?", userID).
		Count(&count).Error
	return count, err
}
