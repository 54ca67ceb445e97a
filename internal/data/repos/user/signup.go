package user

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/stridelab/coach-backend/internal/domain"
	"github.com/stridelab/coach-backend/internal/pkg/dbctx"
	"github.com/stridelab/coach-backend/internal/pkg/logger"
)

type SignupDataRepo interface {
	Create(dbc dbctx.Context, rows []*types.SignupData) ([]*types.SignupData, error)
	GetByUserID(dbc dbctx.Context, userID uuid.UUID) (*types.SignupData, error)
}

type signupDataRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSignupDataRepo(db *gorm.DB, baseLog *logger.Logger) SignupDataRepo {
	return &signupDataRepo{db: db, log: baseLog.With("repo", "SignupDataRepo")}
}

func (r *signupDataRepo) Create(dbc dbctx.Context, rows []*types.SignupData) ([]*types.SignupData, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(rows) == 0 {
		return []*types.SignupData{}, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Create(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *signupDataRepo) GetByUserID(dbc dbctx.Context, userID uuid.UUID) (*types.SignupData, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if userID == uuid.Nil {
		return nil, nil
	}
	var sd types.SignupData
	err := transaction.WithContext(dbc.Ctx).
		Where("user_id = ?", userID).
		Limit(1).
		Find(&sd).Error
	if err != nil {
		return nil, err
	}
	if sd.ID == uuid.Nil {
		return nil, nil
	}
	return &sd, nil
}
