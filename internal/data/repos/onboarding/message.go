package onboarding

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/stridelab/coach-backend/internal/domain"
	"github.com/stridelab/coach-backend/internal/pkg/dbctx"
	"github.com/stridelab/coach-backend/internal/pkg/logger"
)

type MessageRepo interface {
	Create(dbc dbctx.Context, msgs []*types.Message) ([]*types.Message, error)
	ExistsForRun(dbc dbctx.Context, userID uuid.UUID, kind string, runToken string) (bool, error)
	ListByUser(dbc dbctx.Context, userID uuid.UUID) ([]*types.Message, error)
}

type messageRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMessageRepo(db *gorm.DB, baseLog *logger.Logger) MessageRepo {
	return &messageRepo{db: db, log: baseLog.With("repo", "MessageRepo")}
}

func (r *messageRepo) Create(dbc dbctx.Context, msgs []*types.Message) ([]*types.Message, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(msgs) == 0 {
		return []*types.Message{}, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Create(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *messageRepo) ExistsForRun(dbc dbctx.Context, userID uuid.UUID, kind string, runToken string) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if userID == uuid.Nil || kind == "" || runToken == "" {
		return false, nil
	}
	var count int64
	err := transaction.WithContext(dbc.Ctx).
		Model(&types.Message{}).
		Where("user_id = ? AND kind = ? AND run_token = ? AND status = ?", userID, kind, runToken, types.MessageStatusSent).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *messageRepo) ListByUser(dbc dbctx.Context, userID uuid.UUID) ([]*types.Message, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*types.Message
	if userID == uuid.Nil {
		return out, nil
	}
	err := transaction.WithContext(dbc.Ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
