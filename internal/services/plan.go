package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	coachingrepo "github.com/stridelab/coach-backend/internal/data/repos/coaching"
	types "github.com/stridelab/coach-backend/internal/domain"
	"github.com/stridelab/coach-backend/internal/pkg/dbctx"
	"github.com/stridelab/coach-backend/internal/pkg/logger"
	"github.com/stridelab/coach-backend/internal/platform/openai"
)

var ErrProfileMissing = errors.New("no current profile for plan generation")

type PlanService interface {
	GetCurrent(ctx context.Context, userID uuid.UUID) (*types.Plan, error)
	GetOrCreate(ctx context.Context, user *types.User, profile *types.Profile, force bool) (*types.Plan, bool, error)
}

type planService struct {
	repo  coachingrepo.PlanRepo
	ai    openai.Client
	model string
	log   *logger.Logger
}

func NewPlanService(repo coachingrepo.PlanRepo, ai openai.Client, model string, baseLog *logger.Logger) PlanService {
	return &planService{
		repo:  repo,
		ai:    ai,
		model: model,
		log:   baseLog.With("service", "PlanService"),
	}
}

func (s *planService) GetCurrent(ctx context.Context, userID uuid.UUID) (*types.Plan, error) {
	return s.repo.GetCurrentByUserID(dbctx.New(ctx), userID)
}

func (s *planService) GetOrCreate(ctx context.Context, user *types.User, profile *types.Profile, force bool) (*types.Plan, bool, error) {
	if user == nil {
		return nil, false, ErrUserNotFound
	}
	if profile == nil {
		return nil, false, ErrProfileMissing
	}
	check := func(ctx context.Context) (*types.Plan, error) {
		p, err := s.repo.GetCurrentByUserID(dbctx.New(ctx), user.ID)
		if err != nil {
			return nil, err
		}
		if p == nil || !hasContent(p.Content) {
			return nil, nil
		}
		return p, nil
	}
	create := func(ctx context.Context) (*types.Plan, error) {
		return s.generate(ctx, user, profile, force)
	}
	return GetOrCreate(ctx, force, check, create)
}

func (s *planService) generate(ctx context.Context, user *types.User, profile *types.Profile, force bool) (*types.Plan, error) {
	system := "You are a fitness coach. Produce a multi-week training plan for the given athlete profile."
	prompt := fmt.Sprintf("Athlete profile: %s", string(profile.Content))
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title":       map[string]any{"type": "string"},
			"weeks":       map[string]any{"type": "integer"},
			"phases":      map[string]any{"type": "array", "items": map[string]any{"type": "object", "additionalProperties": true}},
			"progression": map[string]any{"type": "string"},
		},
		"required":             []string{"title", "weeks", "phases"},
		"additionalProperties": true,
	}
	obj, err := s.ai.GenerateJSON(ctx, system, prompt, "training_plan", schema)
	if err != nil {
		return nil, fmt.Errorf("plan generation: %w", err)
	}
	content, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("plan generation: %w", err)
	}
	title, _ := obj["title"].(string)
	p := &types.Plan{
		ID:        uuid.New(),
		UserID:    user.ID,
		ProfileID: profile.ID,
		Title:     title,
		Content:   datatypes.JSON(content),
		Model:     s.model,
	}
	if force {
		return s.repo.ReplaceCurrent(dbctx.New(ctx), p)
	}
	return s.repo.CreateCurrent(dbctx.New(ctx), p)
}
