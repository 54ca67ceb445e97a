package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	coachingrepo "github.com/stridelab/coach-backend/internal/data/repos/coaching"
	types "github.com/stridelab/coach-backend/internal/domain"
	"github.com/stridelab/coach-backend/internal/pkg/dbctx"
	"github.com/stridelab/coach-backend/internal/pkg/logger"
	"github.com/stridelab/coach-backend/internal/platform/openai"
)

// ProfileService derives a fitness profile from the user's signup snapshot.
// GetOrCreate is the step contract: idempotent unless force is set, in which
// case a fresh profile supersedes the current one and history is kept.
type ProfileService interface {
	GetCurrent(ctx context.Context, userID uuid.UUID) (*types.Profile, error)
	GetOrCreate(ctx context.Context, user *types.User, signup *types.SignupData, force bool) (*types.Profile, bool, error)
}

type profileService struct {
	repo  coachingrepo.ProfileRepo
	ai    openai.Client
	model string
	log   *logger.Logger
}

func NewProfileService(repo coachingrepo.ProfileRepo, ai openai.Client, model string, baseLog *logger.Logger) ProfileService {
	return &profileService{
		repo:  repo,
		ai:    ai,
		model: model,
		log:   baseLog.With("service", "ProfileService"),
	}
}

func (s *profileService) GetCurrent(ctx context.Context, userID uuid.UUID) (*types.Profile, error) {
	return s.repo.GetCurrentByUserID(dbctx.New(ctx), userID)
}

func (s *profileService) GetOrCreate(ctx context.Context, user *types.User, signup *types.SignupData, force bool) (*types.Profile, bool, error) {
	if user == nil {
		return nil, false, ErrUserNotFound
	}
	if signup == nil {
		return nil, false, ErrSignupDataMissing
	}
	check := func(ctx context.Context) (*types.Profile, error) {
		p, err := s.repo.GetCurrentByUserID(dbctx.New(ctx), user.ID)
		if err != nil {
			return nil, err
		}
		if p == nil || !hasContent(p.Content) {
			return nil, nil
		}
		return p, nil
	}
	create := func(ctx context.Context) (*types.Profile, error) {
		return s.generate(ctx, user, signup, force)
	}
	return GetOrCreate(ctx, force, check, create)
}

func (s *profileService) generate(ctx context.Context, user *types.User, signup *types.SignupData, force bool) (*types.Profile, error) {
	system := "You are a fitness coach. Derive a structured athlete profile from signup answers. Be specific and conservative about injuries."
	prompt := fmt.Sprintf(
		"Experience: %s\nGoals: %s\nConstraints: %s\nSchedule preferences: %s",
		signup.Experience, string(signup.Goals), string(signup.Constraints), string(signup.SchedulePrefs),
	)
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"level":          map[string]any{"type": "string"},
			"focus_areas":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"limitations":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"days_per_week":  map[string]any{"type": "integer"},
			"session_length": map[string]any{"type": "string"},
		},
		"required":             []string{"level", "focus_areas", "days_per_week"},
		"additionalProperties": true,
	}
	obj, err := s.ai.GenerateJSON(ctx, system, prompt, "athlete_profile", schema)
	if err != nil {
		return nil, fmt.Errorf("profile generation: %w", err)
	}
	content, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("profile generation: %w", err)
	}
	p := &types.Profile{
		ID:      uuid.New(),
		UserID:  user.ID,
		Content: datatypes.JSON(content),
		Model:   s.model,
	}
	if force {
		return s.repo.ReplaceCurrent(dbctx.New(ctx), p)
	}
	return s.repo.CreateCurrent(dbctx.New(ctx), p)
}
