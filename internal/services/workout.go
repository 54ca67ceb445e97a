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

var ErrMicrocycleMissing = errors.New("no current microcycle for workout generation")

// WorkoutService expands today's microcycle day into a full workout. Rest
// days still produce an instance so the pipeline and the notification copy
// have something concrete to point at.
type WorkoutService interface {
	GetForToday(ctx context.Context, user *types.User) (*types.WorkoutInstance, error)
	GetOrCreate(ctx context.Context, user *types.User, micro *types.Microcycle, force bool) (*types.WorkoutInstance, bool, error)
}

type workoutService struct {
	repo  coachingrepo.WorkoutRepo
	ai    openai.Client
	model string
	now   Clock
	log   *logger.Logger
}

func NewWorkoutService(repo coachingrepo.WorkoutRepo, ai openai.Client, model string, now Clock, baseLog *logger.Logger) WorkoutService {
	return &workoutService{
		repo:  repo,
		ai:    ai,
		model: model,
		now:   orNow(now),
		log:   baseLog.With("service", "WorkoutService"),
	}
}

func (s *workoutService) GetForToday(ctx context.Context, user *types.User) (*types.WorkoutInstance, error) {
	if user == nil {
		return nil, ErrUserNotFound
	}
	date := isoDate(userLocalTime(user, s.now()))
	return s.repo.GetCurrentByDate(dbctx.New(ctx), user.ID, date)
}

func (s *workoutService) GetOrCreate(ctx context.Context, user *types.User, micro *types.Microcycle, force bool) (*types.WorkoutInstance, bool, error) {
	if user == nil {
		return nil, false, ErrUserNotFound
	}
	if micro == nil {
		return nil, false, ErrMicrocycleMissing
	}
	date := isoDate(userLocalTime(user, s.now()))
	check := func(ctx context.Context) (*types.WorkoutInstance, error) {
		w, err := s.repo.GetCurrentByDate(dbctx.New(ctx), user.ID, date)
		if err != nil {
			return nil, err
		}
		if w == nil || !hasContent(w.Content) {
			return nil, nil
		}
		return w, nil
	}
	create := func(ctx context.Context) (*types.WorkoutInstance, error) {
		return s.generate(ctx, user, micro, date, force)
	}
	return GetOrCreate(ctx, force, check, create)
}

func (s *workoutService) generate(ctx context.Context, user *types.User, micro *types.Microcycle, date string, force bool) (*types.WorkoutInstance, error) {
	day, _ := DayFor(micro, date)
	dayJSON, _ := json.Marshal(day)
	system := "You are a fitness coach. Expand the given training day into a complete workout with warmup, main work and cooldown. For a rest day, produce a short mobility session."
	prompt := fmt.Sprintf("Date: %s\nDay outline: %s\nWeek context: %s", date, string(dayJSON), string(micro.Days))
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title": map[string]any{"type": "string"},
			"blocks": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "object", "additionalProperties": true},
			},
			"duration_minutes": map[string]any{"type": "integer"},
		},
		"required":             []string{"title", "blocks"},
		"additionalProperties": true,
	}
	obj, err := s.ai.GenerateJSON(ctx, system, prompt, "workout_instance", schema)
	if err != nil {
		return nil, fmt.Errorf("workout generation: %w", err)
	}
	content, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("workout generation: %w", err)
	}
	title, _ := obj["title"].(string)
	w := &types.WorkoutInstance{
		ID:           uuid.New(),
		UserID:       user.ID,
		MicrocycleID: micro.ID,
		WorkoutDate:  date,
		Title:        title,
		Content:      datatypes.JSON(content),
		Model:        s.model,
	}
	if force {
		return s.repo.ReplaceCurrentForDate(dbctx.New(ctx), w)
	}
	return s.repo.CreateCurrent(dbctx.New(ctx), w)
}
