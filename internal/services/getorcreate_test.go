package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"gorm.io/gorm"
)

type row struct {
	id int
}

// fakeStore mimics a table with a uniqueness constraint on "current".
type fakeStore struct {
	mu      sync.Mutex
	current *row
	creates int
	checks  int
}

func (s *fakeStore) check(context.Context) (*row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks++
	return s.current, nil
}

func (s *fakeStore) create(context.Context) (*row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creates++
	if s.current != nil {
		return nil, gorm.ErrDuplicatedKey
	}
	s.current = &row{id: s.creates}
	return s.current, nil
}

func TestGetOrCreateReturnsExisting(t *testing.T) {
	store := &fakeStore{current: &row{id: 99}}
	got, created, err := GetOrCreate(context.Background(), false, store.check, store.create)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if created {
		t.Fatalf("created = true for existing row")
	}
	if got.id != 99 {
		t.Fatalf("got row %d, want 99", got.id)
	}
	if store.creates != 0 {
		t.Fatalf("generator invoked %d times for existing row", store.creates)
	}
}

func TestGetOrCreateCreatesOnce(t *testing.T) {
	store := &fakeStore{}
	got, created, err := GetOrCreate(context.Background(), false, store.check, store.create)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if !created || got == nil {
		t.Fatalf("created=%v got=%v", created, got)
	}

	// Second call settles on the same row without generating.
	again, created, err := GetOrCreate(context.Background(), false, store.check, store.create)
	if err != nil {
		t.Fatalf("second GetOrCreate: %v", err)
	}
	if created {
		t.Fatalf("second call created a new row")
	}
	if again.id != got.id {
		t.Fatalf("second call returned row %d, want %d", again.id, got.id)
	}
	if store.creates != 1 {
		t.Fatalf("generator invoked %d times, want 1", store.creates)
	}
}

func TestGetOrCreateRaceLoserAdoptsWinner(t *testing.T) {
	store := &fakeStore{}
	const callers = 8
	var wg sync.WaitGroup
	results := make([]*row, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = GetOrCreate(context.Background(), false, store.check, store.create)
		}(i)
	}
	wg.Wait()

	winner := store.current
	if winner == nil {
		t.Fatalf("no row created")
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i] != winner {
			t.Fatalf("caller %d got %+v, want winner %+v", i, results[i], winner)
		}
	}
}

func TestGetOrCreateForceSkipsChecker(t *testing.T) {
	calls := 0
	check := func(context.Context) (*row, error) {
		t.Fatalf("checker must not run under force")
		return nil, nil
	}
	create := func(context.Context) (*row, error) {
		calls++
		return &row{id: calls}, nil
	}
	got, created, err := GetOrCreate(context.Background(), true, check, create)
	if err != nil || !created {
		t.Fatalf("force GetOrCreate: created=%v err=%v", created, err)
	}
	if got.id != 1 {
		t.Fatalf("got %d", got.id)
	}
}

func TestGetOrCreateSurfacesCreateError(t *testing.T) {
	boom := errors.New("llm down")
	check := func(context.Context) (*row, error) { return nil, nil }
	create := func(context.Context) (*row, error) { return nil, boom }
	_, _, err := GetOrCreate(context.Background(), false, check, create)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want llm down", err)
	}
}
