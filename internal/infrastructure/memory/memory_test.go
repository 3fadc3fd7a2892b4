package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ErlanBelekov/script-runner/internal/domain"
	"github.com/ErlanBelekov/script-runner/internal/repository"
)

func TestRunRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewRunRepository()

	created, err := repo.Create(ctx, &domain.Run{ID: "r1", MaxAttempts: 3, Status: domain.RunStatusRunning})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
	if _, err := repo.Create(ctx, &domain.Run{ID: "r1"}); err == nil {
		t.Error("duplicate ID must be rejected")
	}

	err = repo.Finish(ctx, "r1", repository.FinishRunInput{
		Status:   domain.RunStatusSucceeded,
		Attempts: 2,
		Report:   []byte(`{"ok":true}`),
	})
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}

	got, err := repo.GetByID(ctx, "r1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != domain.RunStatusSucceeded || got.Attempts != 2 || got.CompletedAt == nil {
		t.Errorf("run = %+v", got)
	}

	if err := repo.Finish(ctx, "r1", repository.FinishRunInput{Status: domain.RunStatusExhausted}); !errors.Is(err, domain.ErrRunNotFound) {
		t.Errorf("second Finish err = %v, want ErrRunNotFound", err)
	}
}

func TestRunRepository_GetMissing(t *testing.T) {
	if _, err := NewRunRepository().GetByID(context.Background(), "nope"); !errors.Is(err, domain.ErrRunNotFound) {
		t.Fatalf("err = %v", err)
	}
}

func TestAttemptRepository_CreateCompleteList(t *testing.T) {
	ctx := context.Background()
	repo := NewAttemptRepository()

	var ids []string
	for i := 1; i <= 2; i++ {
		a, err := repo.CreateAttempt(ctx, &domain.AttemptRecord{RunID: "r1", AttemptNum: i, StartedAt: time.Now()})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, a.ID)
	}
	_, _ = repo.CreateAttempt(ctx, &domain.AttemptRecord{RunID: "other", AttemptNum: 1})

	code := 1
	msg := "Traceback"
	if err := repo.CompleteAttempt(ctx, ids[0], &code, &msg, nil, 120); err != nil {
		t.Fatalf("CompleteAttempt: %v", err)
	}
	if err := repo.CompleteAttempt(ctx, "missing", nil, nil, nil, 0); err == nil {
		t.Error("completing an unknown attempt must fail")
	}

	list, err := repo.ListByRunID(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].AttemptNum != 1 || list[1].AttemptNum != 2 {
		t.Fatalf("list = %+v", list)
	}
	if list[0].ExitCode == nil || *list[0].ExitCode != 1 || *list[0].DurationMS != 120 {
		t.Errorf("completed attempt = %+v", list[0])
	}
	if list[1].CompletedAt != nil {
		t.Error("second attempt should still be open")
	}
}
