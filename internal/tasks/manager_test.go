package tasks_test

import (
	"context"
	"errors"
	"testing"

	"github.com/clawncil/clawncil/internal/eventbus"
	"github.com/clawncil/clawncil/internal/tasks"
	"github.com/clawncil/clawncil/internal/testutil"
)

func TestCreateDefaultsAndProjectFilter(t *testing.T) {
	db, closeFn := testutil.OpenTestDB(t)
	defer closeFn()

	mgr := tasks.NewManager(db, eventbus.NewBus(db))
	ctx := context.Background()

	task, err := mgr.Create(ctx, tasks.Spec{Title: "Write spec", ProjectID: "p1"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.Status != tasks.StatusTodo {
		t.Fatalf("expected default status todo, got %s", task.Status)
	}
	if task.Priority != tasks.PriorityMedium {
		t.Fatalf("expected default priority medium, got %s", task.Priority)
	}
	if task.Tags == nil || len(task.Tags) != 0 {
		t.Fatalf("expected empty tag list, got %v", task.Tags)
	}

	if _, err := mgr.Create(ctx, tasks.Spec{Title: "Other", ProjectID: "p2"}); err != nil {
		t.Fatalf("create second task: %v", err)
	}

	p1, err := mgr.List(ctx, tasks.ListFilter{ProjectID: "p1"})
	if err != nil {
		t.Fatalf("list p1: %v", err)
	}
	if len(p1) != 1 || p1[0].ID != task.ID {
		t.Fatalf("expected only the p1 task, got %v", p1)
	}
}

func TestCreateValidation(t *testing.T) {
	db, closeFn := testutil.OpenTestDB(t)
	defer closeFn()

	mgr := tasks.NewManager(db, nil)
	ctx := context.Background()

	if _, err := mgr.Create(ctx, tasks.Spec{ProjectID: "p1"}); err == nil {
		t.Fatalf("expected error for missing title")
	}
	if _, err := mgr.Create(ctx, tasks.Spec{Title: "x"}); err == nil {
		t.Fatalf("expected error for missing project id")
	}
	if _, err := mgr.Create(ctx, tasks.Spec{Title: "x", ProjectID: "p1", Status: "doing"}); err == nil {
		t.Fatalf("expected error for invalid status")
	}
	if _, err := mgr.Create(ctx, tasks.Spec{Title: "x", ProjectID: "p1", Priority: "urgent"}); err == nil {
		t.Fatalf("expected error for invalid priority")
	}
}

func TestUpdatePreservesOmittedFields(t *testing.T) {
	db, closeFn := testutil.OpenTestDB(t)
	defer closeFn()

	mgr := tasks.NewManager(db, eventbus.NewBus(db))
	ctx := context.Background()

	task, err := mgr.Create(ctx, tasks.Spec{
		Title:       "Ship release",
		Description: "cut the tag",
		ProjectID:   "p1",
		Priority:    tasks.PriorityHigh,
		Assignee:    "ceo-agent",
		Tags:        []string{"release", "q3"},
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	status := tasks.StatusProgress
	updated, err := mgr.Update(ctx, task.ID, tasks.Patch{Status: &status})
	if err != nil {
		t.Fatalf("update task: %v", err)
	}
	if updated.Status != tasks.StatusProgress {
		t.Fatalf("status not updated: %s", updated.Status)
	}
	if updated.Title != "Ship release" || updated.Description != "cut the tag" ||
		updated.Priority != tasks.PriorityHigh || updated.Assignee != "ceo-agent" {
		t.Fatalf("omitted fields changed: %+v", updated)
	}
	if len(updated.Tags) != 2 || updated.Tags[0] != "release" {
		t.Fatalf("tags changed: %v", updated.Tags)
	}
	if updated.ProjectID != "p1" {
		t.Fatalf("project id changed: %s", updated.ProjectID)
	}

	bad := tasks.Status("doing")
	if _, err := mgr.Update(ctx, task.ID, tasks.Patch{Status: &bad}); err == nil {
		t.Fatalf("expected error for invalid status")
	}
	if _, err := mgr.Update(ctx, "nope", tasks.Patch{Status: &status}); !errors.Is(err, tasks.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	db, closeFn := testutil.OpenTestDB(t)
	defer closeFn()

	mgr := tasks.NewManager(db, nil)
	ctx := context.Background()

	task, err := mgr.Create(ctx, tasks.Spec{Title: "Temp", ProjectID: "p1"})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if err := mgr.Delete(ctx, task.ID); err != nil {
		t.Fatalf("delete task: %v", err)
	}
	if _, err := mgr.Get(ctx, task.ID); !errors.Is(err, tasks.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := mgr.Delete(ctx, task.ID); !errors.Is(err, tasks.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}
