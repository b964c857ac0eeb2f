package engine_test

import (
	"errors"
	"testing"

	"archon/internal/domain"
	"archon/internal/engine"
)

func mkTask(id string, deps ...string) domain.Task {
	return domain.Task{ID: id, DependsOn: deps, ParallelGroup: -1}
}

func levelOf(t *testing.T, tasks []domain.Task, id string) int {
	t.Helper()
	for _, task := range tasks {
		if task.ID == id {
			return task.ParallelGroup
		}
	}
	t.Fatalf("task %s not in result", id)
	return -1
}

func TestResolveLevelsChain(t *testing.T) {
	out, err := engine.ResolveLevels([]domain.Task{
		mkTask("a"),
		mkTask("b", "a"),
		mkTask("c", "b"),
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if levelOf(t, out, "a") != 0 || levelOf(t, out, "b") != 1 || levelOf(t, out, "c") != 2 {
		t.Fatalf("chain levels wrong: %+v", out)
	}
}

func TestResolveLevelsDiamond(t *testing.T) {
	out, err := engine.ResolveLevels([]domain.Task{
		mkTask("a"),
		mkTask("b", "a"),
		mkTask("c", "a"),
		mkTask("d", "b", "c"),
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if levelOf(t, out, "a") != 0 {
		t.Fatal("root not at level 0")
	}
	if levelOf(t, out, "b") != 1 || levelOf(t, out, "c") != 1 {
		t.Fatal("middle of diamond should share level 1")
	}
	if levelOf(t, out, "d") != 2 {
		t.Fatal("join not at level 2")
	}
}

func TestResolveLevelsIgnoresExternalDeps(t *testing.T) {
	out, err := engine.ResolveLevels([]domain.Task{
		mkTask("a", "task_from_tier_one"),
		mkTask("b", "a", "another_external"),
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if levelOf(t, out, "a") != 0 || levelOf(t, out, "b") != 1 {
		t.Fatalf("external deps must not constrain leveling: %+v", out)
	}
	// external ids stay on the task verbatim
	if len(out[0].DependsOn) != 1 || out[0].DependsOn[0] != "task_from_tier_one" {
		t.Fatalf("deps rewritten: %+v", out[0].DependsOn)
	}
}

func TestResolveLevelsOrdersOutputByLevel(t *testing.T) {
	// Input deliberately interleaves levels; the result must come back
	// level 0 first, then level 1, preserving input order inside each.
	out, err := engine.ResolveLevels([]domain.Task{
		mkTask("d", "b", "c"),
		mkTask("a"),
		mkTask("b", "a"),
		mkTask("e"),
		mkTask("c", "a"),
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	var ids []string
	for _, task := range out {
		ids = append(ids, task.ID)
	}
	want := []string{"a", "e", "b", "c", "d"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("output order = %v, want %v", ids, want)
		}
	}
	for i := 1; i < len(out); i++ {
		if out[i].ParallelGroup < out[i-1].ParallelGroup {
			t.Fatalf("levels out of order: %+v", out)
		}
	}
}

func TestResolveLevelsCycle(t *testing.T) {
	_, err := engine.ResolveLevels([]domain.Task{
		mkTask("a", "c"),
		mkTask("b", "a"),
		mkTask("c", "b"),
	})
	var cyc engine.CyclicDependencyError
	if !errors.As(err, &cyc) {
		t.Fatalf("expected CyclicDependencyError, got %v", err)
	}
	if cyc.Processed != 0 || cyc.Total != 3 {
		t.Fatalf("cycle report = %+v", cyc)
	}
	if err.Error() != "cyclic dependency detected: processed 0 of 3 tasks" {
		t.Fatalf("message = %q", err.Error())
	}
}

func TestResolveLevelsPartialCycle(t *testing.T) {
	_, err := engine.ResolveLevels([]domain.Task{
		mkTask("a"),
		mkTask("b", "c"),
		mkTask("c", "b"),
	})
	var cyc engine.CyclicDependencyError
	if !errors.As(err, &cyc) {
		t.Fatalf("expected CyclicDependencyError, got %v", err)
	}
	if cyc.Processed != 1 || cyc.Total != 3 {
		t.Fatalf("cycle report = %+v", cyc)
	}
}

func TestResolveLevelsSelfCycle(t *testing.T) {
	_, err := engine.ResolveLevels([]domain.Task{mkTask("a", "a")})
	var cyc engine.CyclicDependencyError
	if !errors.As(err, &cyc) {
		t.Fatalf("expected CyclicDependencyError, got %v", err)
	}
}

func TestGroupByLevel(t *testing.T) {
	tasks := []domain.Task{
		{ID: "a", ParallelGroup: 0},
		{ID: "b", ParallelGroup: 2},
		{ID: "c", ParallelGroup: 0},
		{ID: "d", ParallelGroup: 2},
	}
	groups := engine.GroupByLevel(tasks)
	if len(groups) != 2 {
		t.Fatalf("groups = %d, want 2 (empty levels skipped)", len(groups))
	}
	if len(groups[0]) != 2 || groups[0][0].ID != "a" || groups[0][1].ID != "c" {
		t.Fatalf("group 0 = %+v", groups[0])
	}
	if len(groups[1]) != 2 || groups[1][0].ID != "b" {
		t.Fatalf("group 1 = %+v", groups[1])
	}
	if engine.GroupByLevel(nil) != nil {
		t.Fatal("empty input should return nil")
	}
}
