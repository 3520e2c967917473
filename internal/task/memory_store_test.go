package task

import (
	"context"
	"errors"
	"testing"
	"time"

	"text-pipeline/internal/component"
)

func sampleResult() Result {
	return Result{
		Report: &component.Result[string]{
			Type:    component.TypeReport,
			Content: "报告正文",
			Status:  component.StatusSuccess,
			Summary: "报告生成完成",
		},
		DurationMillis: 12,
	}
}

func TestMemoryStoreListWithFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().Add(-2 * time.Minute)

	tasks := []*Task{
		{ID: "t1", Content: "社会惰化理论", Mode: "serial", Status: StatusPending, MaxRetries: 3},
		{ID: "t2", Content: "表格数据", Mode: "parallel", Status: StatusPending, MaxRetries: 3},
		{ID: "t3", Content: "完整样例", Mode: "parallel", Status: StatusPending, MaxRetries: 3},
	}
	for _, task := range tasks {
		if err := store.Create(ctx, task); err != nil {
			t.Fatalf("create task %s: %v", task.ID, err)
		}
	}

	if err := store.MarkFailed(ctx, "t2", CodeTaskProcessing, "upstream boom", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "t3", sampleResult()); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	store.mu.Lock()
	store.tasks["t1"].UpdatedAt = base.Unix()
	store.tasks["t2"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.tasks["t3"].UpdatedAt = base.Add(60 * time.Second).Unix()
	store.mu.Unlock()

	all, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 || all[0].ID != "t3" {
		t.Fatalf("expected newest task first, got %+v", all)
	}

	asc, err := store.List(ctx, buildListOptions([]ListOption{WithSortOrder(SortByUpdatedAsc), WithLimit(1)}))
	if err != nil {
		t.Fatalf("list asc: %v", err)
	}
	if len(asc) != 1 || asc[0].ID != "t1" {
		t.Fatalf("unexpected ascending page: %+v", asc)
	}

	failed, err := store.List(ctx, buildListOptions([]ListOption{WithStatuses(StatusFailed, "bogus")}))
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != "t2" || failed[0].ErrorCode != string(CodeTaskProcessing) {
		t.Fatalf("unexpected failed list: %+v", failed)
	}

	withResult, err := store.List(ctx, buildListOptions([]ListOption{WithResultPresence(true)}))
	if err != nil {
		t.Fatalf("list with result: %v", err)
	}
	if len(withResult) != 1 || withResult[0].Result.Report.Content != "报告正文" {
		t.Fatalf("unexpected result list: %+v", withResult)
	}

	serial, err := store.List(ctx, buildListOptions([]ListOption{WithModes(" SERIAL ")}))
	if err != nil {
		t.Fatalf("list serial: %v", err)
	}
	if len(serial) != 1 || serial[0].ID != "t1" {
		t.Fatalf("unexpected mode filter: %+v", serial)
	}

	queried, err := store.List(ctx, buildListOptions([]ListOption{WithQuery("BOOM")}))
	if err != nil {
		t.Fatalf("list query: %v", err)
	}
	if len(queried) != 1 || queried[0].ID != "t2" {
		t.Fatalf("unexpected query result: %+v", queried)
	}

	recent, err := store.List(ctx, buildListOptions([]ListOption{WithUpdatedSince(base.Add(15 * time.Second))}))
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 tasks to match since filter, got %d", len(recent))
	}
}

func TestMemoryStoreStats(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().Add(-3 * time.Minute)
	for _, id := range []string{"a", "b", "c"} {
		if err := store.Create(ctx, &Task{ID: id, Status: StatusPending, MaxRetries: 3}); err != nil {
			t.Fatalf("create task %s: %v", id, err)
		}
	}
	if err := store.MarkFailed(ctx, "b", CodeTaskProcessing, "boom", true); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "c", sampleResult()); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	store.mu.Lock()
	store.tasks["a"].UpdatedAt = base.Unix()
	store.tasks["b"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.tasks["c"].UpdatedAt = base.Add(2 * time.Minute).Unix()
	store.mu.Unlock()

	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Pending != 1 || stats.Failed != 1 || stats.Succeeded != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.NewestUpdatedAt != base.Add(2*time.Minute).Unix() || stats.OldestUpdatedAt != base.Unix() {
		t.Fatalf("unexpected timestamps: %+v", stats)
	}

	withoutResults, err := store.Stats(ctx, buildListOptions([]ListOption{WithResultPresence(false)}))
	if err != nil {
		t.Fatalf("stats without result: %v", err)
	}
	if withoutResults.Total != 2 || withoutResults.Pending != 1 || withoutResults.Failed != 1 {
		t.Fatalf("unexpected stats without result: %+v", withoutResults)
	}
}

func TestMemoryStoreLifecycle(t *testing.T) {
	runStoreLifecycle(t, NewMemoryStore())
}

// runStoreLifecycle 覆盖所有 Store 实现共同的状态流转。
func runStoreLifecycle(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	if err := store.Create(ctx, &Task{ID: "job", Content: "正文", Mode: "serial", Metadata: map[string]any{"source": "test"}, Status: StatusPending, MaxRetries: 2}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, &Task{ID: "job", Status: StatusPending, MaxRetries: 2}); !IsTaskError(err, CodeTaskConflict) {
		t.Fatalf("expected conflict on duplicate id, got %v", err)
	}
	if err := store.Create(ctx, &Task{ID: "", MaxRetries: 1}); err == nil {
		t.Fatalf("expected validation error for empty id")
	}
	if _, err := store.Get(ctx, "missing"); !IsTaskError(err, CodeTaskNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	claimed, err := store.Claim(ctx, "job")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != StatusRunning || claimed.Attempts != 1 {
		t.Fatalf("unexpected claimed task: %+v", claimed)
	}
	if claimed.Metadata["source"] != "test" {
		t.Fatalf("metadata lost: %+v", claimed.Metadata)
	}
	if _, err := store.Claim(ctx, "job"); !IsTaskError(err, CodeTaskConflict) {
		t.Fatalf("expected conflict while running, got %v", err)
	}

	if err := store.MarkFailed(ctx, "job", CodeTaskProcessing, "retry me", false); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	pending, err := store.Get(ctx, "job")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if pending.Status != StatusPending || pending.LastError != "retry me" {
		t.Fatalf("non-terminal failure should return to pending: %+v", pending)
	}

	if _, err := store.Claim(ctx, "job"); err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "job", sampleResult()); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}
	done, err := store.Get(ctx, "job")
	if err != nil {
		t.Fatalf("get done: %v", err)
	}
	if done.Status != StatusSucceeded || done.Attempts != 2 || done.LastError != "" || done.ErrorCode != "" {
		t.Fatalf("unexpected succeeded task: %+v", done)
	}
	if done.Result == nil || done.Result.Report == nil || done.Result.Report.Summary != "报告生成完成" {
		t.Fatalf("result not persisted: %+v", done.Result)
	}
	if _, err := store.Claim(ctx, "job"); !IsTaskError(err, CodeTaskCompleted) {
		t.Fatalf("expected completed error, got %v", err)
	}

	if err := store.Create(ctx, &Task{ID: "once", Status: StatusPending, MaxRetries: 1}); err != nil {
		t.Fatalf("create once: %v", err)
	}
	if _, err := store.Claim(ctx, "once"); err != nil {
		t.Fatalf("claim once: %v", err)
	}
	if err := store.MarkFailed(ctx, "once", CodeTaskProcessing, "still failing", false); err != nil {
		t.Fatalf("mark once failed: %v", err)
	}
	if _, err := store.Claim(ctx, "once"); !IsTaskError(err, CodeTaskExhausted) {
		t.Fatalf("expected exhausted error, got %v", err)
	}
	if err := store.MarkFailed(ctx, "missing", CodeTaskProcessing, "x", true); !IsTaskError(err, CodeTaskNotFound) {
		t.Fatalf("expected not found when marking missing task, got %v", err)
	}

	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 2 || stats.Succeeded != 1 || stats.Pending != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

// runStoreRelease 检查被中断的任务回到 pending 且不消耗重试次数。
func runStoreRelease(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	if err := store.Create(ctx, &Task{ID: "r1", Content: "x", Status: StatusPending, MaxRetries: 1}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Release(ctx, "r1"); !errors.Is(err, ErrTaskConflict) {
		t.Fatalf("releasing a pending task should conflict: %v", err)
	}
	if _, err := store.Claim(ctx, "r1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.Release(ctx, "r1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	task, err := store.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if task.Status != StatusPending || task.Attempts != 0 {
		t.Fatalf("unexpected task after release: %+v", task)
	}
	// MaxRetries 为 1，退还次数后仍可再次领取。
	if _, err := store.Claim(ctx, "r1"); err != nil {
		t.Fatalf("claim after release: %v", err)
	}
	if err := store.Release(ctx, "missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreRelease(t *testing.T) {
	runStoreRelease(t, NewMemoryStore())
}
