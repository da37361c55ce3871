package scheduler

import (
	"context"
	"testing"

	"github.com/boardflow/orchestrator/internal/adapters"
)

type fakeCodeHost struct {
	branches map[string]bool
	openPRs  map[string]*adapters.PullRequest
	merged   []int
	commits  int
}

func newFakeCodeHost() *fakeCodeHost {
	return &fakeCodeHost{branches: map[string]bool{}, openPRs: map[string]*adapters.PullRequest{}}
}

func (f *fakeCodeHost) EnsureBranch(_ context.Context, _, _, branch string) error {
	f.branches[branch] = true
	return nil
}

func (f *fakeCodeHost) CommitAndPush(_ context.Context, _, _, _ string, _ map[string][]byte) (string, error) {
	f.commits++
	return "sha-1", nil
}

func (f *fakeCodeHost) FindOpenPullRequest(_ context.Context, _, branch string) (*adapters.PullRequest, error) {
	return f.openPRs[branch], nil
}

func (f *fakeCodeHost) OpenPullRequest(_ context.Context, _, _, branch, _, _ string) (*adapters.PullRequest, error) {
	pr := &adapters.PullRequest{Number: 1, URL: "https://host/pr/1", State: "open", Branch: branch}
	f.openPRs[branch] = pr
	return pr, nil
}

func (f *fakeCodeHost) MergePullRequest(_ context.Context, _ string, prNumber int) error {
	f.merged = append(f.merged, prNumber)
	return nil
}

func (f *fakeCodeHost) PostComment(_ context.Context, _ string, _ int, _ string) error { return nil }

type fakeLLM struct {
	completeResponses []string
	completeIdx       int
	jsonResponses     []map[string]any
	jsonIdx           int
}

func (f *fakeLLM) Complete(_ context.Context, _, _ string) (string, error) {
	if f.completeIdx >= len(f.completeResponses) {
		return "done", nil
	}
	r := f.completeResponses[f.completeIdx]
	f.completeIdx++
	return r, nil
}

func (f *fakeLLM) CompleteJSON(_ context.Context, _, _, _ string, _ map[string]any) (map[string]any, error) {
	if f.jsonIdx >= len(f.jsonResponses) {
		return map[string]any{"passed": true, "detail": "ok"}, nil
	}
	r := f.jsonResponses[f.jsonIdx]
	f.jsonIdx++
	return r, nil
}

func baseRunState() *RunState {
	st := &RunState{}
	st.ensure()
	st.Meta["repo_url"] = "org/repo"
	st.Meta["base_branch"] = "main"
	st.Meta["external_item_id"] = "item-42"
	st.Meta["task_description"] = "add a readiness probe"
	return st
}

func TestPrepareStageEnsuresBranch(t *testing.T) {
	ch := newFakeCodeHost()
	stage := prepareStage(StageDeps{CodeHost: ch, LLM: &fakeLLM{}})
	ctx, _ := newTestContext(t)
	out, err := stage.Run(ctx, baseRunState())
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	branch := out["branch"].(string)
	if !ch.branches[branch] {
		t.Fatalf("expected branch %q to be ensured", branch)
	}
}

func TestTestStageLoopsIntoDebugThenSucceeds(t *testing.T) {
	ch := newFakeCodeHost()
	llm := &fakeLLM{
		jsonResponses: []map[string]any{
			{"passed": false, "detail": "assertion failed"},
			{"passed": true, "detail": "all green"},
		},
		completeResponses: []string{"fixed diff"},
	}
	stage := testStage(StageDeps{CodeHost: ch, LLM: llm, MaxDebug: 3})
	ctx, _ := newTestContext(t)
	st := baseRunState()
	st.EnsureStage("prepare").Outputs["branch"] = "boardflow/item-42"
	st.EnsureStage("implement").Outputs["diff"] = "original diff"

	out, err := stage.Run(ctx, st)
	if err != nil {
		t.Fatalf("test stage: %v", err)
	}
	if out["passed"] != true {
		t.Fatalf("expected eventual pass, got %#v", out)
	}
	if out["attempts"].(int) != 1 {
		t.Fatalf("expected exactly one debug attempt, got %v", out["attempts"])
	}
	if ch.commits != 1 {
		t.Fatalf("expected one debug commit, got %d", ch.commits)
	}
}

func TestTestStageCarriesFailureMarkerOnExhaustion(t *testing.T) {
	ch := newFakeCodeHost()
	llm := &fakeLLM{
		jsonResponses: []map[string]any{
			{"passed": false, "detail": "fail 1"},
			{"passed": false, "detail": "fail 2"},
		},
		completeResponses: []string{"attempt 1", "attempt 2"},
	}
	stage := testStage(StageDeps{CodeHost: ch, LLM: llm, MaxDebug: 1})
	ctx, _ := newTestContext(t)
	st := baseRunState()
	st.EnsureStage("prepare").Outputs["branch"] = "boardflow/item-42"
	st.EnsureStage("implement").Outputs["diff"] = "original diff"

	out, err := stage.Run(ctx, st)
	if err != nil {
		t.Fatalf("test stage: %v", err)
	}
	if out["passed"] != false {
		t.Fatalf("expected exhausted debug loop to carry passed=false, got %#v", out)
	}
	if out["failure_marker"] != true {
		t.Fatalf("expected failure marker set")
	}
}

func TestHumanValidationStageSuspendsThenSkipsOnceResolved(t *testing.T) {
	stage := humanValidationStage(StageDeps{})
	ctx, _ := newTestContext(t)
	st := baseRunState()

	_, err := stage.Run(ctx, st)
	if err != ErrSuspendForValidation {
		t.Fatalf("expected suspend sentinel, got %v", err)
	}

	st.Meta["validation_verdict"] = "approve"
	done, err := stage.IsDone(ctx, st)
	if err != nil {
		t.Fatalf("is done: %v", err)
	}
	if !done {
		t.Fatalf("expected stage to report done once a verdict is recorded")
	}
}

func TestMergeStageMergesRecordedPullRequest(t *testing.T) {
	ch := newFakeCodeHost()
	stage := mergeStage(StageDeps{CodeHost: ch})
	ctx, _ := newTestContext(t)
	st := baseRunState()
	st.EnsureStage("finalize_pr").Outputs["pr_number"] = 7

	if _, err := stage.Run(ctx, st); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(ch.merged) != 1 || ch.merged[0] != 7 {
		t.Fatalf("expected PR 7 merged, got %v", ch.merged)
	}
}
