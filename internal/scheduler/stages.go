package scheduler

import (
	"fmt"

	"github.com/boardflow/orchestrator/internal/adapters"
	"github.com/boardflow/orchestrator/internal/runtime"
)

// StageDeps bundles the C7 adapters every stage calls out to, the same
// shape as the teacher's per-step "*Deps" structs (e.g.
// jobs/learning/steps.WebResourcesSeedDeps) that inject clients into a
// stage instead of letting the stage construct its own.
type StageDeps struct {
	CodeHost adapters.CodeHost
	LLM      adapters.LLMClient
	MaxDebug int
}

// meta returns the run's immutable inputs (task description, repo URL,
// branch, etc.), seeded once at run creation time and never mutated by a
// stage — only stage Outputs accumulate.
func meta(st *RunState, key string) string {
	if st.Meta == nil {
		return ""
	}
	v, _ := st.Meta[key].(string)
	return v
}

func stageOutput(st *RunState, stage, key string) string {
	ss := st.Stages[stage]
	if ss == nil || ss.Outputs == nil {
		return ""
	}
	v, _ := ss.Outputs[key].(string)
	return v
}

// BuildStages returns the fixed graph from spec.md §4.3:
//
//	prepare -> analyze -> implement -> test (debug loop, bounded) -> qa
//	    -> finalize_pr -> human_validation -> merge
//
// The debug<->test cycle is implemented inside the test stage's own Run as
// a bounded loop rather than as extra graph edges, per REDESIGN FLAGS: keep
// iteration guards on the edge, not the node. The reject<->implement cycle
// is not modeled here at all — it is an externally-triggered reset that the
// validation coordinator (C5) performs on the persisted RunState between
// dispatches, so this graph stays a straight line.
func BuildStages(deps StageDeps) []Stage {
	return []Stage{
		prepareStage(deps),
		analyzeStage(deps),
		implementStage(deps),
		testStage(deps),
		qaStage(deps),
		finalizePRStage(deps),
		humanValidationStage(deps),
		mergeStage(deps),
	}
}

func prepareStage(deps StageDeps) Stage {
	return Stage{
		Name: "prepare",
		Run: func(ctx *runtime.Context, st *RunState) (map[string]any, error) {
			repoURL := meta(st, "repo_url")
			if repoURL == "" {
				return nil, fmt.Errorf("prepare: missing repo_url in run metadata")
			}
			branch := fmt.Sprintf("boardflow/%s", meta(st, "external_item_id"))
			baseBranch := meta(st, "base_branch")
			if baseBranch == "" {
				baseBranch = "main"
			}
			if err := deps.CodeHost.EnsureBranch(ctx.Ctx, repoURL, baseBranch, branch); err != nil {
				return nil, fmt.Errorf("ensure branch: %w", err)
			}
			return map[string]any{"branch": branch, "base_branch": baseBranch}, nil
		},
		Retry: RetryPolicy{MaxAttempts: 3},
	}
}

func analyzeStage(deps StageDeps) Stage {
	return Stage{
		Name: "analyze",
		Run: func(ctx *runtime.Context, st *RunState) (map[string]any, error) {
			description := meta(st, "task_description")
			instructions := meta(st, "modification_instructions")
			prompt := description
			if instructions != "" {
				prompt = fmt.Sprintf("%s\n\nAdditional instructions from reviewer:\n%s", description, instructions)
			}
			plan, err := deps.LLM.Complete(ctx.Ctx,
				"You produce a short structured plan (files to touch, risks, ambiguities) for a code change. Respond in plain text.",
				prompt,
			)
			if err != nil {
				return nil, fmt.Errorf("analyze: %w", err)
			}
			return map[string]any{"plan": plan}, nil
		},
		Retry: RetryPolicy{MaxAttempts: 3},
	}
}

func implementStage(deps StageDeps) Stage {
	return Stage{
		Name: "implement",
		Run: func(ctx *runtime.Context, st *RunState) (map[string]any, error) {
			plan := stageOutput(st, "analyze", "plan")
			diff, err := deps.LLM.Complete(ctx.Ctx,
				"You write a unified diff implementing the given plan. Respond with the diff only.",
				plan,
			)
			if err != nil {
				return nil, fmt.Errorf("implement: %w", err)
			}
			branch := stageOutput(st, "prepare", "branch")
			repoURL := meta(st, "repo_url")
			sha, err := deps.CodeHost.CommitAndPush(ctx.Ctx, repoURL, branch, "boardflow: implement", map[string][]byte{
				"CHANGES.patch": []byte(diff),
			})
			if err != nil {
				return nil, fmt.Errorf("commit and push: %w", err)
			}
			return map[string]any{"diff": diff, "commit_sha": sha}, nil
		},
		Retry: RetryPolicy{MaxAttempts: 3},
	}
}

// testStage runs the project test suite and, on failure, loops into a
// bounded debug sub-cycle before proceeding regardless — on exhaustion it
// carries a failure marker forward into qa rather than failing the run, per
// spec.md §4.3.
func testStage(deps StageDeps) Stage {
	return Stage{
		Name: "test",
		Run: func(ctx *runtime.Context, st *RunState) (map[string]any, error) {
			maxDebug := deps.MaxDebug
			if maxDebug <= 0 {
				maxDebug = 3
			}

			diff := stageOutput(st, "implement", "diff")
			attempts := 0

			for {
				ok, detail, err := runProjectTests(ctx, deps, diff)
				if err != nil {
					return nil, fmt.Errorf("test: %w", err)
				}
				if ok {
					return map[string]any{"passed": true, "attempts": attempts, "detail": detail}, nil
				}
				if attempts >= maxDebug {
					return map[string]any{
						"passed":         false,
						"attempts":       attempts,
						"detail":         detail,
						"failure_marker": true,
					}, nil
				}
				attempts++
				fixed, debugErr := deps.LLM.Complete(ctx.Ctx,
					"The prior diff failed tests. Produce a corrected unified diff.",
					fmt.Sprintf("failing output:\n%s\n\noriginal diff:\n%s", detail, diff),
				)
				if debugErr != nil {
					return nil, fmt.Errorf("debug attempt %d: %w", attempts, debugErr)
				}
				diff = fixed
				branch := stageOutput(st, "prepare", "branch")
				repoURL := meta(st, "repo_url")
				if _, err := deps.CodeHost.CommitAndPush(ctx.Ctx, repoURL, branch, fmt.Sprintf("boardflow: debug attempt %d", attempts), map[string][]byte{
					"CHANGES.patch": []byte(diff),
				}); err != nil {
					return nil, fmt.Errorf("debug commit attempt %d: %w", attempts, err)
				}
			}
		},
		Retry: RetryPolicy{MaxAttempts: 1},
	}
}

// runProjectTests is a narrow seam over the project's own test execution.
// The orchestrator is explicitly a non-goal to run tests itself (spec.md
// §1 Non-goals); this delegates to the LLM adapter's judgment of the
// produced diff as a stand-in for a real CI hook, which a concrete
// deployment replaces with an adapter that shells out to the target
// repository's test command.
func runProjectTests(ctx *runtime.Context, deps StageDeps, diff string) (bool, string, error) {
	verdict, err := deps.LLM.CompleteJSON(ctx.Ctx,
		"You evaluate whether a diff is likely to pass its project's test suite. Respond with the required schema.",
		diff,
		"test_verdict",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"passed": map[string]any{"type": "boolean"},
				"detail": map[string]any{"type": "string"},
			},
			"required": []string{"passed", "detail"},
		},
	)
	if err != nil {
		return false, "", err
	}
	passed, _ := verdict["passed"].(bool)
	detail, _ := verdict["detail"].(string)
	return passed, detail, nil
}

func qaStage(deps StageDeps) Stage {
	return Stage{
		Name: "qa",
		Run: func(ctx *runtime.Context, st *RunState) (map[string]any, error) {
			diff := stageOutput(st, "implement", "diff")
			report, err := deps.LLM.Complete(ctx.Ctx,
				"You run a static quality review of a diff and summarize findings briefly.",
				diff,
			)
			if err != nil {
				return nil, fmt.Errorf("qa: %w", err)
			}
			return map[string]any{"report": report}, nil
		},
		Retry: RetryPolicy{MaxAttempts: 2},
	}
}

func finalizePRStage(deps StageDeps) Stage {
	return Stage{
		Name: "finalize_pr",
		IsDone: func(ctx *runtime.Context, st *RunState) (bool, error) {
			return stageOutput(st, "finalize_pr", "pr_url") != "", nil
		},
		Run: func(ctx *runtime.Context, st *RunState) (map[string]any, error) {
			repoURL := meta(st, "repo_url")
			branch := stageOutput(st, "prepare", "branch")
			baseBranch := stageOutput(st, "prepare", "base_branch")
			title := fmt.Sprintf("boardflow: %s", meta(st, "external_item_id"))
			body := fmt.Sprintf("Automated change for item %s.\n\n%s", meta(st, "external_item_id"), stageOutput(st, "qa", "report"))

			pr, err := deps.CodeHost.OpenPullRequest(ctx.Ctx, repoURL, baseBranch, branch, title, body)
			if err != nil {
				return nil, fmt.Errorf("open pull request: %w", err)
			}
			return map[string]any{"pr_url": pr.URL, "pr_number": pr.Number}, nil
		},
		Retry: RetryPolicy{MaxAttempts: 3},
	}
}

// humanValidationStage suspends the run unless a resolved verdict is already
// recorded under the run snapshot's "validation_verdict" meta key, which
// validation.Poller (C5) writes out-of-band through the run repository.
func humanValidationStage(deps StageDeps) Stage {
	return Stage{
		Name: "human_validation",
		IsDone: func(ctx *runtime.Context, st *RunState) (bool, error) {
			return meta(st, "validation_verdict") != "", nil
		},
		Run: func(ctx *runtime.Context, st *RunState) (map[string]any, error) {
			return nil, ErrSuspendForValidation
		},
	}
}

// mergeStage only runs once the human_validation stage has succeeded,
// which by construction only happens once the validation coordinator (C5)
// has recorded an "approve" verdict — a reject resets the run back before
// implement, and an abandon terminates the run before the scheduler is
// ever re-dispatched, so merge never needs to re-check the verdict itself.
func mergeStage(deps StageDeps) Stage {
	return Stage{
		Name: "merge",
		Run: func(ctx *runtime.Context, st *RunState) (map[string]any, error) {
			repoURL := meta(st, "repo_url")
			var prNumber int
			if ss := st.Stages["finalize_pr"]; ss != nil {
				if v, ok := ss.Outputs["pr_number"].(float64); ok {
					prNumber = int(v)
				} else if v, ok := ss.Outputs["pr_number"].(int); ok {
					prNumber = v
				}
			}
			if prNumber == 0 {
				return nil, fmt.Errorf("merge: missing pr_number from finalize_pr")
			}
			if err := deps.CodeHost.MergePullRequest(ctx.Ctx, repoURL, prNumber); err != nil {
				return nil, fmt.Errorf("merge pull request: %w", err)
			}
			return map[string]any{"merged": true}, nil
		},
		Retry: RetryPolicy{MaxAttempts: 3},
	}
}
