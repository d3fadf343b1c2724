package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"deskmate/internal/llm"
	"deskmate/internal/logging"
)

// Verdict is what a review round concludes.
type Verdict struct {
	Passed      bool
	NeedReplan  bool
	FinalAnswer string
}

// Reviewer judges the executed plan and, when the turn ends here, streams
// the final answer. It never re-invokes skills.
type Reviewer struct {
	llm    llm.Client
	logger logging.Logger
}

func NewReviewer(client llm.Client) *Reviewer {
	return &Reviewer{llm: client, logger: logging.NewComponentLogger("reviewer")}
}

// Review applies the decision table and annotates the plan in place:
// per-step check marks, review_passed, and on failure error/is_back.
// onProgress receives the verdict summary; onFinal receives final-answer
// chunks as they stream.
func (r *Reviewer) Review(ctx context.Context, plan *Plan, question string, round, maxRounds int,
	onProgress, onFinal func(string)) Verdict {
	if onProgress == nil {
		onProgress = func(string) {}
	}
	if onFinal == nil {
		onFinal = func(string) {}
	}

	r.checkSteps(plan)
	r.emitVerdict(plan, onProgress)

	passed := true
	if plan.IsSkills {
		passed = plan.AllStepsPassed()
	}
	plan.ReviewPassed = &passed

	switch {
	case !plan.IsSkills:
		onProgress("审查通过。\n")
		return Verdict{Passed: true, FinalAnswer: r.streamDirectAnswer(ctx, plan, question, onFinal)}

	case passed:
		onProgress("审查通过。\n")
		return Verdict{Passed: true, FinalAnswer: r.streamSuccessSummary(ctx, plan, question, onFinal)}

	case round < maxRounds:
		onProgress("审查未通过，准备重新规划。\n")
		plan.IsBack = true
		plan.Error = r.buildErrorReport(ctx, plan, question)
		return Verdict{Passed: false, NeedReplan: true}

	default:
		// Last round: the failure FINAL doubles as the error report, so
		// the separate report call is skipped.
		onProgress("审查未通过，已达最大轮次。\n")
		plan.IsBack = true
		plan.Error = failedStepSummary(plan)
		return Verdict{Passed: false, FinalAnswer: r.streamFailureAnswer(ctx, plan, question, onFinal)}
	}
}

// checkSteps copies each step's execution outcome into its check mark.
func (r *Reviewer) checkSteps(plan *Plan) {
	for _, step := range plan.ExcutePlan {
		passed := step.StepResults != nil && step.StepResults.Success
		step.Check = &passed
	}
}

// emitVerdict pretty-prints the per-step verdicts for operator visibility.
func (r *Reviewer) emitVerdict(plan *Plan, onProgress func(string)) {
	if len(plan.ExcutePlan) == 0 {
		return
	}
	type verdictLine struct {
		Step    int    `json:"step"`
		Desc    string `json:"desc"`
		Check   bool   `json:"check"`
		Message string `json:"message,omitempty"`
	}
	lines := make([]verdictLine, 0, len(plan.ExcutePlan))
	for _, step := range plan.ExcutePlan {
		line := verdictLine{Step: step.Step, Desc: step.Desc, Check: step.Check != nil && *step.Check}
		if step.StepResults != nil {
			line.Message = step.StepResults.Message
		}
		lines = append(lines, line)
	}
	data, err := json.MarshalIndent(lines, "", "  ")
	if err != nil {
		return
	}
	onProgress(string(data) + "\n")
}

func failedStepSummary(plan *Plan) string {
	var parts []string
	for _, step := range plan.ExcutePlan {
		if step.StepResults != nil && !step.StepResults.Success {
			parts = append(parts, fmt.Sprintf("步骤%d（%s）失败：%s", step.Step, step.Desc, step.StepResults.Message))
		}
	}
	return strings.Join(parts, "；")
}

// buildErrorReport asks the LLM for a user-facing description of what went
// wrong, feeding the next planning round.
func (r *Reviewer) buildErrorReport(ctx context.Context, plan *Plan, question string) string {
	resp, err := r.llm.Complete(ctx, llm.Request{Messages: []llm.Message{
		{Role: "system", Content: "用一两句中文总结以下任务执行失败的原因，供下一轮规划参考。只输出总结本身。"},
		{Role: "user", Content: fmt.Sprintf("用户请求：%s\n失败详情：%s", question, failedStepSummary(plan))},
	}})
	if err != nil {
		r.logger.Warn("error report call failed, using raw summary: %v", err)
		return failedStepSummary(plan)
	}
	return strings.TrimSpace(resp.Content)
}

func (r *Reviewer) streamAnswer(ctx context.Context, system, user string, onFinal func(string)) string {
	resp, err := r.llm.StreamComplete(ctx, llm.Request{Messages: []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}}, llm.StreamCallbacks{
		OnContentDelta: func(delta llm.ContentDelta) {
			if !delta.Final && delta.Delta != "" {
				onFinal(delta.Delta)
			}
		},
	})
	if err != nil {
		r.logger.Error("final answer stream failed: %v", err)
		fallback := "抱歉，生成回答时出现了问题，请稍后再试。"
		onFinal(fallback)
		return fallback
	}
	return resp.Content
}

func (r *Reviewer) streamDirectAnswer(ctx context.Context, plan *Plan, question string, onFinal func(string)) string {
	return r.streamAnswer(ctx,
		"你是一个桌面助手。根据思考内容，用自然流畅的中文直接回答用户的问题。不要输出 JSON。",
		fmt.Sprintf("用户问题：%s\n思考内容：%s", question, plan.Thinking),
		onFinal)
}

func (r *Reviewer) streamSuccessSummary(ctx context.Context, plan *Plan, question string, onFinal func(string)) string {
	trace, _ := json.Marshal(planTrace(plan))
	return r.streamAnswer(ctx,
		"你是一个桌面助手。任务已全部执行成功，请用自然的中文向用户总结完成了什么。不要输出 JSON。",
		fmt.Sprintf("用户请求：%s\n执行记录：%s", question, trace),
		onFinal)
}

func (r *Reviewer) streamFailureAnswer(ctx context.Context, plan *Plan, question string, onFinal func(string)) string {
	return r.streamAnswer(ctx,
		"你是一个桌面助手。任务多次尝试后仍有步骤失败，请用简洁的中文向用户致歉，说明失败原因并给出建议。不要输出 JSON。",
		fmt.Sprintf("用户请求：%s\n失败详情：%s", question, plan.Error),
		onFinal)
}

func planTrace(plan *Plan) []map[string]any {
	out := make([]map[string]any, 0, len(plan.ExcutePlan))
	for _, step := range plan.ExcutePlan {
		entry := map[string]any{"step": step.Step, "desc": step.Desc, "skill": step.Skill.Name}
		if step.StepResults != nil {
			entry["message"] = step.StepResults.Message
		}
		out = append(out, entry)
	}
	return out
}
