// Package agent implements the plan/execute/review loop that turns a user
// utterance into skill invocations and a final streamed answer.
package agent

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// SkillCall names a registered skill with an argument sketch. The executor
// rewrites the arguments per invocation; the sketch is what the planner
// declared.
type SkillCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// StepResult is what execution wrote back onto a step.
type StepResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data"`
	Error   string `json:"error,omitempty"`
}

// Step is one entry of a plan. Step numbers are 1-based and strictly
// increasing after normalization.
type Step struct {
	Step        int         `json:"step"`
	Desc        string      `json:"desc"`
	Skill       SkillCall   `json:"skill"`
	StepResults *StepResult `json:"step_results,omitempty"`
	Check       *bool       `json:"check,omitempty"`
}

// Plan is the typed execution plan the planner produces and the executor
// and reviewer mutate in place.
type Plan struct {
	IsSkills     bool     `json:"is_skills"`
	Description  []string `json:"description"`
	ExcutePlan   []*Step  `json:"excute_plan"`
	Thinking     string   `json:"thinking"`
	Error        string   `json:"error,omitempty"`
	IsBack       bool     `json:"is_back,omitempty"`
	ReviewPassed *bool    `json:"review_passed,omitempty"`
}

// AllStepsPassed reports whether every step carries check==true. Empty
// plans pass vacuously.
func (p *Plan) AllStepsPassed() bool {
	for _, step := range p.ExcutePlan {
		if step.Check == nil || !*step.Check {
			return false
		}
	}
	return true
}

// SucceededSteps returns the steps whose recorded results succeeded.
func (p *Plan) SucceededSteps() []*Step {
	var out []*Step
	for _, step := range p.ExcutePlan {
		if step.StepResults != nil && step.StepResults.Success {
			out = append(out, step)
		}
	}
	return out
}

// stripFences removes a markdown code fence wrapper if present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// ParsePlan decodes LLM output into a Plan, repairing malformed JSON first.
// Unparseable output degrades to a zero-step direct-answer plan whose
// thinking is the raw text, so the turn still produces an answer.
func ParsePlan(raw string) *Plan {
	text := stripFences(raw)

	var plan Plan
	if err := json.Unmarshal([]byte(text), &plan); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(text)
		if repairErr != nil || json.Unmarshal([]byte(repaired), &plan) != nil {
			return &Plan{Thinking: strings.TrimSpace(raw)}
		}
	}
	plan.normalize()
	return &plan
}

// normalize fills safe defaults and renumbers steps 1..N in order.
func (p *Plan) normalize() {
	if p.Description == nil {
		p.Description = []string{}
	}
	if p.ExcutePlan == nil {
		p.ExcutePlan = []*Step{}
	}
	steps := p.ExcutePlan[:0]
	for _, step := range p.ExcutePlan {
		if step == nil {
			continue
		}
		steps = append(steps, step)
	}
	p.ExcutePlan = steps
	for i, step := range p.ExcutePlan {
		step.Step = i + 1
	}
	if len(p.ExcutePlan) == 0 {
		p.IsSkills = false
	}
}

// toolCall is the sub-loop and executor wire shape for a single skill
// invocation request.
type toolCall struct {
	Action    string         `json:"action"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// parseToolCall extracts a call_skill request from LLM output. Returns nil
// when the output is not a tool call.
func parseToolCall(raw string) *toolCall {
	text := stripFences(raw)
	var tc toolCall
	if err := json.Unmarshal([]byte(text), &tc); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(text)
		if repairErr != nil || json.Unmarshal([]byte(repaired), &tc) != nil {
			return nil
		}
	}
	if tc.Action != "call_skill" || tc.Name == "" {
		return nil
	}
	if tc.Arguments == nil {
		tc.Arguments = map[string]any{}
	}
	return &tc
}
