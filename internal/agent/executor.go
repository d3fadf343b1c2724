package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"

	agenterrors "deskmate/internal/errors"
	"deskmate/internal/llm"
	"deskmate/internal/logging"
	"deskmate/internal/skills"
)

const executorBindPrompt = `你是一个参数绑定器。根据步骤描述、技能参数定义和之前步骤的执行结果，
为本次技能调用生成具体参数。把描述性占位（如"第1步找到的文件"）替换为执行结果中的实际值。
严格输出 JSON：{"action": "call_skill", "name": "技能名", "arguments": {...}}，不要输出其他内容。`

// Truncation budgets for the step-bind prompt, in characters.
const (
	contextMemoryBudget = 8000
	argSketchBudget     = 2000
)

// contextEntry is one record of the executor's growing context memory.
type contextEntry struct {
	Step   int         `json:"step"`
	Desc   string      `json:"desc"`
	Skill  string      `json:"skill"`
	Result *StepResult `json:"result"`
}

// Executor walks the plan's steps in order, binding arguments against the
// accumulated context and invoking skills with a per-call deadline.
type Executor struct {
	llm          llm.Client
	registry     *skills.Registry
	skillTimeout time.Duration
	logger       logging.Logger

	encoding *tiktoken.Tiktoken

	// ToolExecuted reports whether the last Execute invoked any skill,
	// for downstream UI hints.
	ToolExecuted bool
}

func NewExecutor(client llm.Client, registry *skills.Registry, skillTimeout time.Duration) *Executor {
	if skillTimeout <= 0 {
		skillTimeout = 30 * time.Second
	}
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		enc = nil
	}
	return &Executor{
		llm:          client,
		registry:     registry,
		skillTimeout: skillTimeout,
		logger:       logging.NewComponentLogger("executor"),
		encoding:     enc,
	}
}

// truncate clips text to roughly budget characters, cutting on a token
// boundary when the encoder is available so multi-byte text is never split
// mid-rune.
func (e *Executor) truncate(text string, budget int) string {
	if len(text) <= budget {
		return text
	}
	if e.encoding != nil {
		tokens := e.encoding.Encode(text, nil, nil)
		// Roughly 3 bytes per token for mixed CJK text.
		keep := budget / 3
		if keep < len(tokens) {
			return e.encoding.Decode(tokens[:keep]) + "...(截断)"
		}
		return text
	}
	runes := []rune(text)
	if len(runes) > budget {
		return string(runes[:budget]) + "...(截断)"
	}
	return text
}

// Execute runs every step, writing step_results back onto the plan.
// onProgress receives the two breadcrumb lines per step.
func (e *Executor) Execute(ctx context.Context, plan *Plan, onProgress func(string)) {
	if onProgress == nil {
		onProgress = func(string) {}
	}
	e.ToolExecuted = false

	var contextMemory []contextEntry
	for _, step := range plan.ExcutePlan {
		if err := ctx.Err(); err != nil {
			step.StepResults = &StepResult{
				Success: false,
				Message: "已取消",
				Error:   string(agenterrors.KindCancelled),
			}
			continue
		}

		onProgress(fmt.Sprintf("步骤%d：调用技能%s\n", step.Step, step.Skill.Name))
		result := e.executeStep(ctx, step, contextMemory)
		step.StepResults = result
		onProgress(fmt.Sprintf("步骤%d：%s\n", step.Step, result.Message))

		contextMemory = append(contextMemory, contextEntry{
			Step:   step.Step,
			Desc:   step.Desc,
			Skill:  step.Skill.Name,
			Result: result,
		})
	}
}

func (e *Executor) executeStep(ctx context.Context, step *Step, contextMemory []contextEntry) *StepResult {
	if _, found := e.registry.Get(step.Skill.Name); !found {
		return &StepResult{
			Success: false,
			Message: fmt.Sprintf("missing_skill:%s", step.Skill.Name),
			Error:   string(agenterrors.KindMissingSkill),
		}
	}

	args := e.bindArguments(ctx, step, contextMemory)
	e.ToolExecuted = true

	callCtx, cancel := context.WithTimeout(ctx, e.skillTimeout)
	defer cancel()
	value, err := e.registry.Invoke(callCtx, step.Skill.Name, args)
	return analyzeResult(value, err)
}

// bindArguments asks the LLM to resolve the step's argument sketch against
// the context memory. Falling back to the normalized sketch keeps the step
// running when the model refuses to emit a tool call.
func (e *Executor) bindArguments(ctx context.Context, step *Step, contextMemory []contextEntry) skills.Args {
	sketch := step.Skill.Arguments
	if sketch == nil {
		sketch = skills.Args{}
	}

	skill, _ := e.registry.Get(step.Skill.Name)
	schemaJSON, _ := json.Marshal(skill.Schema())
	sketchJSON, _ := json.Marshal(sketch)
	memoryJSON, _ := json.Marshal(contextMemory)

	var b strings.Builder
	fmt.Fprintf(&b, "步骤描述：%s\n", step.Desc)
	fmt.Fprintf(&b, "技能：%s\n", step.Skill.Name)
	fmt.Fprintf(&b, "参数定义：%s\n", schemaJSON)
	fmt.Fprintf(&b, "参数草稿：%s\n", e.truncate(string(sketchJSON), argSketchBudget))
	fmt.Fprintf(&b, "之前步骤的执行结果：%s\n", e.truncate(string(memoryJSON), contextMemoryBudget))

	resp, err := agenterrors.RetryWithResult(ctx, agenterrors.DefaultRetryConfig(),
		func(ctx context.Context) (*llm.Response, error) {
			return e.llm.Complete(ctx, llm.Request{Messages: []llm.Message{
				{Role: "system", Content: executorBindPrompt},
				{Role: "user", Content: b.String()},
			}})
		})
	if err != nil {
		e.logger.Warn("argument binding failed for step %d, using sketch: %v", step.Step, err)
		return sketch
	}
	tc := parseToolCall(resp.Content)
	if tc == nil {
		e.logger.Debug("no tool call returned for step %d, using sketch", step.Step)
		return sketch
	}
	return tc.Arguments
}

// analyzeResult folds a skill return value into a StepResult. The same
// analyzer later drives the reviewer's per-step verdicts.
func analyzeResult(value any, err error) *StepResult {
	if err != nil {
		return &StepResult{
			Success: false,
			Message: err.Error(),
			Error:   string(agenterrors.KindOf(err)),
		}
	}

	switch v := value.(type) {
	case map[string]any:
		if status, ok := v["status"].(string); ok && status == "error" {
			return &StepResult{Success: false, Message: resultMessage(v), Data: v,
				Error: string(agenterrors.KindSkillRuntime)}
		}
		if success, ok := v["success"].(bool); ok && !success {
			return &StepResult{Success: false, Message: resultMessage(v), Data: v,
				Error: string(agenterrors.KindSkillRuntime)}
		}
		return &StepResult{Success: true, Message: resultMessage(v), Data: v}
	case []map[string]any:
		return analyzeList(anySlice(v), value)
	case []any:
		return analyzeList(v, value)
	default:
		return &StepResult{Success: true, Message: "执行完成", Data: value}
	}
}

func anySlice(items []map[string]any) []any {
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = item
	}
	return out
}

func analyzeList(items []any, raw any) *StepResult {
	succeeded, failed := 0, 0
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			succeeded++
			continue
		}
		if success, ok := m["success"].(bool); ok && !success {
			failed++
		} else {
			succeeded++
		}
	}
	if failed > 0 {
		return &StepResult{
			Success: false,
			Message: fmt.Sprintf("✅成功 %d 项，❌失败 %d 项", succeeded, failed),
			Data:    raw,
			Error:   string(agenterrors.KindSkillRuntime),
		}
	}
	return &StepResult{Success: true, Message: fmt.Sprintf("✅成功 %d 项", succeeded), Data: raw}
}

func resultMessage(m map[string]any) string {
	if msg, ok := m["message"].(string); ok && msg != "" {
		return msg
	}
	return "执行完成"
}
