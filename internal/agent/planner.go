package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	agenterrors "deskmate/internal/errors"
	"deskmate/internal/llm"
	"deskmate/internal/logging"
	"deskmate/internal/skills"
)

const plannerBasePrompt = `你是一个桌面助手的规划器。你的职责是把用户的请求转化为一个可执行的计划。

严格输出 JSON，结构如下：
{
  "is_skills": bool,        // 是否需要调用技能
  "description": [string],  // 每个步骤的简要说明
  "excute_plan": [          // 步骤列表，不需要技能时为空数组
    {"step": 1, "desc": "...", "skill": {"name": "...", "arguments": {...}}}
  ],
  "thinking": "你的思考过程"
}

规则：
1. step 从 1 开始严格递增。
2. skill.name 必须来自下面的技能列表。
3. 如果之前的执行记录显示某一步 success=true，不要重复规划该步骤，只规划剩余部分。
4. 在最终确定计划之前，你可以调用只读技能收集信息：输出
   {"action": "call_skill", "name": "...", "arguments": {...}}。
   禁止在规划阶段调用任何修改类技能。
5. 不需要技能时，is_skills=false，excute_plan=[]，在 thinking 中直接回答。`

// toolTurnLimit bounds the planner's information-gathering sub-loop.
const toolTurnLimit = 3

// Planner produces a Plan from the enriched user text, optionally calling
// read-only skills first.
type Planner struct {
	llm       llm.Client
	registry  *skills.Registry
	taskStats func() string
	usage     func() string
	logger    logging.Logger
	now       func() time.Time
}

func NewPlanner(client llm.Client, registry *skills.Registry, taskStats, usage func() string) *Planner {
	return &Planner{
		llm:       client,
		registry:  registry,
		taskStats: taskStats,
		usage:     usage,
		logger:    logging.NewComponentLogger("planner"),
		now:       time.Now,
	}
}

func (p *Planner) systemPrompt() string {
	var b strings.Builder
	b.WriteString(plannerBasePrompt)
	b.WriteString("\n\n可用技能：\n")
	brief, err := json.Marshal(p.registry.Brief())
	if err == nil {
		b.Write(brief)
	}
	if p.taskStats != nil {
		b.WriteString("\n")
		b.WriteString(p.taskStats())
	}
	if p.usage != nil {
		b.WriteString("\n")
		b.WriteString(p.usage())
	}
	fmt.Fprintf(&b, "\n[当前时间] %s", p.now().Format("2006-01-02 15:04:05 Monday"))
	return b.String()
}

// priorTrace renders the previous round's executed plan for the replan
// prompt.
func priorTrace(prior *Plan) string {
	type traceStep struct {
		Step    int         `json:"step"`
		Desc    string      `json:"desc"`
		Skill   string      `json:"skill"`
		Results *StepResult `json:"step_results,omitempty"`
	}
	steps := make([]traceStep, 0, len(prior.ExcutePlan))
	for _, s := range prior.ExcutePlan {
		steps = append(steps, traceStep{Step: s.Step, Desc: s.Desc, Skill: s.Skill.Name, Results: s.StepResults})
	}
	data, err := json.Marshal(steps)
	if err != nil {
		return ""
	}
	return "[上一轮执行记录]\n" + string(data) +
		"\n其中 success=true 的步骤已完成，不要重复规划。"
}

// Plan runs the bounded sub-loop and returns the parsed plan. onThinking
// receives the thinking text character by character as it streams.
func (p *Planner) Plan(ctx context.Context, enriched string, prior *Plan, onThinking func(string)) (*Plan, error) {
	messages := []llm.Message{
		{Role: "system", Content: p.systemPrompt()},
	}
	if prior != nil {
		if trace := priorTrace(prior); trace != "" {
			messages = append(messages, llm.Message{Role: "system", Content: trace})
		}
	}
	messages = append(messages, llm.Message{Role: "user", Content: enriched})

	var lastRaw string
	for turn := 1; turn <= toolTurnLimit; turn++ {
		resp, err := p.stream(ctx, messages, onThinking)
		if err != nil {
			return nil, err
		}
		lastRaw = resp.Content

		tc := parseToolCall(resp.Content)
		if tc == nil {
			return ParsePlan(resp.Content), nil
		}
		if turn == toolTurnLimit {
			break
		}

		result := p.subLoopInvoke(ctx, tc)
		payload, merr := json.Marshal(result)
		if merr != nil {
			payload = []byte(`{"success": false, "message": "结果序列化失败"}`)
		}
		messages = append(messages,
			llm.Message{Role: "assistant", Content: resp.Content},
			llm.Message{Role: "system", Content: "TOOL_RESULT: " + string(payload)},
		)
	}

	// Sub-loop exhausted without a plan: degrade to a direct-answer plan
	// carrying the raw text, so the turn still finishes with an answer.
	p.logger.Warn("planner sub-loop exhausted after %d turns", toolTurnLimit)
	plan := &Plan{Thinking: strings.TrimSpace(lastRaw)}
	plan.normalize()
	return plan, nil
}

// stream runs one completion, feeding the thinking extractor. Transport
// errors retry once unless partial thinking already reached the user.
func (p *Planner) stream(ctx context.Context, messages []llm.Message, onThinking func(string)) (*llm.Response, error) {
	retry := agenterrors.DefaultRetryConfig()
	var lastErr error
	for attempt := 1; attempt <= retry.MaxAttempts; attempt++ {
		extractor := newThinkingExtractor(onThinking)
		emitted := false
		resp, err := p.llm.StreamComplete(ctx, llm.Request{Messages: messages}, llm.StreamCallbacks{
			OnContentDelta: func(delta llm.ContentDelta) {
				if delta.Final {
					return
				}
				extractor.Feed(delta.Delta)
				if extractor.Text() != "" {
					emitted = true
				}
			},
		})
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if emitted || !agenterrors.IsRetryable(err) || attempt == retry.MaxAttempts {
			return nil, err
		}
		p.logger.Warn("planner stream attempt %d failed, retrying: %v", attempt, err)
		select {
		case <-time.After(retry.Backoff):
		case <-ctx.Done():
			return nil, agenterrors.New(agenterrors.KindCancelled, ctx.Err(), "")
		}
	}
	return nil, lastErr
}

// subLoopInvoke runs one mid-planning skill call through the read-only
// gate. Violations come back as error results, never as invocations.
func (p *Planner) subLoopInvoke(ctx context.Context, tc *toolCall) map[string]any {
	if !p.registry.ReadOnlyAllowed(tc.Name) {
		p.logger.Warn("sub-loop blocked write skill: %s", tc.Name)
		return map[string]any{
			"success": false,
			"message": fmt.Sprintf("禁止调用修改类技能：%s，规划阶段只能调用只读技能", tc.Name),
		}
	}
	callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	value, err := p.registry.Invoke(callCtx, tc.Name, tc.Arguments)
	if err != nil {
		return map[string]any{"success": false, "message": err.Error()}
	}
	return map[string]any{"success": true, "data": value}
}
