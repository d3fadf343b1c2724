package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskmate/internal/llm"
	"deskmate/internal/skills"
)

func newPlannerRegistry(t *testing.T) *skills.Registry {
	t.Helper()
	r := skills.NewRegistry()
	r.MustRegister(&skills.Func{
		SkillName:        "get_weather",
		SkillDescription: "查询天气",
		SkillPermission:  skills.PermissionRead,
		Fn: func(_ context.Context, _ skills.Args) (any, error) {
			return map[string]any{"success": true, "message": "晴"}, nil
		},
	})
	r.MustRegister(&skills.Func{
		SkillName:        "delete_file",
		SkillDescription: "删除文件",
		SkillPermission:  skills.PermissionWrite,
		Fn: func(_ context.Context, _ skills.Args) (any, error) {
			t.Fatal("write skill must never run during planning")
			return nil, nil
		},
	})
	return r
}

func newTestPlanner(client *llm.MockClient, r *skills.Registry) *Planner {
	return NewPlanner(client, r,
		func() string { return "[任务统计：共 0 项]" },
		func() string { return "[Token用量：今日 0 tokens]" })
}

func TestPlanDirectAnswer(t *testing.T) {
	client := llm.NewMockClient(`{"is_skills": false, "thinking": "直接回答即可", "excute_plan": []}`)
	client.ChunkSize = 1
	p := newTestPlanner(client, newPlannerRegistry(t))

	var thinking strings.Builder
	plan, err := p.Plan(context.Background(), "你好", nil, func(s string) { thinking.WriteString(s) })
	require.NoError(t, err)
	assert.False(t, plan.IsSkills)
	assert.Equal(t, "直接回答即可", thinking.String())
}

func TestPlanSystemPromptCarriesCatalogAndStats(t *testing.T) {
	client := llm.NewMockClient(`{"is_skills": false, "thinking": "x"}`)
	p := newTestPlanner(client, newPlannerRegistry(t))

	_, err := p.Plan(context.Background(), "你好", nil, nil)
	require.NoError(t, err)

	require.NotEmpty(t, client.Requests)
	system := client.Requests[0].Messages[0].Content
	assert.Contains(t, system, "get_weather")
	assert.Contains(t, system, "[任务统计")
	assert.Contains(t, system, "[Token用量")
	assert.Contains(t, system, "[当前时间]")
}

func TestPlanReadOnlySubLoop(t *testing.T) {
	client := llm.NewMockClient(
		`{"action": "call_skill", "name": "get_weather", "arguments": {"city": "北京"}}`,
		`{"is_skills": false, "thinking": "今天是晴天"}`,
	)
	p := newTestPlanner(client, newPlannerRegistry(t))

	plan, err := p.Plan(context.Background(), "今天天气如何", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "今天是晴天", plan.Thinking)

	// Second request carries the assistant tool call and the tool result.
	require.Len(t, client.Requests, 2)
	second := client.Requests[1].Messages
	var sawToolResult bool
	for _, msg := range second {
		if msg.Role == "system" && strings.HasPrefix(msg.Content, "TOOL_RESULT: ") {
			sawToolResult = true
			assert.Contains(t, msg.Content, "晴")
		}
	}
	assert.True(t, sawToolResult)
}

func TestPlanGateBlocksWriteSkill(t *testing.T) {
	client := llm.NewMockClient(
		`{"action": "call_skill", "name": "delete_file", "arguments": {"path": "a.txt"}}`,
		`{"is_skills": true, "thinking": "那就作为正式步骤", "excute_plan": [
			{"step": 1, "desc": "删除文件", "skill": {"name": "delete_file", "arguments": {"path": "a.txt"}}}
		]}`,
	)
	p := newTestPlanner(client, newPlannerRegistry(t))

	plan, err := p.Plan(context.Background(), "删掉 a.txt", nil, nil)
	require.NoError(t, err)

	// The gate refused the call and told the model so; the skill may still
	// appear as a proper plan step.
	require.Len(t, client.Requests, 2)
	var sawRefusal bool
	for _, msg := range client.Requests[1].Messages {
		if strings.Contains(msg.Content, "禁止调用修改类技能") {
			sawRefusal = true
		}
	}
	assert.True(t, sawRefusal)
	require.Len(t, plan.ExcutePlan, 1)
	assert.Equal(t, "delete_file", plan.ExcutePlan[0].Skill.Name)
}

func TestPlanSubLoopExhaustionDegrades(t *testing.T) {
	call := `{"action": "call_skill", "name": "get_weather", "arguments": {}}`
	client := llm.NewMockClient(call, call, call, call)
	p := newTestPlanner(client, newPlannerRegistry(t))

	plan, err := p.Plan(context.Background(), "天气", nil, nil)
	require.NoError(t, err)
	assert.False(t, plan.IsSkills)
	assert.Empty(t, plan.ExcutePlan)
	// The raw last response lands in thinking so the reviewer can still
	// answer something.
	assert.Contains(t, plan.Thinking, "call_skill")
	assert.Len(t, client.Requests, 3)
}

func TestPlanPriorTraceInPrompt(t *testing.T) {
	client := llm.NewMockClient(`{"is_skills": true, "thinking": "只做剩下的", "excute_plan": [
		{"step": 1, "desc": "重试失败步骤", "skill": {"name": "get_weather", "arguments": {}}}
	]}`)
	p := newTestPlanner(client, newPlannerRegistry(t))

	prior := ParsePlan(`{"is_skills": true, "thinking": "t", "excute_plan": [
		{"step": 1, "desc": "创建 a.md", "skill": {"name": "create_note", "arguments": {}}},
		{"step": 2, "desc": "发送邮件", "skill": {"name": "send_email", "arguments": {}}}
	]}`)
	prior.ExcutePlan[0].StepResults = &StepResult{Success: true, Message: "已创建"}
	prior.ExcutePlan[1].StepResults = &StepResult{Success: false, Message: "超时"}

	_, err := p.Plan(context.Background(), "继续", prior, nil)
	require.NoError(t, err)

	var trace string
	for _, msg := range client.Requests[0].Messages {
		if strings.Contains(msg.Content, "[上一轮执行记录]") {
			trace = msg.Content
		}
	}
	require.NotEmpty(t, trace)
	assert.Contains(t, trace, "已创建")
	assert.Contains(t, trace, "超时")
	assert.Contains(t, trace, "不要重复规划")
}
