package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlanWellFormed(t *testing.T) {
	raw := `{
		"is_skills": true,
		"description": ["创建文件夹", "移动文件"],
		"excute_plan": [
			{"step": 1, "desc": "创建文件夹", "skill": {"name": "create_folder", "arguments": {"path": "新建"}}},
			{"step": 2, "desc": "移动文件", "skill": {"name": "move_file", "arguments": {}}}
		],
		"thinking": "先建目录再移动"
	}`
	plan := ParsePlan(raw)
	assert.True(t, plan.IsSkills)
	require.Len(t, plan.ExcutePlan, 2)
	assert.Equal(t, "create_folder", plan.ExcutePlan[0].Skill.Name)
	assert.Equal(t, "先建目录再移动", plan.Thinking)
}

func TestParsePlanStripsMarkdownFences(t *testing.T) {
	raw := "```json\n{\"is_skills\": false, \"thinking\": \"直接回答\"}\n```"
	plan := ParsePlan(raw)
	assert.False(t, plan.IsSkills)
	assert.Equal(t, "直接回答", plan.Thinking)
	assert.NotNil(t, plan.ExcutePlan)
	assert.Empty(t, plan.ExcutePlan)
}

func TestParsePlanRepairsTrailingComma(t *testing.T) {
	raw := `{"is_skills": true, "thinking": "t", "excute_plan": [
		{"step": 1, "desc": "a", "skill": {"name": "get_x", "arguments": {}}},
	],}`
	plan := ParsePlan(raw)
	assert.True(t, plan.IsSkills)
	require.Len(t, plan.ExcutePlan, 1)
}

func TestParsePlanDegradesToRawThinking(t *testing.T) {
	raw := "我没法生成 JSON，但答案是：今天是晴天。"
	plan := ParsePlan(raw)
	assert.False(t, plan.IsSkills)
	assert.Empty(t, plan.ExcutePlan)
	assert.Equal(t, raw, plan.Thinking)
}

func TestNormalizeRenumbersSteps(t *testing.T) {
	raw := `{"is_skills": true, "thinking": "t", "excute_plan": [
		{"step": 3, "desc": "a", "skill": {"name": "get_a", "arguments": {}}},
		{"step": 7, "desc": "b", "skill": {"name": "get_b", "arguments": {}}},
		{"step": 7, "desc": "c", "skill": {"name": "get_c", "arguments": {}}}
	]}`
	plan := ParsePlan(raw)
	require.Len(t, plan.ExcutePlan, 3)
	seen := map[int]bool{}
	for i, step := range plan.ExcutePlan {
		assert.Equal(t, i+1, step.Step)
		assert.False(t, seen[step.Step])
		seen[step.Step] = true
	}
}

func TestNormalizeEmptyPlanForcesDirectAnswer(t *testing.T) {
	plan := ParsePlan(`{"is_skills": true, "excute_plan": [], "thinking": "没步骤"}`)
	assert.False(t, plan.IsSkills)
}

func TestParseToolCall(t *testing.T) {
	tc := parseToolCall(`{"action": "call_skill", "name": "get_weather", "arguments": {"city": "北京"}}`)
	require.NotNil(t, tc)
	assert.Equal(t, "get_weather", tc.Name)
	assert.Equal(t, "北京", tc.Arguments["city"])

	assert.Nil(t, parseToolCall(`{"is_skills": false, "thinking": "plan"}`))
	assert.Nil(t, parseToolCall(`{"action": "call_skill"}`))
	assert.Nil(t, parseToolCall("纯文本"))

	tc = parseToolCall(`{"action": "call_skill", "name": "get_x"}`)
	require.NotNil(t, tc)
	assert.NotNil(t, tc.Arguments)
}

func TestAllStepsPassed(t *testing.T) {
	yes, no := true, false
	plan := &Plan{ExcutePlan: []*Step{{Check: &yes}, {Check: &yes}}}
	assert.True(t, plan.AllStepsPassed())

	plan.ExcutePlan = append(plan.ExcutePlan, &Step{Check: &no})
	assert.False(t, plan.AllStepsPassed())

	plan.ExcutePlan = []*Step{{}}
	assert.False(t, plan.AllStepsPassed())

	assert.True(t, (&Plan{}).AllStepsPassed())
}
