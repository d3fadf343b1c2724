package builtin

import (
	"context"
	"time"

	"deskmate/internal/ledger"
	"deskmate/internal/skills"
)

// UsageSkills exposes the token ledger to the conversation, so asking "今天
// 用了多少 token" resolves through the same loop as everything else.
type UsageSkills struct {
	Ledger *ledger.Ledger
}

func (u *UsageSkills) Register(r *skills.Registry) {
	r.MustRegister(&skills.Func{
		SkillName:        "query_token_usage",
		SkillDescription: "查询 token 用量与费用统计",
		SkillPermission:  skills.PermissionRead,
		SkillSchema: skills.Schema{
			Parameters: map[string]any{
				"scope": "total/today/month/year or YYYY-MM-DD, default today",
			},
		},
		Fn: u.query,
	})
}

func (u *UsageSkills) query(_ context.Context, args skills.Args) (any, error) {
	scope, _ := args["scope"].(string)
	now := time.Now()

	var summary ledger.Summary
	switch scope {
	case "", "today":
		summary = u.Ledger.Day(now.Format("2006-01-02"))
	case "total":
		summary = u.Ledger.Total()
	case "month":
		summary = u.Ledger.Month(now.Format("2006-01"))
	case "year":
		summary = u.Ledger.Year(now.Format("2006"))
	default:
		// Treat anything else as a day key.
		summary = u.Ledger.Day(scope)
	}
	return ok("查询完成", summary), nil
}
