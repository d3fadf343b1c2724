package builtin

import (
	"context"
	"fmt"
	"time"

	"deskmate/internal/scheduler"
	"deskmate/internal/skills"
)

// EmailSkills exposes immediate sending and the task scheduler to the
// plan loop.
type EmailSkills struct {
	Scheduler        *scheduler.Scheduler
	DefaultRecipient string
}

func (e *EmailSkills) Register(r *skills.Registry) {
	recipientNorm := skills.AliasKeys("recipient", "to", "email", "address")
	r.MustRegister(&skills.Func{
		SkillName:        "send_email",
		SkillDescription: "立即发送一封邮件",
		SkillPermission:  skills.PermissionWrite,
		SkillSchema: skills.Schema{
			Required: []string{"subject", "body"},
			Parameters: map[string]any{
				"recipient": "recipient address, defaults to the configured one",
				"subject":   "mail subject",
				"body":      "mail body",
			},
		},
		SkillNormalizer: recipientNorm,
		Fn:              e.sendEmail,
	})
	r.MustRegister(&skills.Func{
		SkillName:        "create_scheduled_email",
		SkillDescription: "创建定时邮件任务，支持每日/每周/每月/每年重复",
		SkillPermission:  skills.PermissionWrite,
		SkillSchema: skills.Schema{
			Required: []string{"subject", "body", "send_time"},
			Parameters: map[string]any{
				"recipient":  "recipient address",
				"subject":    "mail subject",
				"body":       "mail body",
				"send_time":  "delivery time, YYYY-MM-DD HH:MM",
				"recurrence": "daily/weekly/monthly/yearly, empty for one-shot",
			},
		},
		SkillNormalizer: recipientNorm,
		Fn:              e.scheduleEmail,
	})
	r.MustRegister(&skills.Func{
		SkillName:        "create_realtime_email",
		SkillDescription: "创建每日由 AI 撰写内容的实时邮件任务",
		SkillPermission:  skills.PermissionWrite,
		SkillSchema: skills.Schema{
			Required: []string{"prompt"},
			Parameters: map[string]any{
				"recipient": "recipient address",
				"prompt":    "what the daily email should contain",
			},
		},
		SkillNormalizer: recipientNorm,
		Fn:              e.realtimeEmail,
	})
	r.MustRegister(&skills.Func{
		SkillName:        "write_email",
		SkillDescription: "根据要求撰写一封邮件草稿，不发送",
		SkillPermission:  skills.PermissionRead,
		SkillSchema: skills.Schema{
			Required:   []string{"prompt"},
			Parameters: map[string]any{"prompt": "what the email should say"},
		},
		Fn: e.writeEmail,
	})
	r.MustRegister(&skills.Func{
		SkillName:        "list_email_tasks",
		SkillDescription: "查看全部邮件任务",
		SkillPermission:  skills.PermissionRead,
		SkillSchema:      skills.Schema{},
		Fn:               e.listTasks,
	})
	r.MustRegister(&skills.Func{
		SkillName:        "delete_email_task",
		SkillDescription: "删除一个邮件任务",
		SkillPermission:  skills.PermissionWrite,
		SkillSchema: skills.Schema{
			Required:   []string{"id"},
			Parameters: map[string]any{"id": "task id"},
		},
		SkillNormalizer: skills.AliasKeys("id", "task_id"),
		Fn:              e.deleteTask,
	})
}

func (e *EmailSkills) recipient(args skills.Args) string {
	if r, ok := stringArg(args, "recipient"); ok {
		return r
	}
	return e.DefaultRecipient
}

func (e *EmailSkills) sendEmail(_ context.Context, args skills.Args) (any, error) {
	subject, hasSubject := stringArg(args, "subject")
	body, _ := args["body"].(string)
	if !hasSubject {
		return fail("缺少 subject 参数"), nil
	}
	to := e.recipient(args)
	if to == "" {
		return fail("未指定收件人且没有默认收件人"), nil
	}
	if err := e.Scheduler.SendNow([]string{to}, subject, body); err != nil {
		return fail(fmt.Sprintf("发送失败: %v", err)), nil
	}
	return ok(fmt.Sprintf("邮件已发送给 %s", to), nil), nil
}

func parseSendTime(raw string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02 15:04:05", time.RFC3339} {
		if t, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("无法解析时间: %s", raw)
}

func (e *EmailSkills) scheduleEmail(_ context.Context, args skills.Args) (any, error) {
	subject, hasSubject := stringArg(args, "subject")
	body, _ := args["body"].(string)
	rawTime, hasTime := stringArg(args, "send_time")
	if !hasSubject || !hasTime {
		return fail("缺少 subject 或 send_time 参数"), nil
	}
	to := e.recipient(args)
	if to == "" {
		return fail("未指定收件人且没有默认收件人"), nil
	}
	sendAt, err := parseSendTime(rawTime)
	if err != nil {
		return fail(err.Error()), nil
	}
	recurrence, _ := args["recurrence"].(string)
	id, err := e.Scheduler.ScheduleEmail(to, subject, body, sendAt, recurrence)
	if err != nil {
		return fail(fmt.Sprintf("创建定时任务失败: %v", err)), nil
	}
	return ok(fmt.Sprintf("已创建定时邮件，将于 %s 发送", sendAt.Format("2006-01-02 15:04")),
		map[string]any{"id": id}), nil
}

func (e *EmailSkills) realtimeEmail(_ context.Context, args skills.Args) (any, error) {
	prompt, hasPrompt := stringArg(args, "prompt")
	if !hasPrompt {
		return fail("缺少 prompt 参数"), nil
	}
	to := e.recipient(args)
	if to == "" {
		return fail("未指定收件人且没有默认收件人"), nil
	}
	id, err := e.Scheduler.AddRealtimeTask(to, prompt)
	if err != nil {
		return fail(fmt.Sprintf("创建实时邮件任务失败: %v", err)), nil
	}
	return ok("已创建每日实时邮件任务", map[string]any{"id": id}), nil
}

func (e *EmailSkills) writeEmail(_ context.Context, args skills.Args) (any, error) {
	prompt, hasPrompt := stringArg(args, "prompt")
	if !hasPrompt {
		return fail("缺少 prompt 参数"), nil
	}
	subject, body, err := e.Scheduler.ComposeDraft(prompt)
	if err != nil {
		return fail(fmt.Sprintf("撰写失败: %v", err)), nil
	}
	return ok("邮件草稿已生成", map[string]any{"subject": subject, "body": body}), nil
}

func (e *EmailSkills) listTasks(_ context.Context, _ skills.Args) (any, error) {
	scheduled := e.Scheduler.ScheduledTasks()
	realtime := e.Scheduler.RealtimeTasks()
	return ok(fmt.Sprintf("定时任务 %d 个，实时任务 %d 个", len(scheduled), len(realtime)),
		map[string]any{"scheduled_tasks": scheduled, "realtime_tasks": realtime}), nil
}

func (e *EmailSkills) deleteTask(_ context.Context, args skills.Args) (any, error) {
	id, hasID := stringArg(args, "id")
	if !hasID {
		return fail("缺少 id 参数"), nil
	}
	if !e.Scheduler.DeleteTask(id) {
		return fail(fmt.Sprintf("任务不存在: %s", id)), nil
	}
	return ok("邮件任务已删除", nil), nil
}
