package builtin

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskmate/internal/llm"
	"deskmate/internal/scheduler"
	"deskmate/internal/skills"
)

type stubMailer struct {
	sent []string
}

func (m *stubMailer) Send(to []string, subject, body string) error {
	m.sent = append(m.sent, subject)
	return nil
}

func newEmailFixture(t *testing.T, client llm.Client) (*skills.Registry, *stubMailer) {
	t.Helper()
	mailer := &stubMailer{}
	store := scheduler.NewTaskStore(filepath.Join(t.TempDir(), "email_tasks.json"))
	sched := scheduler.New(store, mailer, client)
	t.Cleanup(sched.Stop)

	r := skills.NewRegistry()
	(&EmailSkills{Scheduler: sched, DefaultRecipient: "me@example.com"}).Register(r)
	return r, mailer
}

func TestSendEmailUsesDefaultRecipient(t *testing.T) {
	r, mailer := newEmailFixture(t, nil)

	out, err := r.Invoke(context.Background(), "send_email", skills.Args{
		"subject": "问候", "body": "你好",
	})
	require.NoError(t, err)
	m := asMap(t, out)
	assert.Equal(t, true, m["success"])
	assert.Contains(t, m["message"], "me@example.com")
	assert.Equal(t, []string{"问候"}, mailer.sent)
}

func TestScheduleEmailRejectsPastTime(t *testing.T) {
	r, _ := newEmailFixture(t, nil)

	out, err := r.Invoke(context.Background(), "create_scheduled_email", skills.Args{
		"subject": "旧事", "body": "x", "send_time": "2001-01-01 08:00",
	})
	require.NoError(t, err)
	m := asMap(t, out)
	assert.Equal(t, false, m["success"])
	assert.Contains(t, m["message"], "发送时间已过")
}

func TestScheduleThenListAndDelete(t *testing.T) {
	r, _ := newEmailFixture(t, nil)
	ctx := context.Background()

	future := time.Now().Add(24 * time.Hour).Format("2006-01-02 15:04")
	out, err := r.Invoke(ctx, "create_scheduled_email", skills.Args{
		"to": "other@example.com", "subject": "提醒", "body": "开会", "send_time": future,
	})
	require.NoError(t, err)
	created := asMap(t, out)
	require.Equal(t, true, created["success"])
	id := asMap(t, created["data"])["id"].(string)

	out, err = r.Invoke(ctx, "list_email_tasks", nil)
	require.NoError(t, err)
	assert.Contains(t, asMap(t, out)["message"], "定时任务 1 个")

	out, err = r.Invoke(ctx, "delete_email_task", skills.Args{"task_id": id})
	require.NoError(t, err)
	assert.Equal(t, true, asMap(t, out)["success"])
}

func TestWriteEmailDraftsWithoutSending(t *testing.T) {
	client := llm.NewMockClient(`{"subject": "周报", "body": "本周进展顺利。"}`)
	r, mailer := newEmailFixture(t, client)

	out, err := r.Invoke(context.Background(), "write_email", skills.Args{
		"prompt": "写一封本周工作总结邮件",
	})
	require.NoError(t, err)
	m := asMap(t, out)
	assert.Equal(t, true, m["success"])
	draft := m["data"].(map[string]any)
	assert.Equal(t, "周报", draft["subject"])
	assert.Empty(t, mailer.sent)
}
