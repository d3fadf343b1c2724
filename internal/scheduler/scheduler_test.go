package scheduler

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskmate/internal/llm"
)

type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

type sentMail struct {
	To      []string
	Subject string
	Body    string
}

func (m *recordingMailer) Send(to []string, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

func (m *recordingMailer) all() []sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sentMail, len(m.sent))
	copy(out, m.sent)
	return out
}

func newTestScheduler(t *testing.T, client llm.Client) (*Scheduler, *recordingMailer, *TaskStore) {
	t.Helper()
	store := NewTaskStore(filepath.Join(t.TempDir(), "email_tasks.json"))
	mailer := &recordingMailer{}
	s := New(store, mailer, client)
	t.Cleanup(s.Stop)
	return s, mailer, store
}

func TestScheduleEmailRejectsPastOneShot(t *testing.T) {
	s, _, _ := newTestScheduler(t, nil)
	_, err := s.ScheduleEmail("a@b.c", "主题", "正文", time.Now().Add(-time.Minute), RecurNone)
	assert.Error(t, err)
}

func TestScheduleEmailRejectsUnknownRecurrence(t *testing.T) {
	s, _, _ := newTestScheduler(t, nil)
	_, err := s.ScheduleEmail("a@b.c", "主题", "正文", time.Now().Add(time.Hour), "fortnightly")
	assert.Error(t, err)
}

func TestOneShotFiresAndIsRemoved(t *testing.T) {
	s, mailer, store := newTestScheduler(t, nil)

	id, err := s.ScheduleEmail("a@b.c", "准时", "到点了", time.Now().Add(30*time.Millisecond), RecurNone)
	require.NoError(t, err)
	require.Len(t, store.Scheduled(), 1)

	require.Eventually(t, func() bool {
		return len(mailer.all()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	sent := mailer.all()[0]
	assert.Equal(t, []string{"a@b.c"}, sent.To)
	assert.Equal(t, "准时", sent.Subject)

	assert.Eventually(t, func() bool {
		return len(store.Scheduled()) == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, s.DeleteTask(id))
}

func TestStartDropsOverdueOneShots(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "email_tasks.json")
	store := NewTaskStore(path)
	store.AddScheduled(ScheduledTask{
		ID:        "overdue",
		Recipient: "a@b.c",
		Subject:   "迟到",
		SendAt:    time.Now().Add(-time.Hour),
	})
	store.AddScheduled(ScheduledTask{
		ID:         "recurring",
		Recipient:  "a@b.c",
		Subject:    "每日",
		SendAt:     time.Now().Add(-time.Hour),
		Recurrence: RecurDaily,
	})

	mailer := &recordingMailer{}
	s := New(store, mailer, nil)
	defer s.Stop()
	s.Start()

	// The overdue one-shot is gone without a send; the recurring task
	// survives the replay.
	ids := map[string]bool{}
	for _, task := range store.Scheduled() {
		ids[task.ID] = true
	}
	assert.False(t, ids["overdue"])
	assert.True(t, ids["recurring"])
	assert.Empty(t, mailer.all())
}

func TestDeleteTaskCancelsTimer(t *testing.T) {
	s, mailer, _ := newTestScheduler(t, nil)
	id, err := s.ScheduleEmail("a@b.c", "取消", "不该发出", time.Now().Add(80*time.Millisecond), RecurNone)
	require.NoError(t, err)
	assert.True(t, s.DeleteTask(id))

	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, mailer.all())
}

func TestCronSpec(t *testing.T) {
	at := time.Date(2026, 4, 15, 8, 30, 0, 0, time.Local)
	assert.Equal(t, "30 8 * * *", cronSpec(at, RecurDaily))
	assert.Equal(t, "30 8 * * 3", cronSpec(at, RecurWeekly)) // 2026-04-15 is a Wednesday
	assert.Equal(t, "30 8 15 * *", cronSpec(at, RecurMonthly))
	assert.Equal(t, "30 8 15 4 *", cronSpec(at, RecurYearly))
}

func TestNextOccurrenceSkipsToFuture(t *testing.T) {
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	now := time.Date(2026, 1, 4, 12, 0, 0, 0, time.UTC)
	next := nextOccurrence(base, RecurDaily, now)
	assert.Equal(t, time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC), next)

	next = nextOccurrence(base, RecurMonthly, now)
	assert.Equal(t, time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC), next)
}

func TestRealtimeRunsOncePerDay(t *testing.T) {
	client := llm.NewMockClient(
		`{"subject": "晨报", "body": "今天的内容"}`,
		`{"subject": "晨报2", "body": "不该用到"}`,
	)
	s, mailer, store := newTestScheduler(t, client)

	_, err := s.AddRealtimeTask("a@b.c", "写一份晨报")
	require.NoError(t, err)

	s.checkRealtime()
	s.checkRealtime()

	sent := mailer.all()
	require.Len(t, sent, 1)
	assert.Equal(t, "晨报", sent[0].Subject)
	assert.Equal(t, "今天的内容", sent[0].Body)

	today := time.Now().Format("2006-01-02")
	assert.Equal(t, today, store.Realtime()[0].LastRunDate)
}

func TestComposeToleratesMarkdownFences(t *testing.T) {
	client := llm.NewMockClient("```json\n{\"subject\": \"外壳\", \"body\": \"内容\"}\n```")
	s, _, _ := newTestScheduler(t, client)
	subject, body, err := s.compose("test")
	require.NoError(t, err)
	assert.Equal(t, "外壳", subject)
	assert.Equal(t, "内容", body)
}

func TestTaskStorePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "email_tasks.json")
	store := NewTaskStore(path)
	store.AddScheduled(ScheduledTask{ID: "s1", Recipient: "a@b.c", Subject: "x", SendAt: time.Now().Add(time.Hour)})
	store.AddRealtime(RealtimeTask{ID: "r1", Recipient: "a@b.c", Prompt: "p"})

	reloaded := NewTaskStore(path)
	assert.Len(t, reloaded.Scheduled(), 1)
	assert.Len(t, reloaded.Realtime(), 1)

	assert.True(t, reloaded.Delete("r1"))
	assert.False(t, reloaded.Delete("r1"))
	assert.Empty(t, NewTaskStore(path).Realtime())
}
