package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"deskmate/internal/llm"
	"deskmate/internal/logging"
)

// Scheduler owns the delivery timeline: one-shot timers, cron entries for
// recurring tasks, and the daily realtime composer. Restoring persisted
// tasks happens in Start; overdue non-recurring tasks are dropped rather
// than delivered late.
type Scheduler struct {
	store  *TaskStore
	mailer Mailer
	llm    llm.Client

	cron    *cron.Cron
	mu      sync.Mutex
	timers  map[string]*time.Timer
	entries map[string]cron.EntryID
	logger  logging.Logger
	now     func() time.Time
}

// New builds a scheduler. llmClient may be nil when no realtime tasks are
// used.
func New(store *TaskStore, mailer Mailer, llmClient llm.Client) *Scheduler {
	return &Scheduler{
		store:   store,
		mailer:  mailer,
		llm:     llmClient,
		cron:    cron.New(),
		timers:  map[string]*time.Timer{},
		entries: map[string]cron.EntryID{},
		logger:  logging.NewComponentLogger("scheduler"),
		now:     time.Now,
	}
}

// Start replays persisted tasks and begins dispatching. Overdue one-shot
// tasks are removed with a log line; recurring and future tasks are armed.
func (s *Scheduler) Start() {
	for _, task := range s.store.Scheduled() {
		if task.Recurrence == RecurNone && task.SendAt.Before(s.now()) {
			s.logger.Warn("dropping overdue task %s (was due %s)", task.ID, task.SendAt.Format(time.RFC3339))
			s.store.Delete(task.ID)
			continue
		}
		s.arm(task)
	}

	// Realtime tasks fire on the first activity of each day; an hourly
	// sweep catches day rollovers while the process stays up.
	s.checkRealtime()
	id, err := s.cron.AddFunc("@every 1h", s.checkRealtime)
	if err == nil {
		s.mu.Lock()
		s.entries["__realtime_sweep"] = id
		s.mu.Unlock()
	}
	s.cron.Start()
}

// Stop halts dispatching; queued deliveries in flight finish.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = map[string]*time.Timer{}
}

// SendNow delivers immediately, outside any schedule.
func (s *Scheduler) SendNow(to []string, subject, body string) error {
	return s.mailer.Send(to, subject, body)
}

// ScheduleEmail persists and arms a new task. recurrence is one of the
// Recur* constants.
func (s *Scheduler) ScheduleEmail(recipient, subject, body string, sendAt time.Time, recurrence string) (string, error) {
	switch recurrence {
	case RecurNone, RecurDaily, RecurWeekly, RecurMonthly, RecurYearly:
	default:
		return "", fmt.Errorf("无效的重复周期: %s", recurrence)
	}
	if recurrence == RecurNone && sendAt.Before(s.now()) {
		return "", fmt.Errorf("发送时间已过: %s", sendAt.Format("2006-01-02 15:04"))
	}
	task := ScheduledTask{
		ID:         uuid.NewString(),
		Recipient:  recipient,
		Subject:    subject,
		Body:       body,
		SendAt:     sendAt,
		Recurrence: recurrence,
		CreatedAt:  s.now(),
	}
	s.store.AddScheduled(task)
	s.arm(task)
	return task.ID, nil
}

// AddRealtimeTask registers a daily LLM-composed email.
func (s *Scheduler) AddRealtimeTask(recipient, prompt string) (string, error) {
	if s.llm == nil {
		return "", fmt.Errorf("未配置语言模型，无法创建实时邮件任务")
	}
	task := RealtimeTask{
		ID:        uuid.NewString(),
		Recipient: recipient,
		Prompt:    prompt,
		CreatedAt: s.now(),
	}
	s.store.AddRealtime(task)
	return task.ID, nil
}

// DeleteTask cancels and removes a task of either kind.
func (s *Scheduler) DeleteTask(id string) bool {
	s.mu.Lock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
	if entryID, ok := s.entries[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}
	s.mu.Unlock()
	return s.store.Delete(id)
}

// ScheduledTasks lists pending scheduled tasks.
func (s *Scheduler) ScheduledTasks() []ScheduledTask { return s.store.Scheduled() }

// RealtimeTasks lists registered realtime tasks.
func (s *Scheduler) RealtimeTasks() []RealtimeTask { return s.store.Realtime() }

func (s *Scheduler) arm(task ScheduledTask) {
	if task.Recurrence == RecurNone {
		delay := time.Until(task.SendAt)
		if delay < 0 {
			delay = 0
		}
		timer := time.AfterFunc(delay, func() { s.fireOneShot(task) })
		s.mu.Lock()
		s.timers[task.ID] = timer
		s.mu.Unlock()
		return
	}

	spec := cronSpec(task.SendAt, task.Recurrence)
	entryID, err := s.cron.AddFunc(spec, func() { s.fireRecurring(task.ID) })
	if err != nil {
		s.logger.Error("arm recurring task %s: %v", task.ID, err)
		return
	}
	s.mu.Lock()
	s.entries[task.ID] = entryID
	s.mu.Unlock()
}

// cronSpec derives the cron schedule reproducing the task's send time at
// its recurrence interval.
func cronSpec(t time.Time, recurrence string) string {
	switch recurrence {
	case RecurDaily:
		return fmt.Sprintf("%d %d * * *", t.Minute(), t.Hour())
	case RecurWeekly:
		return fmt.Sprintf("%d %d * * %d", t.Minute(), t.Hour(), int(t.Weekday()))
	case RecurMonthly:
		return fmt.Sprintf("%d %d %d * *", t.Minute(), t.Hour(), t.Day())
	case RecurYearly:
		return fmt.Sprintf("%d %d %d %d *", t.Minute(), t.Hour(), t.Day(), int(t.Month()))
	}
	return ""
}

func (s *Scheduler) fireOneShot(task ScheduledTask) {
	if err := s.mailer.Send([]string{task.Recipient}, task.Subject, task.Body); err != nil {
		s.logger.Error("one-shot task %s failed: %v", task.ID, err)
	}
	s.mu.Lock()
	delete(s.timers, task.ID)
	s.mu.Unlock()
	s.store.Delete(task.ID)
}

func (s *Scheduler) fireRecurring(id string) {
	var task *ScheduledTask
	for _, t := range s.store.Scheduled() {
		if t.ID == id {
			task = &t
			break
		}
	}
	if task == nil {
		return
	}
	if err := s.mailer.Send([]string{task.Recipient}, task.Subject, task.Body); err != nil {
		s.logger.Error("recurring task %s failed: %v", id, err)
		return
	}
	s.store.AdvanceRecurring(id, nextOccurrence(task.SendAt, task.Recurrence, s.now()))
}

func nextOccurrence(last time.Time, recurrence string, now time.Time) time.Time {
	next := last
	for !next.After(now) {
		switch recurrence {
		case RecurDaily:
			next = next.AddDate(0, 0, 1)
		case RecurWeekly:
			next = next.AddDate(0, 0, 7)
		case RecurMonthly:
			next = next.AddDate(0, 1, 0)
		case RecurYearly:
			next = next.AddDate(1, 0, 0)
		default:
			return next
		}
	}
	return next
}

func (s *Scheduler) checkRealtime() {
	today := s.now().Format("2006-01-02")
	for _, task := range s.store.Realtime() {
		if task.LastRunDate == today {
			continue
		}
		subject, body, err := s.compose(task.Prompt)
		if err != nil {
			s.logger.Error("compose realtime task %s: %v", task.ID, err)
			continue
		}
		if err := s.mailer.Send([]string{task.Recipient}, subject, body); err != nil {
			s.logger.Error("realtime task %s failed: %v", task.ID, err)
			continue
		}
		s.store.MarkRealtimeRun(task.ID, today)
	}
}

// ComposeDraft drafts an email for the given prompt without sending it.
func (s *Scheduler) ComposeDraft(prompt string) (subject, body string, err error) {
	return s.compose(prompt)
}

// compose asks the LLM for a strict JSON email draft. Markdown fences
// around the JSON are tolerated.
func (s *Scheduler) compose(prompt string) (subject, body string, err error) {
	if s.llm == nil {
		return "", "", fmt.Errorf("no llm client")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	resp, err := s.llm.Complete(ctx, llm.Request{Messages: []llm.Message{
		{Role: "system", Content: "你是一个邮件撰写助手。根据用户的要求撰写一封邮件，" +
			"严格输出 JSON：{\"subject\": \"...\", \"body\": \"...\"}，不要输出其他内容。"},
		{Role: "user", Content: prompt + "\n当前日期：" + s.now().Format("2006-01-02")},
	}})
	if err != nil {
		return "", "", err
	}

	content := strings.TrimSpace(resp.Content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var draft struct {
		Subject string `json:"subject"`
		Body    string `json:"body"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &draft); err != nil {
		return "", "", fmt.Errorf("邮件草稿不是有效 JSON: %w", err)
	}
	if draft.Subject == "" {
		draft.Subject = "每日邮件"
	}
	return draft.Subject, draft.Body, nil
}

// SetClock overrides the scheduler's clock. Test hook.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}
