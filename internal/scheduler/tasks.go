package scheduler

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"deskmate/internal/logging"
)

// Recurrence values for scheduled tasks. Empty means one-shot.
const (
	RecurNone    = ""
	RecurDaily   = "daily"
	RecurWeekly  = "weekly"
	RecurMonthly = "monthly"
	RecurYearly  = "yearly"
)

// ScheduledTask is a concrete email with a delivery time and optional
// recurrence.
type ScheduledTask struct {
	ID         string    `json:"id"`
	Recipient  string    `json:"recipient"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	SendAt     time.Time `json:"send_at"`
	Recurrence string    `json:"recurrence,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// RealtimeTask asks the LLM to compose a fresh email once per day, on the
// first scheduler activity of that day.
type RealtimeTask struct {
	ID          string    `json:"id"`
	Recipient   string    `json:"recipient"`
	Prompt      string    `json:"prompt"`
	LastRunDate string    `json:"last_run_date,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type persistedTasks struct {
	Scheduled []ScheduledTask `json:"scheduled_tasks"`
	Realtime  []RealtimeTask  `json:"realtime_tasks"`
}

// TaskStore persists both task lists in one JSON file.
type TaskStore struct {
	mu     sync.Mutex
	path   string
	tasks  persistedTasks
	logger logging.Logger
}

func NewTaskStore(path string) *TaskStore {
	s := &TaskStore{path: path, logger: logging.NewComponentLogger("scheduler.store")}
	s.load()
	return s
}

func (s *TaskStore) load() {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	var tasks persistedTasks
	if err := json.Unmarshal(data, &tasks); err != nil {
		s.logger.Warn("task file unreadable, starting fresh: %v", err)
		return
	}
	s.tasks = tasks
}

func (s *TaskStore) persistLocked() {
	data, err := json.MarshalIndent(s.tasks, "", "  ")
	if err != nil {
		s.logger.Error("marshal tasks: %v", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		s.logger.Error("task dir: %v", err)
		return
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		s.logger.Error("write tasks: %v", err)
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		s.logger.Error("rename tasks: %v", err)
	}
}

func (s *TaskStore) AddScheduled(task ScheduledTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks.Scheduled = append(s.tasks.Scheduled, task)
	s.persistLocked()
}

func (s *TaskStore) AddRealtime(task RealtimeTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks.Realtime = append(s.tasks.Realtime, task)
	s.persistLocked()
}

// Delete removes the task with the given id from either list. Reports
// whether anything was removed.
func (s *TaskStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, task := range s.tasks.Scheduled {
		if task.ID == id {
			s.tasks.Scheduled = append(s.tasks.Scheduled[:i], s.tasks.Scheduled[i+1:]...)
			s.persistLocked()
			return true
		}
	}
	for i, task := range s.tasks.Realtime {
		if task.ID == id {
			s.tasks.Realtime = append(s.tasks.Realtime[:i], s.tasks.Realtime[i+1:]...)
			s.persistLocked()
			return true
		}
	}
	return false
}

func (s *TaskStore) Scheduled() []ScheduledTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduledTask, len(s.tasks.Scheduled))
	copy(out, s.tasks.Scheduled)
	return out
}

func (s *TaskStore) Realtime() []RealtimeTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RealtimeTask, len(s.tasks.Realtime))
	copy(out, s.tasks.Realtime)
	return out
}

// AdvanceRecurring moves a recurring task's send time forward and persists.
func (s *TaskStore) AdvanceRecurring(id string, next time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.tasks.Scheduled {
		if s.tasks.Scheduled[i].ID == id {
			s.tasks.Scheduled[i].SendAt = next
			s.persistLocked()
			return
		}
	}
}

// MarkRealtimeRun records the day a realtime task last composed and sent.
func (s *TaskStore) MarkRealtimeRun(id, date string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.tasks.Realtime {
		if s.tasks.Realtime[i].ID == id {
			s.tasks.Realtime[i].LastRunDate = date
			s.persistLocked()
			return
		}
	}
}
