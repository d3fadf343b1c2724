package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"deskmate/internal/logging"
	"deskmate/internal/skills"
)

// Task states.
const (
	TaskPending = "pending"
	TaskDone    = "done"
)

// Task is one to-do item.
type Task struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Status    string `json:"status"`
	DueDate   string `json:"due_date,omitempty"`
	CreatedAt string `json:"created_at"`
}

// TaskSkills keeps a to-do list in a JSON file and exposes CRUD plus a
// statistics snapshot that feeds the planner's system prompt.
type TaskSkills struct {
	Path string

	mu     sync.Mutex
	logger logging.Logger
}

func NewTaskSkills(path string) *TaskSkills {
	return &TaskSkills{Path: path, logger: logging.NewComponentLogger("skills.tasks")}
}

func (t *TaskSkills) load() []Task {
	data, err := os.ReadFile(t.Path)
	if err != nil {
		return nil
	}
	var tasks []Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		t.logger.Warn("tasks file unreadable: %v", err)
		return nil
	}
	return tasks
}

func (t *TaskSkills) save(tasks []Task) error {
	data, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(t.Path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(t.Path, data, 0o644)
}

func (t *TaskSkills) Register(r *skills.Registry) {
	titleNorm := skills.AliasKeys("title", "task", "name", "content")
	r.MustRegister(&skills.Func{
		SkillName:        "add_task",
		SkillDescription: "添加一个待办任务",
		SkillPermission:  skills.PermissionWrite,
		SkillSchema: skills.Schema{
			Required:   []string{"title"},
			Parameters: map[string]any{"title": "task title", "due_date": "optional YYYY-MM-DD"},
		},
		SkillNormalizer: titleNorm,
		Fn:              t.addTask,
	})
	r.MustRegister(&skills.Func{
		SkillName:        "update_task",
		SkillDescription: "更新任务状态或标题",
		SkillPermission:  skills.PermissionWrite,
		SkillSchema: skills.Schema{
			Required: []string{"id"},
			Parameters: map[string]any{
				"id":     "task id",
				"title":  "new title, optional",
				"status": "pending or done, optional",
			},
		},
		Fn: t.updateTask,
	})
	r.MustRegister(&skills.Func{
		SkillName:        "delete_task",
		SkillDescription: "删除一个任务",
		SkillPermission:  skills.PermissionWrite,
		SkillSchema: skills.Schema{
			Required:   []string{"id"},
			Parameters: map[string]any{"id": "task id"},
		},
		Fn: t.deleteTask,
	})
	r.MustRegister(&skills.Func{
		SkillName:        "get_tasks",
		SkillDescription: "查看全部待办任务",
		SkillPermission:  skills.PermissionRead,
		SkillSchema: skills.Schema{
			Parameters: map[string]any{"status": "filter by pending/done, optional"},
		},
		Fn: t.getTasks,
	})
	r.MustRegister(&skills.Func{
		SkillName:        "get_task_statistics",
		SkillDescription: "统计任务完成情况",
		SkillPermission:  skills.PermissionRead,
		SkillSchema:      skills.Schema{},
		Fn: func(_ context.Context, _ skills.Args) (any, error) {
			return ok("统计完成", t.Statistics()), nil
		},
	})
}

func (t *TaskSkills) addTask(_ context.Context, args skills.Args) (any, error) {
	title, hasTitle := stringArg(args, "title")
	if !hasTitle {
		return fail("缺少 title 参数"), nil
	}
	due, _ := args["due_date"].(string)

	t.mu.Lock()
	defer t.mu.Unlock()
	tasks := t.load()
	task := Task{
		ID:        uuid.NewString(),
		Title:     title,
		Status:    TaskPending,
		DueDate:   due,
		CreatedAt: time.Now().Format(time.RFC3339),
	}
	tasks = append(tasks, task)
	if err := t.save(tasks); err != nil {
		return fail(fmt.Sprintf("保存任务失败: %v", err)), nil
	}
	return ok(fmt.Sprintf("已添加任务：%s", title), task), nil
}

func (t *TaskSkills) updateTask(_ context.Context, args skills.Args) (any, error) {
	id, hasID := stringArg(args, "id")
	if !hasID {
		return fail("缺少 id 参数"), nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	tasks := t.load()
	for i := range tasks {
		if tasks[i].ID != id {
			continue
		}
		if title, ok2 := stringArg(args, "title"); ok2 {
			tasks[i].Title = title
		}
		if status, ok2 := stringArg(args, "status"); ok2 {
			if status != TaskPending && status != TaskDone {
				return fail(fmt.Sprintf("无效的状态: %s", status)), nil
			}
			tasks[i].Status = status
		}
		if err := t.save(tasks); err != nil {
			return fail(fmt.Sprintf("保存任务失败: %v", err)), nil
		}
		return ok("任务已更新", tasks[i]), nil
	}
	return fail(fmt.Sprintf("任务不存在: %s", id)), nil
}

func (t *TaskSkills) deleteTask(_ context.Context, args skills.Args) (any, error) {
	id, hasID := stringArg(args, "id")
	if !hasID {
		return fail("缺少 id 参数"), nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	tasks := t.load()
	for i := range tasks {
		if tasks[i].ID == id {
			tasks = append(tasks[:i], tasks[i+1:]...)
			if err := t.save(tasks); err != nil {
				return fail(fmt.Sprintf("保存任务失败: %v", err)), nil
			}
			return ok("任务已删除", nil), nil
		}
	}
	return fail(fmt.Sprintf("任务不存在: %s", id)), nil
}

func (t *TaskSkills) getTasks(_ context.Context, args skills.Args) (any, error) {
	filter, _ := args["status"].(string)

	t.mu.Lock()
	defer t.mu.Unlock()
	tasks := t.load()
	if filter != "" {
		filtered := tasks[:0:0]
		for _, task := range tasks {
			if task.Status == filter {
				filtered = append(filtered, task)
			}
		}
		tasks = filtered
	}
	return ok(fmt.Sprintf("共 %d 个任务", len(tasks)), tasks), nil
}

// Statistics returns the counters embedded in the planner prompt.
func (t *TaskSkills) Statistics() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	tasks := t.load()
	stats := map[string]int{"total": len(tasks), "pending": 0, "done": 0}
	for _, task := range tasks {
		switch task.Status {
		case TaskDone:
			stats["done"]++
		default:
			stats["pending"]++
		}
	}
	return stats
}

// StatSummary renders the one-line snippet for the system prompt.
func (t *TaskSkills) StatSummary() string {
	stats := t.Statistics()
	return fmt.Sprintf("[任务统计：共 %d 项，待办 %d 项，已完成 %d 项]",
		stats["total"], stats["pending"], stats["done"])
}
