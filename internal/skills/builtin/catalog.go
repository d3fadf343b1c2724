package builtin

import (
	"path/filepath"

	"deskmate/internal/ledger"
	"deskmate/internal/scheduler"
	"deskmate/internal/skills"
)

// Deps carries the shared services the builtin skills depend on.
type Deps struct {
	DataDir     string
	Workspace   string // file skills root; defaults to <DataDir>/workspace
	Ledger      *ledger.Ledger
	Scheduler   *scheduler.Scheduler
	GitHubToken string
	Recipient   string
}

// Catalog groups the constructed skill providers so callers can reach the
// ones with extra surface, like the task statistics snippet.
type Catalog struct {
	Files *FileSkills
	Notes *NoteSkills
	Web   *WebSkills
	Tasks *TaskSkills
}

// RegisterAll wires every builtin skill into the registry. The registry is
// left unfrozen so callers can add their own skills before boot completes.
func RegisterAll(r *skills.Registry, deps Deps) *Catalog {
	workspace := deps.Workspace
	if workspace == "" {
		workspace = filepath.Join(deps.DataDir, "workspace")
	}

	c := &Catalog{
		Files: &FileSkills{Root: workspace},
		Notes: &NoteSkills{Dir: filepath.Join(deps.DataDir, "notes")},
		Web:   NewWebSkills(filepath.Join(deps.DataDir, "web_favorites.json")),
		Tasks: NewTaskSkills(filepath.Join(deps.DataDir, "tasks.json")),
	}
	c.Files.Register(r)
	c.Notes.Register(r)
	c.Web.Register(r)
	c.Tasks.Register(r)

	NewGitHubSkills(deps.GitHubToken).Register(r)

	if deps.Ledger != nil {
		(&UsageSkills{Ledger: deps.Ledger}).Register(r)
	}
	if deps.Scheduler != nil {
		(&EmailSkills{Scheduler: deps.Scheduler, DefaultRecipient: deps.Recipient}).Register(r)
	}
	return c
}
