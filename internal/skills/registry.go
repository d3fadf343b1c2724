package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	agenterrors "deskmate/internal/errors"
	"deskmate/internal/logging"
)

// Registry maps skill names to invokers. Registration happens during boot;
// Freeze makes the catalog immutable before the first turn runs.
type Registry struct {
	mu     sync.RWMutex
	skills map[string]Skill
	frozen bool
	logger logging.Logger
}

func NewRegistry() *Registry {
	return &Registry{
		skills: map[string]Skill{},
		logger: logging.NewComponentLogger("skills"),
	}
}

// Register adds a skill. Duplicate names and post-freeze registration are
// programming errors and fail loudly.
func (r *Registry) Register(skill Skill) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("registry is frozen, cannot register %q", skill.Name())
	}
	name := skill.Name()
	if name == "" {
		return fmt.Errorf("skill has no name")
	}
	if _, exists := r.skills[name]; exists {
		return fmt.Errorf("skill %q already registered", name)
	}
	r.skills[name] = skill
	return nil
}

// MustRegister panics on registration failure. Boot-time only.
func (r *Registry) MustRegister(skill Skill) {
	if err := r.Register(skill); err != nil {
		panic(err)
	}
}

// Freeze locks the catalog.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Get looks up a skill by name.
func (r *Registry) Get(name string) (Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.skills[name]
	return s, ok
}

// Names returns all registered skill names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.skills))
	for name := range r.skills {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Normalize applies the skill's normalizer; unknown names pass the
// arguments through so the invocation can fail with missing_skill instead.
func (r *Registry) Normalize(name string, args Args) Args {
	skill, ok := r.Get(name)
	if !ok {
		return args
	}
	return skill.Normalize(args)
}

// Invoke normalizes the arguments and calls the skill, enforcing the
// context deadline even when the skill ignores its context. Panics inside a
// skill surface as skill-runtime errors, never as crashes.
func (r *Registry) Invoke(ctx context.Context, name string, args Args) (any, error) {
	skill, ok := r.Get(name)
	if !ok {
		return nil, agenterrors.Newf(agenterrors.KindMissingSkill, "missing_skill:%s", name)
	}
	args = skill.Normalize(args)

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: agenterrors.Newf(agenterrors.KindSkillRuntime,
					"skill %s panicked: %v", name, rec)}
			}
		}()
		value, err := skill.Call(ctx, args)
		done <- outcome{value: value, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && agenterrors.KindOf(out.err) == "" {
			return nil, agenterrors.New(agenterrors.KindSkillRuntime, out.err, "")
		}
		return out.value, out.err
	case <-ctx.Done():
		r.logger.Warn("skill %s hit deadline: %v", name, ctx.Err())
		if ctx.Err() == context.DeadlineExceeded {
			return nil, agenterrors.Newf(agenterrors.KindSkillTimeout, "skill_timeout")
		}
		return nil, agenterrors.New(agenterrors.KindCancelled, ctx.Err(), "")
	}
}

var readOnlyPrefixes = []string{"read_", "get_", "list_", "search_", "query_", "check_"}

var mutatingFragments = []string{
	"delete", "remove", "update", "write", "create", "append",
	"set_", "move_", "copy_", "upload", "push", "merge",
}

// ReadOnlyAllowed is the single gate deciding whether the planner's
// sub-loop may call a skill: the name must carry a read prefix and no
// mutating fragment, and the registered permission must be read.
func (r *Registry) ReadOnlyAllowed(name string) bool {
	hasPrefix := false
	for _, prefix := range readOnlyPrefixes {
		if strings.HasPrefix(name, prefix) {
			hasPrefix = true
			break
		}
	}
	if !hasPrefix {
		return false
	}
	for _, fragment := range mutatingFragments {
		if strings.Contains(name, fragment) {
			return false
		}
	}
	if skill, ok := r.Get(name); ok && skill.Permission() != PermissionRead {
		return false
	}
	return true
}

// MetadataEntry is the persisted description of one skill.
type MetadataEntry struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Permission  Permission `json:"permission"`
	Schema      Schema     `json:"schema"`
}

// BriefEntry is the trimmed form embedded in the planner's system prompt.
type BriefEntry struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Required    []string `json:"required,omitempty"`
}

// Metadata returns the full catalog, sorted by name.
func (r *Registry) Metadata() []MetadataEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := make([]MetadataEntry, 0, len(r.skills))
	for _, skill := range r.skills {
		entries = append(entries, MetadataEntry{
			Name:        skill.Name(),
			Description: skill.Description(),
			Permission:  skill.Permission(),
			Schema:      skill.Schema(),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

// Brief derives the prompt-sized catalog from the full metadata.
func (r *Registry) Brief() []BriefEntry {
	full := r.Metadata()
	brief := make([]BriefEntry, 0, len(full))
	for _, entry := range full {
		brief = append(brief, BriefEntry{
			Name:        entry.Name,
			Description: entry.Description,
			Required:    entry.Schema.Required,
		})
	}
	return brief
}

// WriteMetadata persists skills_metadata.json and the derived
// skills_metadata_brief.json under dir.
func (r *Registry) WriteMetadata(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	full, err := json.MarshalIndent(r.Metadata(), "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "skills_metadata.json"), full, 0o644); err != nil {
		return err
	}
	brief, err := json.MarshalIndent(r.Brief(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "skills_metadata_brief.json"), brief, 0o644)
}
