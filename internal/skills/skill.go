// Package skills holds the registry the agent core dispatches through.
// Skills are trusted in-process callables; the registry adds schemas,
// permissions and argument normalization on top of them.
package skills

import "context"

// Permission tags a skill as read-only or mutating. The planner's
// information-gathering sub-loop may only touch read skills.
type Permission string

const (
	PermissionRead  Permission = "read"
	PermissionWrite Permission = "write"
)

// Schema documents a skill's parameters for prompt assembly and binding.
type Schema struct {
	Required   []string       `json:"required"`
	Parameters map[string]any `json:"parameters"`
}

// Args is a skill argument object as the LLM emits it.
type Args = map[string]any

// Normalizer maps aliased or misspelled argument keys onto the declared
// parameter names. Applied before every invocation.
type Normalizer func(Args) Args

// Skill is a named callable with metadata. Call never panics; failures come
// back as an error or as a result map carrying success=false.
type Skill interface {
	Name() string
	Description() string
	Permission() Permission
	Schema() Schema
	Normalize(args Args) Args
	Call(ctx context.Context, args Args) (any, error)
}

// Func adapts a plain function into a Skill.
type Func struct {
	SkillName        string
	SkillDescription string
	SkillPermission  Permission
	SkillSchema      Schema
	SkillNormalizer  Normalizer
	Fn               func(ctx context.Context, args Args) (any, error)
}

func (f *Func) Name() string        { return f.SkillName }
func (f *Func) Description() string { return f.SkillDescription }
func (f *Func) Schema() Schema      { return f.SkillSchema }

func (f *Func) Permission() Permission {
	if f.SkillPermission == "" {
		// Unknown skills default to write, which keeps them out of the
		// planner's sub-loop.
		return PermissionWrite
	}
	return f.SkillPermission
}

func (f *Func) Normalize(args Args) Args {
	if f.SkillNormalizer == nil {
		return args
	}
	return f.SkillNormalizer(args)
}

func (f *Func) Call(ctx context.Context, args Args) (any, error) {
	return f.Fn(ctx, args)
}
