package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"deskmate/internal/skills"
)

// NoteSkills manages markdown notes under a dedicated directory. Note names
// are bare titles; the .md extension and path handling stay internal.
type NoteSkills struct {
	Dir string
}

func (n *NoteSkills) path(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("笔记名不能为空")
	}
	if strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("笔记名不能包含路径分隔符: %s", name)
	}
	if !strings.HasSuffix(name, ".md") {
		name += ".md"
	}
	return filepath.Join(n.Dir, name), nil
}

func (n *NoteSkills) Register(r *skills.Registry) {
	noteNameNorm := skills.AliasKeys("name", "note", "note_name", "title")
	r.MustRegister(&skills.Func{
		SkillName:        "write_note",
		SkillDescription: "新建或覆盖一篇 Markdown 笔记",
		SkillPermission:  skills.PermissionWrite,
		SkillSchema: skills.Schema{
			Required:   []string{"name", "content"},
			Parameters: map[string]any{"name": "note title", "content": "markdown body"},
		},
		SkillNormalizer: noteNameNorm,
		Fn:              n.writeNote,
	})
	r.MustRegister(&skills.Func{
		SkillName:        "read_note",
		SkillDescription: "读取一篇笔记的全文",
		SkillPermission:  skills.PermissionRead,
		SkillSchema: skills.Schema{
			Required:   []string{"name"},
			Parameters: map[string]any{"name": "note title"},
		},
		SkillNormalizer: noteNameNorm,
		Fn:              n.readNote,
	})
	r.MustRegister(&skills.Func{
		SkillName:        "append_note",
		SkillDescription: "在笔记末尾追加内容",
		SkillPermission:  skills.PermissionWrite,
		SkillSchema: skills.Schema{
			Required:   []string{"name", "content"},
			Parameters: map[string]any{"name": "note title", "content": "text to append"},
		},
		SkillNormalizer: noteNameNorm,
		Fn:              n.appendNote,
	})
	r.MustRegister(&skills.Func{
		SkillName:        "search_notes",
		SkillDescription: "按关键词搜索所有笔记",
		SkillPermission:  skills.PermissionRead,
		SkillSchema: skills.Schema{
			Required:   []string{"keyword"},
			Parameters: map[string]any{"keyword": "substring to search for"},
		},
		Fn: n.searchNotes,
	})
	r.MustRegister(&skills.Func{
		SkillName:        "replace_note_text",
		SkillDescription: "替换笔记中的一段文字并返回变更摘要",
		SkillPermission:  skills.PermissionWrite,
		SkillSchema: skills.Schema{
			Required: []string{"name", "old_text", "new_text"},
			Parameters: map[string]any{
				"name":     "note title",
				"old_text": "exact text to replace",
				"new_text": "replacement text",
			},
		},
		SkillNormalizer: noteNameNorm,
		Fn:              n.replaceNoteText,
	})
	r.MustRegister(&skills.Func{
		SkillName:        "list_notes",
		SkillDescription: "列出全部笔记标题",
		SkillPermission:  skills.PermissionRead,
		SkillSchema:      skills.Schema{},
		Fn:               n.listNotes,
	})
	r.MustRegister(&skills.Func{
		SkillName:        "delete_note",
		SkillDescription: "删除一篇笔记",
		SkillPermission:  skills.PermissionWrite,
		SkillSchema: skills.Schema{
			Required:   []string{"name"},
			Parameters: map[string]any{"name": "note title"},
		},
		SkillNormalizer: noteNameNorm,
		Fn:              n.deleteNote,
	})
}

func (n *NoteSkills) writeNote(_ context.Context, args skills.Args) (any, error) {
	name, hasName := stringArg(args, "name")
	content, _ := args["content"].(string)
	if !hasName {
		return fail("缺少 name 参数"), nil
	}
	path, err := n.path(name)
	if err != nil {
		return fail(err.Error()), nil
	}
	if err := os.MkdirAll(n.Dir, 0o755); err != nil {
		return fail(fmt.Sprintf("创建笔记目录失败: %v", err)), nil
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fail(fmt.Sprintf("写入笔记失败: %v", err)), nil
	}
	return ok(fmt.Sprintf("已保存笔记 %s", name), map[string]any{"name": name}), nil
}

func (n *NoteSkills) readNote(_ context.Context, args skills.Args) (any, error) {
	name, hasName := stringArg(args, "name")
	if !hasName {
		return fail("缺少 name 参数"), nil
	}
	path, err := n.path(name)
	if err != nil {
		return fail(err.Error()), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fail(fmt.Sprintf("笔记不存在: %s", name)), nil
	}
	return ok("读取成功", map[string]any{"name": name, "content": string(data)}), nil
}

func (n *NoteSkills) appendNote(_ context.Context, args skills.Args) (any, error) {
	name, hasName := stringArg(args, "name")
	content, _ := args["content"].(string)
	if !hasName {
		return fail("缺少 name 参数"), nil
	}
	path, err := n.path(name)
	if err != nil {
		return fail(err.Error()), nil
	}
	existing, _ := os.ReadFile(path)
	merged := string(existing)
	if merged != "" && !strings.HasSuffix(merged, "\n") {
		merged += "\n"
	}
	merged += content
	if err := os.MkdirAll(n.Dir, 0o755); err != nil {
		return fail(fmt.Sprintf("创建笔记目录失败: %v", err)), nil
	}
	if err := os.WriteFile(path, []byte(merged), 0o644); err != nil {
		return fail(fmt.Sprintf("追加笔记失败: %v", err)), nil
	}
	return ok(fmt.Sprintf("已追加到笔记 %s", name), nil), nil
}

func (n *NoteSkills) searchNotes(_ context.Context, args skills.Args) (any, error) {
	keyword, hasKeyword := stringArg(args, "keyword")
	if !hasKeyword {
		return fail("缺少 keyword 参数"), nil
	}
	keyword = strings.ToLower(keyword)
	entries, err := os.ReadDir(n.Dir)
	if err != nil {
		return ok("没有任何笔记", []any{}), nil
	}
	var hits []map[string]any
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(n.Dir, entry.Name()))
		if err != nil {
			continue
		}
		content := string(data)
		if strings.Contains(strings.ToLower(entry.Name()), keyword) ||
			strings.Contains(strings.ToLower(content), keyword) {
			hits = append(hits, map[string]any{
				"name":    strings.TrimSuffix(entry.Name(), ".md"),
				"preview": preview(content, 120),
			})
		}
	}
	return ok(fmt.Sprintf("找到 %d 篇相关笔记", len(hits)), hits), nil
}

func preview(content string, max int) string {
	content = strings.TrimSpace(content)
	runes := []rune(content)
	if len(runes) > max {
		return string(runes[:max]) + "..."
	}
	return content
}

func (n *NoteSkills) replaceNoteText(_ context.Context, args skills.Args) (any, error) {
	name, hasName := stringArg(args, "name")
	oldText, hasOld := stringArg(args, "old_text")
	newText, _ := args["new_text"].(string)
	if !hasName || !hasOld {
		return fail("缺少 name 或 old_text 参数"), nil
	}
	path, err := n.path(name)
	if err != nil {
		return fail(err.Error()), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fail(fmt.Sprintf("笔记不存在: %s", name)), nil
	}
	before := string(data)
	if !strings.Contains(before, oldText) {
		return fail(fmt.Sprintf("笔记中未找到要替换的文本: %s", preview(oldText, 60))), nil
	}
	after := strings.ReplaceAll(before, oldText, newText)
	if err := os.WriteFile(path, []byte(after), 0o644); err != nil {
		return fail(fmt.Sprintf("写入笔记失败: %v", err)), nil
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, false)
	dmp.DiffCleanupSemantic(diffs)
	var added, removed int
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			added += len([]rune(d.Text))
		case diffmatchpatch.DiffDelete:
			removed += len([]rune(d.Text))
		}
	}
	return ok(fmt.Sprintf("已替换，新增 %d 字、删除 %d 字", added, removed), map[string]any{
		"name":    name,
		"added":   added,
		"removed": removed,
	}), nil
}

func (n *NoteSkills) listNotes(_ context.Context, _ skills.Args) (any, error) {
	entries, err := os.ReadDir(n.Dir)
	if err != nil {
		return ok("没有任何笔记", []any{}), nil
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".md") {
			names = append(names, strings.TrimSuffix(entry.Name(), ".md"))
		}
	}
	return ok(fmt.Sprintf("共 %d 篇笔记", len(names)), names), nil
}

func (n *NoteSkills) deleteNote(_ context.Context, args skills.Args) (any, error) {
	name, hasName := stringArg(args, "name")
	if !hasName {
		return fail("缺少 name 参数"), nil
	}
	path, err := n.path(name)
	if err != nil {
		return fail(err.Error()), nil
	}
	if err := os.Remove(path); err != nil {
		return fail(fmt.Sprintf("删除笔记失败: %v", err)), nil
	}
	return ok(fmt.Sprintf("已删除笔记 %s", name), nil), nil
}
