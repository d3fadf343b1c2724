// Package builtin provides the local skill catalog: file, note, web, task,
// GitHub, email and usage skills, registered behind the skills.Registry.
package builtin

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"deskmate/internal/skills"
)

// result is the conventional skill return shape. Skills report failures in
// the payload instead of panicking.
func ok(message string, data any) map[string]any {
	return map[string]any{"success": true, "message": message, "data": data}
}

func fail(message string) map[string]any {
	return map[string]any{"success": false, "message": message}
}

func stringArg(args skills.Args, key string) (string, bool) {
	v, ok := args[key].(string)
	return v, ok && v != ""
}

func stringListArg(args skills.Args, key string) []string {
	switch v := args[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{v}
	}
	return nil
}

// FileSkills operates inside a single root directory. Paths in arguments
// are interpreted relative to it; absolute paths escaping the root are
// rejected.
type FileSkills struct {
	Root string
}

func (f *FileSkills) resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("路径不能为空")
	}
	full := filepath.Join(f.Root, filepath.Clean("/"+path))
	if !strings.HasPrefix(full, filepath.Clean(f.Root)+string(filepath.Separator)) && full != filepath.Clean(f.Root) {
		return "", fmt.Errorf("路径超出允许范围: %s", path)
	}
	return full, nil
}

func (f *FileSkills) Register(r *skills.Registry) {
	r.MustRegister(&skills.Func{
		SkillName:        "create_folder",
		SkillDescription: "在桌面工作区创建一个文件夹",
		SkillPermission:  skills.PermissionWrite,
		SkillSchema: skills.Schema{
			Required:   []string{"path"},
			Parameters: map[string]any{"path": "folder path relative to the workspace"},
		},
		Fn: f.createFolder,
	})
	r.MustRegister(&skills.Func{
		SkillName:        "create_folders_batch",
		SkillDescription: "批量创建多个文件夹",
		SkillPermission:  skills.PermissionWrite,
		SkillSchema: skills.Schema{
			Required:   []string{"paths_list"},
			Parameters: map[string]any{"paths_list": "list of folder paths"},
		},
		SkillNormalizer: skills.NormalizePathsList,
		Fn:              f.createFoldersBatch,
	})
	r.MustRegister(&skills.Func{
		SkillName:        "delete_files_batch",
		SkillDescription: "批量删除文件或文件夹",
		SkillPermission:  skills.PermissionWrite,
		SkillSchema: skills.Schema{
			Required:   []string{"paths_list"},
			Parameters: map[string]any{"paths_list": "list of paths to delete"},
		},
		SkillNormalizer: skills.NormalizePathsList,
		Fn:              f.deleteFilesBatch,
	})
	r.MustRegister(&skills.Func{
		SkillName:        "move_file",
		SkillDescription: "移动或重命名文件",
		SkillPermission:  skills.PermissionWrite,
		SkillSchema: skills.Schema{
			Required:   []string{"source", "target_path"},
			Parameters: map[string]any{"source": "current path", "target_path": "new path"},
		},
		SkillNormalizer: skills.AliasKeys("target_path", "target", "destination", "dest"),
		Fn:              f.moveFile,
	})
	r.MustRegister(&skills.Func{
		SkillName:        "copy_file",
		SkillDescription: "复制文件到新位置",
		SkillPermission:  skills.PermissionWrite,
		SkillSchema: skills.Schema{
			Required:   []string{"source", "target_path"},
			Parameters: map[string]any{"source": "source path", "target_path": "copy destination"},
		},
		SkillNormalizer: skills.AliasKeys("target_path", "target", "destination", "dest"),
		Fn:              f.copyFile,
	})
	r.MustRegister(&skills.Func{
		SkillName:        "read_desktop_files",
		SkillDescription: "列出桌面工作区中的文件与文件夹",
		SkillPermission:  skills.PermissionRead,
		SkillSchema: skills.Schema{
			Parameters: map[string]any{"path": "subdirectory to list, defaults to the workspace root"},
		},
		Fn: f.readDesktopFiles,
	})
	r.MustRegister(&skills.Func{
		SkillName:        "search_desktop_files",
		SkillDescription: "按名称片段搜索工作区文件",
		SkillPermission:  skills.PermissionRead,
		SkillSchema: skills.Schema{
			Required:   []string{"keyword"},
			Parameters: map[string]any{"keyword": "substring to match against file names"},
		},
		Fn: f.searchFiles,
	})
	r.MustRegister(&skills.Func{
		SkillName:        "read_path_details",
		SkillDescription: "读取文件或文件夹的详细信息",
		SkillPermission:  skills.PermissionRead,
		SkillSchema: skills.Schema{
			Required:   []string{"path"},
			Parameters: map[string]any{"path": "path to inspect"},
		},
		Fn: f.readPathDetails,
	})
	r.MustRegister(&skills.Func{
		SkillName:        "read_files_batch",
		SkillDescription: "批量读取多个文本文件的内容",
		SkillPermission:  skills.PermissionRead,
		SkillSchema: skills.Schema{
			Required:   []string{"paths_list"},
			Parameters: map[string]any{"paths_list": "list of files to read"},
		},
		SkillNormalizer: skills.NormalizePathsList,
		Fn:              f.readFilesBatch,
	})
}

func (f *FileSkills) createFolder(_ context.Context, args skills.Args) (any, error) {
	path, present := stringArg(args, "path")
	if !present {
		return fail("缺少 path 参数"), nil
	}
	full, err := f.resolve(path)
	if err != nil {
		return fail(err.Error()), nil
	}
	if err := os.MkdirAll(full, 0o755); err != nil {
		return fail(fmt.Sprintf("创建文件夹失败: %v", err)), nil
	}
	return ok(fmt.Sprintf("已创建文件夹 %s", path), map[string]any{"path": path}), nil
}

func (f *FileSkills) createFoldersBatch(ctx context.Context, args skills.Args) (any, error) {
	paths := stringListArg(args, "paths_list")
	if len(paths) == 0 {
		return fail("缺少 paths_list 参数"), nil
	}
	results := make([]map[string]any, 0, len(paths))
	for _, p := range paths {
		out, _ := f.createFolder(ctx, skills.Args{"path": p})
		results = append(results, out.(map[string]any))
	}
	return results, nil
}

func (f *FileSkills) deleteFilesBatch(_ context.Context, args skills.Args) (any, error) {
	paths := stringListArg(args, "paths_list")
	if len(paths) == 0 {
		return fail("缺少 paths_list 参数"), nil
	}
	results := make([]map[string]any, 0, len(paths))
	for _, p := range paths {
		full, err := f.resolve(p)
		if err != nil {
			results = append(results, fail(err.Error()))
			continue
		}
		if _, err := os.Stat(full); err != nil {
			results = append(results, fail(fmt.Sprintf("路径不存在: %s", p)))
			continue
		}
		if err := os.RemoveAll(full); err != nil {
			results = append(results, fail(fmt.Sprintf("删除失败 %s: %v", p, err)))
			continue
		}
		results = append(results, ok(fmt.Sprintf("已删除 %s", p), nil))
	}
	return results, nil
}

func (f *FileSkills) moveFile(_ context.Context, args skills.Args) (any, error) {
	source, okSrc := stringArg(args, "source")
	target, okDst := stringArg(args, "target_path")
	if !okSrc || !okDst {
		return fail("缺少 source 或 target_path 参数"), nil
	}
	src, err := f.resolve(source)
	if err != nil {
		return fail(err.Error()), nil
	}
	dst, err := f.resolve(target)
	if err != nil {
		return fail(err.Error()), nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fail(fmt.Sprintf("创建目标目录失败: %v", err)), nil
	}
	if err := os.Rename(src, dst); err != nil {
		return fail(fmt.Sprintf("移动失败: %v", err)), nil
	}
	return ok(fmt.Sprintf("已移动 %s → %s", source, target), nil), nil
}

func (f *FileSkills) copyFile(_ context.Context, args skills.Args) (any, error) {
	source, okSrc := stringArg(args, "source")
	target, okDst := stringArg(args, "target_path")
	if !okSrc || !okDst {
		return fail("缺少 source 或 target_path 参数"), nil
	}
	src, err := f.resolve(source)
	if err != nil {
		return fail(err.Error()), nil
	}
	dst, err := f.resolve(target)
	if err != nil {
		return fail(err.Error()), nil
	}
	in, err := os.Open(src)
	if err != nil {
		return fail(fmt.Sprintf("打开源文件失败: %v", err)), nil
	}
	defer func() { _ = in.Close() }()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fail(fmt.Sprintf("创建目标目录失败: %v", err)), nil
	}
	out, err := os.Create(dst)
	if err != nil {
		return fail(fmt.Sprintf("创建目标文件失败: %v", err)), nil
	}
	defer func() { _ = out.Close() }()
	if _, err := io.Copy(out, in); err != nil {
		return fail(fmt.Sprintf("复制失败: %v", err)), nil
	}
	return ok(fmt.Sprintf("已复制 %s → %s", source, target), nil), nil
}

func (f *FileSkills) readDesktopFiles(_ context.Context, args skills.Args) (any, error) {
	sub, _ := args["path"].(string)
	dir := f.Root
	if sub != "" {
		full, err := f.resolve(sub)
		if err != nil {
			return fail(err.Error()), nil
		}
		dir = full
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fail(fmt.Sprintf("读取目录失败: %v", err)), nil
	}
	items := make([]map[string]any, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		items = append(items, map[string]any{
			"name":   entry.Name(),
			"is_dir": entry.IsDir(),
			"size":   info.Size(),
		})
	}
	return ok(fmt.Sprintf("共 %d 项", len(items)), items), nil
}

func (f *FileSkills) searchFiles(_ context.Context, args skills.Args) (any, error) {
	keyword, present := stringArg(args, "keyword")
	if !present {
		return fail("缺少 keyword 参数"), nil
	}
	keyword = strings.ToLower(keyword)
	var matches []string
	err := filepath.WalkDir(f.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if strings.Contains(strings.ToLower(d.Name()), keyword) {
			rel, relErr := filepath.Rel(f.Root, path)
			if relErr == nil && rel != "." {
				matches = append(matches, rel)
			}
		}
		return nil
	})
	if err != nil {
		return fail(fmt.Sprintf("搜索失败: %v", err)), nil
	}
	return ok(fmt.Sprintf("找到 %d 个匹配项", len(matches)), matches), nil
}

func (f *FileSkills) readPathDetails(_ context.Context, args skills.Args) (any, error) {
	path, present := stringArg(args, "path")
	if !present {
		return fail("缺少 path 参数"), nil
	}
	full, err := f.resolve(path)
	if err != nil {
		return fail(err.Error()), nil
	}
	info, err := os.Stat(full)
	if err != nil {
		return fail(fmt.Sprintf("路径不存在: %s", path)), nil
	}
	return ok("读取成功", map[string]any{
		"path":     path,
		"is_dir":   info.IsDir(),
		"size":     info.Size(),
		"modified": info.ModTime().Format("2006-01-02 15:04:05"),
	}), nil
}

func (f *FileSkills) readFilesBatch(_ context.Context, args skills.Args) (any, error) {
	paths := stringListArg(args, "paths_list")
	if len(paths) == 0 {
		return fail("缺少 paths_list 参数"), nil
	}
	const maxBytes = 64 * 1024
	results := make([]map[string]any, 0, len(paths))
	for _, p := range paths {
		full, err := f.resolve(p)
		if err != nil {
			results = append(results, fail(err.Error()))
			continue
		}
		data, err := os.ReadFile(full)
		if err != nil {
			results = append(results, fail(fmt.Sprintf("读取失败 %s: %v", p, err)))
			continue
		}
		content := string(data)
		if len(content) > maxBytes {
			content = content[:maxBytes] + "\n...(截断)"
		}
		results = append(results, ok(fmt.Sprintf("已读取 %s", p), map[string]any{
			"path": p, "content": content,
		}))
	}
	return results, nil
}
