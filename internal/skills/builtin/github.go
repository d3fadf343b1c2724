package builtin

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"deskmate/internal/skills"
)

// GitHubSkills talks to the GitHub REST API. Token is optional;
// unauthenticated calls work for public repositories within rate limits.
type GitHubSkills struct {
	Token   string
	BaseURL string

	httpClient *http.Client
}

func NewGitHubSkills(token string) *GitHubSkills {
	return &GitHubSkills{
		Token:      token,
		BaseURL:    "https://api.github.com",
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (g *GitHubSkills) Register(r *skills.Registry) {
	repoSchema := skills.Schema{
		Required: []string{"owner", "repo"},
		Parameters: map[string]any{
			"owner": "repository owner",
			"repo":  "repository name, or combined owner/repo",
		},
	}
	r.MustRegister(&skills.Func{
		SkillName:        "get_github_repo_info",
		SkillDescription: "查询 GitHub 仓库的基本信息",
		SkillPermission:  skills.PermissionRead,
		SkillSchema:      repoSchema,
		SkillNormalizer:  skills.NormalizeGitHubRepo,
		Fn:               g.repoInfo,
	})
	r.MustRegister(&skills.Func{
		SkillName:        "list_github_branches",
		SkillDescription: "列出 GitHub 仓库的分支",
		SkillPermission:  skills.PermissionRead,
		SkillSchema:      repoSchema,
		SkillNormalizer:  skills.NormalizeGitHubRepo,
		Fn:               g.listBranches,
	})
	r.MustRegister(&skills.Func{
		SkillName:        "get_github_file",
		SkillDescription: "读取 GitHub 仓库中的文件内容",
		SkillPermission:  skills.PermissionRead,
		SkillSchema: skills.Schema{
			Required: []string{"owner", "repo", "path"},
			Parameters: map[string]any{
				"owner": "repository owner",
				"repo":  "repository name, or combined owner/repo",
				"path":  "file path in the repository",
			},
		},
		SkillNormalizer: skills.NormalizeGitHubRepo,
		Fn:              g.fileContent,
	})
	r.MustRegister(&skills.Func{
		SkillName:        "create_github_file",
		SkillDescription: "在 GitHub 仓库中创建文件",
		SkillPermission:  skills.PermissionWrite,
		SkillSchema: skills.Schema{
			Required: []string{"owner", "repo", "path", "content", "message"},
			Parameters: map[string]any{
				"owner":   "repository owner",
				"repo":    "repository name, or combined owner/repo",
				"path":    "file path to create",
				"content": "file content",
				"message": "commit message",
			},
		},
		SkillNormalizer: skills.NormalizeGitHubRepo,
		Fn:              g.createFile,
	})
}

func (g *GitHubSkills) do(ctx context.Context, method, path string, payload any) (map[string]any, []any, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, nil, err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.BaseURL+path, body)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if g.Token != "" {
		req.Header.Set("Authorization", "Bearer "+g.Token)
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil, fmt.Errorf("GitHub API %d: %s", resp.StatusCode, preview(string(data), 200))
	}
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err == nil {
		return obj, nil, nil
	}
	var arr []any
	if err := json.Unmarshal(data, &arr); err == nil {
		return nil, arr, nil
	}
	return nil, nil, fmt.Errorf("GitHub 响应无法解析")
}

func repoArgs(args skills.Args) (owner, repo string, err error) {
	owner, hasOwner := stringArg(args, "owner")
	repo, hasRepo := stringArg(args, "repo")
	if !hasOwner || !hasRepo {
		return "", "", fmt.Errorf("缺少 owner 或 repo 参数")
	}
	return owner, repo, nil
}

func (g *GitHubSkills) repoInfo(ctx context.Context, args skills.Args) (any, error) {
	owner, repo, err := repoArgs(args)
	if err != nil {
		return fail(err.Error()), nil
	}
	obj, _, err := g.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s", owner, repo), nil)
	if err != nil {
		return fail(err.Error()), nil
	}
	return ok(fmt.Sprintf("已获取 %s/%s 的信息", owner, repo), map[string]any{
		"full_name":   obj["full_name"],
		"description": obj["description"],
		"stars":       obj["stargazers_count"],
		"forks":       obj["forks_count"],
		"language":    obj["language"],
	}), nil
}

func (g *GitHubSkills) listBranches(ctx context.Context, args skills.Args) (any, error) {
	owner, repo, err := repoArgs(args)
	if err != nil {
		return fail(err.Error()), nil
	}
	_, arr, err := g.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s/branches", owner, repo), nil)
	if err != nil {
		return fail(err.Error()), nil
	}
	var names []string
	for _, item := range arr {
		if branch, ok := item.(map[string]any); ok {
			if name, ok := branch["name"].(string); ok {
				names = append(names, name)
			}
		}
	}
	return ok(fmt.Sprintf("共 %d 个分支", len(names)), names), nil
}

func (g *GitHubSkills) fileContent(ctx context.Context, args skills.Args) (any, error) {
	owner, repo, err := repoArgs(args)
	if err != nil {
		return fail(err.Error()), nil
	}
	path, hasPath := stringArg(args, "path")
	if !hasPath {
		return fail("缺少 path 参数"), nil
	}
	obj, _, err := g.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s/contents/%s", owner, repo, path), nil)
	if err != nil {
		return fail(err.Error()), nil
	}
	encoded, _ := obj["content"].(string)
	decoded, err := base64.StdEncoding.DecodeString(stripNewlines(encoded))
	if err != nil {
		return fail(fmt.Sprintf("解码文件内容失败: %v", err)), nil
	}
	return ok(fmt.Sprintf("已读取 %s", path), map[string]any{
		"path":    path,
		"content": string(decoded),
	}), nil
}

func stripNewlines(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\n' && s[i] != '\r' {
			out = append(out, s[i])
		}
	}
	return string(out)
}

func (g *GitHubSkills) createFile(ctx context.Context, args skills.Args) (any, error) {
	owner, repo, err := repoArgs(args)
	if err != nil {
		return fail(err.Error()), nil
	}
	path, hasPath := stringArg(args, "path")
	content, _ := args["content"].(string)
	message, hasMsg := stringArg(args, "message")
	if !hasPath || !hasMsg {
		return fail("缺少 path 或 message 参数"), nil
	}
	payload := map[string]any{
		"message": message,
		"content": base64.StdEncoding.EncodeToString([]byte(content)),
	}
	if _, _, err := g.do(ctx, http.MethodPut,
		fmt.Sprintf("/repos/%s/%s/contents/%s", owner, repo, path), payload); err != nil {
		return fail(err.Error()), nil
	}
	return ok(fmt.Sprintf("已在 %s/%s 创建 %s", owner, repo, path), nil), nil
}
