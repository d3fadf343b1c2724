package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	lru "github.com/hashicorp/golang-lru/v2"

	"deskmate/internal/logging"
	"deskmate/internal/skills"
)

// WebSkills fetches and extracts readable text from web pages, with an LRU
// cache so replanned turns do not refetch the same URL, plus a small
// favorites store.
type WebSkills struct {
	FavoritesPath string

	httpClient *http.Client
	cache      *lru.Cache[string, string]
	logger     logging.Logger
}

func NewWebSkills(favoritesPath string) *WebSkills {
	cache, _ := lru.New[string, string](64)
	return &WebSkills{
		FavoritesPath: favoritesPath,
		httpClient:    &http.Client{Timeout: 20 * time.Second},
		cache:         cache,
		logger:        logging.NewComponentLogger("skills.web"),
	}
}

func (w *WebSkills) Register(r *skills.Registry) {
	r.MustRegister(&skills.Func{
		SkillName:        "read_web_content_background",
		SkillDescription: "抓取网页并提取正文文本",
		SkillPermission:  skills.PermissionRead,
		SkillSchema: skills.Schema{
			Required: []string{"urls"},
			Parameters: map[string]any{
				"urls":      "list of page URLs",
				"max_pages": "maximum pages to fetch, default 3",
				"max_chars": "maximum characters per page, default 4000",
			},
		},
		SkillNormalizer: skills.NormalizeURLs,
		Fn:              w.readWebContent,
	})
	r.MustRegister(&skills.Func{
		SkillName:        "list_web_favorites",
		SkillDescription: "列出收藏的网页",
		SkillPermission:  skills.PermissionRead,
		SkillSchema:      skills.Schema{},
		Fn:               w.listFavorites,
	})
	r.MustRegister(&skills.Func{
		SkillName:        "add_web_favorite",
		SkillDescription: "收藏一个网页链接",
		SkillPermission:  skills.PermissionWrite,
		SkillSchema: skills.Schema{
			Required:   []string{"url"},
			Parameters: map[string]any{"url": "page URL", "title": "optional title"},
		},
		SkillNormalizer: skills.AliasKeys("url", "web_url", "link"),
		Fn:              w.addFavorite,
	})
}

func intArg(args skills.Args, key string, fallback int) int {
	switch v := args[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return fallback
}

func (w *WebSkills) readWebContent(ctx context.Context, args skills.Args) (any, error) {
	urls := stringListArg(args, "urls")
	if len(urls) == 0 {
		return fail("缺少 urls 参数"), nil
	}
	maxPages := intArg(args, "max_pages", 3)
	maxChars := intArg(args, "max_chars", 4000)
	if maxPages < len(urls) {
		urls = urls[:maxPages]
	}

	results := make([]map[string]any, 0, len(urls))
	for _, url := range urls {
		text, err := w.fetch(ctx, url)
		if err != nil {
			results = append(results, fail(fmt.Sprintf("抓取失败 %s: %v", url, err)))
			continue
		}
		runes := []rune(text)
		if len(runes) > maxChars {
			text = string(runes[:maxChars]) + "...(截断)"
		}
		results = append(results, ok(fmt.Sprintf("已读取 %s", url), map[string]any{
			"url":     url,
			"content": text,
		}))
	}
	return results, nil
}

func (w *WebSkills) fetch(ctx context.Context, url string) (string, error) {
	if text, hit := w.cache.Get(url); hit {
		w.logger.Debug("cache hit: %s", url)
		return text, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; deskmate/1.0)")
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", err
	}
	doc.Find("script, style, noscript, nav, footer, iframe").Remove()
	text := collapseWhitespace(doc.Find("body").Text())
	if text == "" {
		text = collapseWhitespace(doc.Text())
	}
	w.cache.Add(url, text)
	return text, nil
}

func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

type favorite struct {
	URL     string `json:"url"`
	Title   string `json:"title,omitempty"`
	AddedAt string `json:"added_at"`
}

func (w *WebSkills) loadFavorites() []favorite {
	data, err := os.ReadFile(w.FavoritesPath)
	if err != nil {
		return nil
	}
	var favs []favorite
	if err := json.Unmarshal(data, &favs); err != nil {
		w.logger.Warn("favorites file unreadable: %v", err)
		return nil
	}
	return favs
}

func (w *WebSkills) listFavorites(_ context.Context, _ skills.Args) (any, error) {
	favs := w.loadFavorites()
	return ok(fmt.Sprintf("共 %d 个收藏", len(favs)), favs), nil
}

func (w *WebSkills) addFavorite(_ context.Context, args skills.Args) (any, error) {
	url, hasURL := stringArg(args, "url")
	if !hasURL {
		return fail("缺少 url 参数"), nil
	}
	title, _ := args["title"].(string)
	favs := w.loadFavorites()
	for _, f := range favs {
		if f.URL == url {
			return fail("该链接已在收藏中"), nil
		}
	}
	favs = append(favs, favorite{URL: url, Title: title, AddedAt: time.Now().Format(time.RFC3339)})
	data, err := json.MarshalIndent(favs, "", "  ")
	if err != nil {
		return fail(fmt.Sprintf("序列化收藏失败: %v", err)), nil
	}
	if err := os.MkdirAll(filepath.Dir(w.FavoritesPath), 0o755); err != nil {
		return fail(fmt.Sprintf("创建目录失败: %v", err)), nil
	}
	if err := os.WriteFile(w.FavoritesPath, data, 0o644); err != nil {
		return fail(fmt.Sprintf("保存收藏失败: %v", err)), nil
	}
	return ok(fmt.Sprintf("已收藏 %s", url), nil), nil
}
