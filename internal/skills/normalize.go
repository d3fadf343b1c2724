package skills

import "strings"

// The normalizers below encode the documented alias contract: given an
// object whose keys may be any alias, produce an object keyed by the
// declared parameter names. They never mutate the input map.

func cloneArgs(args Args) Args {
	out := make(Args, len(args))
	for k, v := range args {
		out[k] = v
	}
	return out
}

// AliasKeys renames any of the alias keys to canonical, first match wins.
// An existing canonical key is left alone.
func AliasKeys(canonical string, aliases ...string) Normalizer {
	return func(args Args) Args {
		if args == nil {
			return Args{}
		}
		out := cloneArgs(args)
		if _, ok := out[canonical]; ok {
			return out
		}
		for _, alias := range aliases {
			if v, ok := out[alias]; ok {
				out[canonical] = v
				delete(out, alias)
				return out
			}
		}
		return out
	}
}

// NormalizeGitHubRepo splits a combined "owner/repo" value in the repo
// field into separate owner and repo arguments.
func NormalizeGitHubRepo(args Args) Args {
	if args == nil {
		return Args{}
	}
	out := cloneArgs(args)
	repo, ok := out["repo"].(string)
	if !ok || !strings.Contains(repo, "/") {
		return out
	}
	parts := strings.SplitN(repo, "/", 2)
	if parts[0] == "" || parts[1] == "" {
		return out
	}
	if _, hasOwner := out["owner"]; !hasOwner {
		out["owner"] = parts[0]
	}
	out["repo"] = parts[1]
	return out
}

// NormalizePathsList canonicalizes batch path arguments: paths, file_paths,
// files and items alias paths_list; a bare string becomes a single-item
// list; a list of {path: ...} objects flattens to the path strings.
func NormalizePathsList(args Args) Args {
	out := AliasKeys("paths_list", "paths", "file_paths", "files", "items")(args)
	raw, ok := out["paths_list"]
	if !ok {
		return out
	}
	switch v := raw.(type) {
	case string:
		out["paths_list"] = []string{v}
	case []any:
		paths := make([]string, 0, len(v))
		for _, item := range v {
			switch elem := item.(type) {
			case string:
				paths = append(paths, elem)
			case map[string]any:
				if p, ok := elem["path"].(string); ok {
					paths = append(paths, p)
				}
			}
		}
		out["paths_list"] = paths
	case []string:
		// already canonical
	}
	return out
}

// NormalizeURLs canonicalizes web-reading arguments: url, web_url and links
// alias urls; a bare string becomes a single-item list; max_pages and
// max_chars receive defaults when absent.
func NormalizeURLs(args Args) Args {
	out := AliasKeys("urls", "url", "web_url", "links")(args)
	if raw, ok := out["urls"]; ok {
		switch v := raw.(type) {
		case string:
			out["urls"] = []string{v}
		case []any:
			urls := make([]string, 0, len(v))
			for _, item := range v {
				if s, ok := item.(string); ok {
					urls = append(urls, s)
				}
			}
			out["urls"] = urls
		}
	}
	if _, ok := out["max_pages"]; !ok {
		out["max_pages"] = 3
	}
	if _, ok := out["max_chars"]; !ok {
		out["max_chars"] = 4000
	}
	return out
}

// Chain applies normalizers left to right.
func Chain(normalizers ...Normalizer) Normalizer {
	return func(args Args) Args {
		for _, n := range normalizers {
			args = n(args)
		}
		return args
	}
}
