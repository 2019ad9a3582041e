// Glob tool for file discovery.
//
// Information Hiding:
// - Directory walking and hidden-directory pruning hidden
// - "**" segment matching hidden behind matchGlob
// - Result capping hidden

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

const (
	// DefaultGlobMaxResults is the default maximum results per query.
	DefaultGlobMaxResults = 100
	// AbsoluteGlobMaxResults is the hard limit to prevent excessive memory.
	AbsoluteGlobMaxResults = 1000
)

// GlobTool finds files whose relative path matches a pattern.
type GlobTool struct {
	allowedPaths []string
	maxResults   int
}

// NewGlobTool creates a new glob tool.
// If maxResults <= 0, AbsoluteGlobMaxResults is used.
func NewGlobTool(maxResults int) *GlobTool {
	if maxResults <= 0 || maxResults > AbsoluteGlobMaxResults {
		maxResults = AbsoluteGlobMaxResults
	}
	return &GlobTool{maxResults: maxResults}
}

// WithAllowedPaths sets the allowed path prefixes.
func (t *GlobTool) WithAllowedPaths(paths []string) *GlobTool {
	t.allowedPaths = paths
	return t
}

// Metadata returns tool metadata.
func (t *GlobTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        "glob",
		Description: "Find files matching a glob pattern such as '**/*.go'. Returns paths only; hidden directories are skipped.",
		Parameters: []ToolParameter{
			{Name: "pattern", ParamType: "string", Description: "Glob pattern relative to path; '**' matches any number of directories", Required: true},
			{Name: "path", ParamType: "string", Description: "Directory to search from (default: current directory)", Required: false},
			{Name: "max_results", ParamType: "integer", Description: fmt.Sprintf("Maximum files to return (default: %d)", DefaultGlobMaxResults), Required: false},
		},
	}
}

type globArgs struct {
	Pattern    string `json:"pattern"`
	Path       string `json:"path"`
	MaxResults int    `json:"max_results"`
}

// Validate checks that a well-formed pattern was given.
func (t *GlobTool) Validate(args json.RawMessage) error {
	var a globArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if strings.TrimSpace(a.Pattern) == "" {
		return errors.New("pattern is required")
	}
	for _, seg := range strings.Split(filepath.ToSlash(a.Pattern), "/") {
		if seg == "**" {
			continue
		}
		if _, err := path.Match(seg, ""); err != nil {
			return fmt.Errorf("invalid glob pattern %q: %w", a.Pattern, err)
		}
	}
	return nil
}

// Execute walks the base directory and returns matching files, sorted.
func (t *GlobTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	var a globArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return FailureResultf("invalid arguments: %v", err), nil
	}
	if a.Path == "" {
		a.Path = "."
	}
	if !pathAllowed(a.Path, t.allowedPaths) {
		return FailureResultf("access to path '%s' is not allowed", a.Path), nil
	}

	limit := DefaultGlobMaxResults
	if a.MaxResults > 0 {
		limit = a.MaxResults
	}
	if limit > t.maxResults {
		limit = t.maxResults
	}

	info, err := os.Stat(a.Path)
	if err != nil {
		return FailureResultf("path not found: %s", a.Path), nil
	}
	if !info.IsDir() {
		return FailureResultf("path is not a directory: %s", a.Path), nil
	}

	pattern := strings.TrimPrefix(filepath.ToSlash(a.Pattern), "./")
	var matches []string
	truncated := false
	err = filepath.WalkDir(a.Path, func(p string, entry fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if entry != nil && entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if entry.IsDir() {
			if p != a.Path && strings.HasPrefix(entry.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(a.Path, p)
		if err != nil || !matchGlob(pattern, filepath.ToSlash(rel)) {
			return nil
		}
		if len(matches) == limit {
			truncated = true
			return filepath.SkipAll
		}
		matches = append(matches, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return ToolResult{}, err
	}

	sort.Strings(matches)
	if len(matches) == 0 {
		return SuccessResult(fmt.Sprintf("No files match '%s' in %s", a.Pattern, a.Path)), nil
	}
	out := strings.Join(matches, "\n")
	if truncated {
		out += fmt.Sprintf("\n(limited to %d results)", limit)
	}
	return SuccessResult(out), nil
}

// matchGlob reports whether name matches pattern segment by segment.
// A "**" segment matches zero or more directories.
func matchGlob(pattern, name string) bool {
	return matchSegments(strings.Split(pattern, "/"), strings.Split(name, "/"))
}

func matchSegments(pattern, name []string) bool {
	for len(pattern) > 0 {
		if pattern[0] == "**" {
			rest := pattern[1:]
			for i := 0; i <= len(name); i++ {
				if matchSegments(rest, name[i:]) {
					return true
				}
			}
			return false
		}
		if len(name) == 0 {
			return false
		}
		if ok, err := path.Match(pattern[0], name[0]); err != nil || !ok {
			return false
		}
		pattern, name = pattern[1:], name[1:]
	}
	return len(name) == 0
}
