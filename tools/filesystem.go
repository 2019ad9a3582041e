// Filesystem Tools - read-only file access.
//
// Information Hiding:
// - File I/O implementation details hidden
// - Path validation and security checks hidden
// - Error handling for file operations abstracted

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// ReadFileTool reads file contents, optionally a line window.
type ReadFileTool struct {
	BaseTool
	allowedPaths []string
	maxSizeBytes int64
}

// NewReadFileTool creates a new read file tool.
func NewReadFileTool(maxSizeBytes int64) *ReadFileTool {
	return &ReadFileTool{
		maxSizeBytes: maxSizeBytes,
	}
}

// WithAllowedPaths sets the allowed path prefixes.
func (t *ReadFileTool) WithAllowedPaths(paths []string) *ReadFileTool {
	t.allowedPaths = paths
	return t
}

// Metadata returns the tool metadata.
func (t *ReadFileTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        "read_file",
		Description: "Read the contents of a file from the filesystem. Use offset and limit to read a window of lines.",
		Parameters: []ToolParameter{
			{Name: "path", ParamType: "string", Description: "Path to the file to read", Required: true},
			{Name: "offset", ParamType: "integer", Description: "First line to return, 1-based (default: 1)", Required: false},
			{Name: "limit", ParamType: "integer", Description: "Maximum number of lines to return (default: all)", Required: false},
		},
	}
}

type readFileArgs struct {
	Path   string `json:"path"`
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
}

// Validate validates the arguments.
func (t *ReadFileTool) Validate(args json.RawMessage) error {
	var a readFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if a.Path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if a.Offset < 0 || a.Limit < 0 {
		return fmt.Errorf("offset and limit cannot be negative")
	}
	return nil
}

// Execute reads the file.
func (t *ReadFileTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	var a readFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return FailureResult(fmt.Errorf("invalid arguments: %w", err)), nil
	}

	if !pathAllowed(a.Path, t.allowedPaths) {
		return FailureResultf("access to path '%s' is not allowed", a.Path), nil
	}

	info, err := os.Stat(a.Path)
	if os.IsNotExist(err) {
		return FailureResultf("file does not exist: %s", a.Path), nil
	}
	if err != nil {
		return FailureResult(fmt.Errorf("failed to read file metadata: %w", err)), nil
	}
	if info.IsDir() {
		return FailureResultf("path is a directory: %s", a.Path), nil
	}
	if info.Size() > t.maxSizeBytes {
		return FailureResultf("file too large: %d bytes (max: %d bytes)", info.Size(), t.maxSizeBytes), nil
	}

	content, err := os.ReadFile(a.Path)
	if err != nil {
		return FailureResult(fmt.Errorf("failed to read file: %w", err)), nil
	}
	if a.Offset <= 1 && a.Limit == 0 {
		return SuccessResult(string(content)), nil
	}

	lines := strings.SplitAfter(string(content), "\n")
	start := a.Offset - 1
	if start < 0 {
		start = 0
	}
	if start >= len(lines) {
		return SuccessResult(""), nil
	}
	end := len(lines)
	if a.Limit > 0 && start+a.Limit < end {
		end = start + a.Limit
	}
	return SuccessResult(strings.Join(lines[start:end], "")), nil
}

// ListDirTool lists the entries of a directory.
type ListDirTool struct {
	BaseTool
	allowedPaths []string
}

// NewListDirTool creates a new directory listing tool.
func NewListDirTool() *ListDirTool {
	return &ListDirTool{}
}

// WithAllowedPaths sets the allowed path prefixes.
func (t *ListDirTool) WithAllowedPaths(paths []string) *ListDirTool {
	t.allowedPaths = paths
	return t
}

// Metadata returns the tool metadata.
func (t *ListDirTool) Metadata() ToolMetadata {
	return ToolMetadata{
		Name:        "list_dir",
		Description: "List files and directories in a directory. Directories end with '/'.",
		Parameters: []ToolParameter{
			{Name: "path", ParamType: "string", Description: "Directory to list (default: current directory)", Required: false},
		},
	}
}

type listDirArgs struct {
	Path string `json:"path"`
}

// Execute lists the directory.
func (t *ListDirTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	var a listDirArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &a); err != nil {
			return FailureResult(fmt.Errorf("invalid arguments: %w", err)), nil
		}
	}
	if a.Path == "" {
		a.Path = "."
	}
	if !pathAllowed(a.Path, t.allowedPaths) {
		return FailureResultf("access to path '%s' is not allowed", a.Path), nil
	}

	entries, err := os.ReadDir(a.Path)
	if err != nil {
		return FailureResult(fmt.Errorf("failed to list directory: %w", err)), nil
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return SuccessResult(strings.Join(names, "\n")), nil
}
