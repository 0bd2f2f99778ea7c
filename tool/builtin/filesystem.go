package builtin

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/alexbeletsky/transcribe-talk/core"
	"github.com/alexbeletsky/transcribe-talk/tool"
)

type dirItem struct {
	name    string
	dir     bool
	size    int64
	modTime time.Time
}

// NewListDirectory returns the list_directory tool.
func NewListDirectory(ws *Workspace, opts Options) tool.Tool {
	def := tool.Definition{
		Name:        "list_directory",
		Description: "List the contents of a directory, including files and subdirectories",
		Parameters: []tool.Parameter{
			{Name: "path", Type: tool.String, Description: "The directory path to list. Use '.' for current directory.", Default: "."},
			{Name: "show_hidden", Type: tool.Boolean, Description: "Whether to include hidden files (starting with .)", Default: false},
			{Name: "sort_by", Type: tool.String, Description: "How to sort results", Enum: []string{"name", "size", "modified", "type"}, Default: "name"},
		},
		Timeout:  10 * time.Second,
		Category: CategoryFileSystem,
	}

	return tool.NewFunctionTool(def, func(tc *core.ToolContext, args map[string]any) (any, error) {
		path := stringArg(args, "path", ".")
		dir := ws.Resolve(path)
		if err := checkRead(tc, ws, opts, dir); err != nil {
			return nil, err
		}

		info, err := os.Stat(dir)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("directory '%s' does not exist", path)
		}
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("'%s' is not a directory", path)
		}

		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, err
		}

		showHidden := boolArg(args, "show_hidden", false)
		items := make([]dirItem, 0, len(entries))
		for _, e := range entries {
			if err := tc.Err(); err != nil {
				return nil, err
			}
			if !showHidden && strings.HasPrefix(e.Name(), ".") {
				continue
			}
			item := dirItem{name: e.Name(), dir: e.IsDir()}
			if fi, err := e.Info(); err == nil {
				item.modTime = fi.ModTime()
				if !item.dir {
					item.size = fi.Size()
				}
			} else {
				tc.Logger().Warn("builtin.list_directory.stat_failed", "name", e.Name(), "error", err.Error())
			}
			items = append(items, item)
		}

		sortItems(items, stringArg(args, "sort_by", "name"))
		return renderListing(dir, items), nil
	})
}

func sortItems(items []dirItem, by string) {
	lower := func(i int) string { return strings.ToLower(items[i].name) }
	switch by {
	case "size":
		sort.SliceStable(items, func(i, j int) bool { return items[i].size > items[j].size })
	case "modified":
		sort.SliceStable(items, func(i, j int) bool { return items[i].modTime.After(items[j].modTime) })
	case "type":
		sort.SliceStable(items, func(i, j int) bool {
			if items[i].dir != items[j].dir {
				return items[i].dir
			}
			return lower(i) < lower(j)
		})
	default:
		sort.SliceStable(items, func(i, j int) bool { return lower(i) < lower(j) })
	}
}

func renderListing(dir string, items []dirItem) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Directory: %s\n", dir)
	if len(items) == 0 {
		sb.WriteString("\n(empty directory)")
		return sb.String()
	}

	var dirs, files []dirItem
	for _, it := range items {
		if it.dir {
			dirs = append(dirs, it)
		} else {
			files = append(files, it)
		}
	}
	if len(dirs) > 0 {
		fmt.Fprintf(&sb, "\nDirectories (%d):\n", len(dirs))
		for _, d := range dirs {
			fmt.Fprintf(&sb, "  [DIR]  %s/\n", d.name)
		}
	}
	if len(files) > 0 {
		fmt.Fprintf(&sb, "\nFiles (%d):\n", len(files))
		for _, f := range files {
			fmt.Fprintf(&sb, "  [FILE] %s (%s)\n", f.name, formatSize(f.size))
		}
	}
	fmt.Fprintf(&sb, "\nTotal: %d directories, %d files", len(dirs), len(files))
	return sb.String()
}

const (
	previewThreshold = 50
	previewLines     = 10
	headerThreshold  = 20
)

// NewReadFile returns the read_file tool.
func NewReadFile(ws *Workspace, opts Options) tool.Tool {
	def := tool.Definition{
		Name:        "read_file",
		Description: "Read the contents of a text file",
		Parameters: []tool.Parameter{
			{Name: "file_path", Type: tool.String, Description: "Path to the file to read", Required: true},
			{Name: "max_lines", Type: tool.Integer, Description: "Maximum number of lines to read (default: all)"},
			{Name: "preview", Type: tool.Boolean, Description: "If true, only show first and last 10 lines for large files", Default: true},
		},
		Timeout:  10 * time.Second,
		Category: CategoryFileSystem,
	}

	return tool.NewFunctionTool(def, func(tc *core.ToolContext, args map[string]any) (any, error) {
		path := stringArg(args, "file_path", "")
		abs := ws.Resolve(path)
		if err := checkRead(tc, ws, opts, abs); err != nil {
			return nil, err
		}

		info, err := os.Stat(abs)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("file '%s' does not exist", path)
		}
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			return nil, fmt.Errorf("'%s' is not a file", path)
		}
		if info.Size() > opts.MaxReadBytes {
			return nil, fmt.Errorf("file too large (%s), maximum allowed: %s", formatSize(info.Size()), formatSize(opts.MaxReadBytes))
		}

		lines, err := readLines(tc, abs, intArg(args, "max_lines", 0))
		if err != nil {
			return nil, err
		}

		if boolArg(args, "preview", true) && len(lines) > previewThreshold {
			var sb strings.Builder
			fmt.Fprintf(&sb, "File: %s\nTotal lines: %d\nSize: %s\n", abs, len(lines), formatSize(info.Size()))
			sb.WriteString("\n--- First 10 lines ---\n")
			sb.WriteString(strings.Join(lines[:previewLines], "\n"))
			sb.WriteString("\n\n--- ... ---\n\n--- Last 10 lines ---\n")
			sb.WriteString(strings.Join(lines[len(lines)-previewLines:], "\n"))
			sb.WriteString("\n\n(Use preview=false to see full content)")
			return sb.String(), nil
		}

		content := strings.Join(lines, "\n")
		if len(lines) > headerThreshold {
			return fmt.Sprintf("File: %s (%d lines, %s)\n\n%s", abs, len(lines), formatSize(info.Size()), content), nil
		}
		return content, nil
	})
}

func readLines(tc *core.ToolContext, path string, max int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if err := tc.Err(); err != nil {
			return nil, err
		}
		lines = append(lines, sc.Text())
		if max > 0 && len(lines) >= max {
			break
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return lines, nil
}

func checkRead(tc *core.ToolContext, ws *Workspace, opts Options, abs string) error {
	if ws.Contains(abs) {
		return nil
	}
	if opts.ConfineReads {
		return fmt.Errorf("cannot read outside the workspace: %s", abs)
	}
	tc.Logger().Warn("builtin.read_outside_workspace", "tool", tc.ToolName(), "path", abs)
	return nil
}

// NewWriteFile returns the write_file tool. It only writes inside ws.
func NewWriteFile(ws *Workspace) tool.Tool {
	def := tool.Definition{
		Name:        "write_file",
		Description: "Write or create a text file",
		Parameters: []tool.Parameter{
			{Name: "file_path", Type: tool.String, Description: "Path where to write the file", Required: true},
			{Name: "content", Type: tool.String, Description: "Content to write to the file", Required: true},
			{Name: "mode", Type: tool.String, Description: "Write mode: 'write' (overwrite) or 'append' (add to end)", Enum: []string{"write", "append"}, Default: "write"},
			{Name: "create_dirs", Type: tool.Boolean, Description: "Create parent directories if they don't exist", Default: false},
		},
		Timeout:     10 * time.Second,
		Destructive: true,
		Category:    CategoryFileSystem,
	}

	return tool.NewFunctionTool(def, func(tc *core.ToolContext, args map[string]any) (any, error) {
		path := stringArg(args, "file_path", "")
		abs := ws.Resolve(path)
		if !ws.Contains(abs) {
			return nil, fmt.Errorf("cannot write files outside the workspace")
		}
		if err := tc.Err(); err != nil {
			return nil, err
		}

		parent := filepath.Dir(abs)
		if boolArg(args, "create_dirs", false) {
			if err := os.MkdirAll(parent, 0o755); err != nil {
				return nil, err
			}
		} else if _, err := os.Stat(parent); errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("directory '%s' does not exist, use create_dirs=true to create it", parent)
		}

		_, statErr := os.Stat(abs)
		existed := statErr == nil

		flag := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
		appendMode := stringArg(args, "mode", "write") == "append"
		if appendMode {
			flag = os.O_CREATE | os.O_WRONLY | os.O_APPEND
		}

		f, err := os.OpenFile(abs, flag, 0o644)
		if err != nil {
			return nil, err
		}
		content := stringArg(args, "content", "")
		if _, err := f.WriteString(content); err != nil {
			f.Close()
			return nil, err
		}
		if err := f.Close(); err != nil {
			return nil, err
		}

		action := "Created"
		switch {
		case existed && appendMode:
			action = "Appended to"
		case existed:
			action = "Overwrote"
		}
		return fmt.Sprintf("%s file: %s (%s written)", action, abs, formatSize(int64(len(content)))), nil
	})
}
