package tools

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/m4xw311/gatekeep/config"
	"github.com/m4xw311/gatekeep/errors"
	"github.com/pmezard/go-difflib/difflib"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	defaultReadLimit = 2000
	binarySniffBytes = 8000
)

// ReadFileTool implements the tool for reading a file.
type ReadFileTool struct {
	fsAccess *config.FilesystemAccess
}

func (t *ReadFileTool) Name() string { return "read_file" }
func (t *ReadFileTool) Description() string {
	return "Reads a text file. Use offset and limit to page through large files."
}

func (t *ReadFileTool) Schema() *Schema {
	return &Schema{
		Type: "object",
		Properties: map[string]Property{
			"absolutePath": {Type: "string", Description: "Absolute path of the file to read."},
			"offset":       {Type: "integer", Description: "Zero-based line to start from.", Minimum: ptr(0)},
			"limit":        {Type: "integer", Description: "Maximum number of lines to return.", Minimum: ptr(1), Default: defaultReadLimit},
		},
		Required: []string{"absolutePath"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path, err := absolutePathArg(args)
	if err != nil {
		return "", err
	}
	if err := checkAccess(path, t.fsAccess, false); err != nil {
		return "", err
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read file '%s'", path)
	}
	text, err := decodeText(raw)
	if err != nil {
		return "", errors.Wrapf(err, "failed to decode file '%s'", path)
	}
	if isBinary(text) {
		return "", errors.New("'%s' appears to be a binary file", path)
	}

	offset := intArg(args, "offset", 0)
	limit := intArg(args, "limit", defaultReadLimit)
	lines := strings.Split(text, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	total := len(lines)
	if offset == 0 && limit >= total {
		return text, nil
	}
	if offset >= total {
		return "", errors.New("offset %d is past the end of '%s' (%d lines)", offset, path, total)
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return fmt.Sprintf("[lines %d-%d of %d]\n%s\n", offset+1, end, total, strings.Join(lines[offset:end], "\n")), nil
}

// decodeText honours a UTF-8 or UTF-16 byte order mark and otherwise
// assumes UTF-8.
func decodeText(raw []byte) (string, error) {
	r := transform.NewReader(bytes.NewReader(raw), unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	out, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func isBinary(text string) bool {
	sniff := text
	if len(sniff) > binarySniffBytes {
		sniff = sniff[:binarySniffBytes]
	}
	return strings.IndexByte(sniff, 0) >= 0
}

// WriteFileTool implements the tool for writing to a file.
type WriteFileTool struct {
	fsAccess *config.FilesystemAccess
}

func (t *WriteFileTool) Name() string { return "write_file" }
func (t *WriteFileTool) Description() string {
	return "Writes content to a file, replacing it entirely. Parent directories are created."
}

func (t *WriteFileTool) Schema() *Schema {
	return &Schema{
		Type: "object",
		Properties: map[string]Property{
			"absolutePath": {Type: "string", Description: "Absolute path of the file to write."},
			"content":      {Type: "string", Description: "Full new content of the file."},
		},
		Required: []string{"absolutePath", "content"},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path, err := absolutePathArg(args)
	if err != nil {
		return "", err
	}
	content, ok := args["content"].(string)
	if !ok {
		return "", errors.New("missing or invalid 'content' argument")
	}
	if err := checkAccess(path, t.fsAccess, true); err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", errors.Wrapf(err, "failed to create parent directories for '%s'", path)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", errors.Wrapf(err, "failed to write to file '%s'", path)
	}
	return fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), path), nil
}

// EditFileTool replaces exact text in a file and reports the change as a diff.
type EditFileTool struct {
	fsAccess *config.FilesystemAccess
}

func (t *EditFileTool) Name() string { return "edit_file" }
func (t *EditFileTool) Description() string {
	return "Replaces oldString with newString in a file. oldString must match exactly and be unique unless replaceAll is set."
}

func (t *EditFileTool) Schema() *Schema {
	return &Schema{
		Type: "object",
		Properties: map[string]Property{
			"absolutePath": {Type: "string", Description: "Absolute path of the file to edit."},
			"oldString":    {Type: "string", Description: "Exact text to replace."},
			"newString":    {Type: "string", Description: "Replacement text."},
			"replaceAll":   {Type: "boolean", Description: "Replace every occurrence.", Default: false},
		},
		Required: []string{"absolutePath", "oldString", "newString"},
	}
}

func (t *EditFileTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path, err := absolutePathArg(args)
	if err != nil {
		return "", err
	}
	oldString, _ := args["oldString"].(string)
	newString, _ := args["newString"].(string)
	replaceAll, _ := args["replaceAll"].(bool)
	if oldString == "" {
		return "", errors.New("'oldString' must not be empty")
	}
	if oldString == newString {
		return "", errors.New("'oldString' and 'newString' are identical")
	}
	if err := checkAccess(path, t.fsAccess, true); err != nil {
		return "", err
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to stat file '%s'", path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read file '%s'", path)
	}
	before := string(raw)

	count := strings.Count(before, oldString)
	switch {
	case count == 0:
		return "", errors.New("'oldString' not found in '%s'", path)
	case count > 1 && !replaceAll:
		return "", errors.New("'oldString' occurs %d times in '%s'; set replaceAll or add context", count, path)
	}
	n := 1
	if replaceAll {
		n = -1
	}
	after := strings.Replace(before, oldString, newString, n)

	if err := os.WriteFile(path, []byte(after), info.Mode().Perm()); err != nil {
		return "", errors.Wrapf(err, "failed to write to file '%s'", path)
	}
	diff, err := unifiedDiff(path, before, after)
	if err != nil {
		return "", errors.Wrapf(err, "failed to diff '%s'", path)
	}
	return diff, nil
}

func unifiedDiff(path, from, to string) (string, error) {
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(from),
		B:        difflib.SplitLines(to),
		FromFile: path,
		ToFile:   path,
		Context:  3,
	})
}

// ListDirectoryTool lists the entries of a directory.
type ListDirectoryTool struct {
	fsAccess *config.FilesystemAccess
}

func (t *ListDirectoryTool) Name() string { return "list_directory" }
func (t *ListDirectoryTool) Description() string {
	return "Lists the entries of a directory. Directories end with '/'."
}

func (t *ListDirectoryTool) Schema() *Schema {
	return &Schema{
		Type: "object",
		Properties: map[string]Property{
			"absolutePath": {Type: "string", Description: "Absolute path of the directory to list."},
		},
		Required: []string{"absolutePath"},
	}
}

func (t *ListDirectoryTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	path, err := absolutePathArg(args)
	if err != nil {
		return "", err
	}
	if err := checkAccess(path, t.fsAccess, false); err != nil {
		return "", err
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to list directory '%s'", path)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		full := filepath.Join(path, e.Name())
		if hidden, _ := isPathRestricted(full, t.fsAccess.Hidden); hidden {
			continue
		}
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return fmt.Sprintf("%s is empty", path), nil
	}
	return strings.Join(names, "\n"), nil
}

func absolutePathArg(args map[string]any) (string, error) {
	path, ok := args["absolutePath"].(string)
	if !ok || path == "" {
		return "", errors.New("missing or invalid 'absolutePath' argument")
	}
	if !filepath.IsAbs(path) {
		return "", errors.New("path '%s' is not absolute", path)
	}
	return filepath.Clean(path), nil
}

// checkAccess applies the hidden globs, and the read-only globs when write
// is set.
func checkAccess(path string, fsAccess *config.FilesystemAccess, write bool) error {
	if fsAccess == nil {
		return nil
	}
	hidden, err := isPathRestricted(path, fsAccess.Hidden)
	if err != nil {
		return err
	}
	if hidden {
		return errors.New("access denied: path '%s' is hidden", path)
	}
	if !write {
		return nil
	}
	readOnly, err := isPathRestricted(path, fsAccess.ReadOnly)
	if err != nil {
		return err
	}
	if readOnly {
		return errors.New("access denied: path '%s' is read-only", path)
	}
	return nil
}
