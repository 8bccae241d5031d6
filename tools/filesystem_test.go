package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/m4xw311/gatekeep/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	writeFile(t, path, "one\ntwo\nthree\nfour\n")
	r := NewToolRegistry(config.Default(), nil)
	ctx := context.Background()

	out, err := r.Execute(ctx, "read_file", map[string]any{"absolutePath": path})
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\nthree\nfour\n", out)

	out, err = r.Execute(ctx, "read_file", map[string]any{"absolutePath": path, "offset": float64(1), "limit": float64(2)})
	require.NoError(t, err)
	assert.Equal(t, "[lines 2-3 of 4]\ntwo\nthree\n", out)

	_, err = r.Execute(ctx, "read_file", map[string]any{"absolutePath": path, "offset": float64(9)})
	assert.Error(t, err)

	_, err = r.Execute(ctx, "read_file", map[string]any{"absolutePath": "notes.txt"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not absolute")
}

func TestReadFileUTF16AndBinary(t *testing.T) {
	dir := t.TempDir()
	r := NewToolRegistry(config.Default(), nil)
	ctx := context.Background()

	utf16 := filepath.Join(dir, "utf16.txt")
	// "hi" encoded as UTF-16LE with a byte order mark.
	require.NoError(t, os.WriteFile(utf16, []byte{0xFF, 0xFE, 'h', 0, 'i', 0}, 0o644))
	out, err := r.Execute(ctx, "read_file", map[string]any{"absolutePath": utf16})
	require.NoError(t, err)
	assert.Equal(t, "hi", out)

	bin := filepath.Join(dir, "blob.bin")
	require.NoError(t, os.WriteFile(bin, []byte{0x7f, 'E', 'L', 'F', 0, 0, 1}, 0o644))
	_, err = r.Execute(ctx, "read_file", map[string]any{"absolutePath": bin})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "binary")
}

func TestReadFileHidden(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, config.DirName, "config.yaml")
	writeFile(t, path, "llm: mock\n")

	r := NewToolRegistry(config.Default(), nil)
	_, err := r.Execute(context.Background(), "read_file", map[string]any{"absolutePath": path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hidden")
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.txt")
	cfg := config.Default()
	cfg.FilesystemAccess.ReadOnly = []string{"**/vendor/**"}
	r := NewToolRegistry(cfg, nil)
	ctx := context.Background()

	out, err := r.Execute(ctx, "write_file", map[string]any{"absolutePath": path, "content": "hello"})
	require.NoError(t, err)
	assert.Contains(t, out, "5 bytes")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = r.Execute(ctx, "write_file", map[string]any{"absolutePath": filepath.Join(dir, "vendor", "x.go"), "content": ""})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read-only")
}

func TestEditFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "main.go")
	writeFile(t, path, "package main\n\nfunc a() {}\nfunc a2() {}\n")
	r := NewToolRegistry(config.Default(), nil)
	ctx := context.Background()

	out, err := r.Execute(ctx, "edit_file", map[string]any{
		"absolutePath": path,
		"oldString":    "func a() {}",
		"newString":    "func b() {}",
	})
	require.NoError(t, err)
	assert.Contains(t, out, "-func a() {}")
	assert.Contains(t, out, "+func b() {}")

	_, err = r.Execute(ctx, "edit_file", map[string]any{
		"absolutePath": path,
		"oldString":    "func",
		"newString":    "fn",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "occurs 2 times")

	_, err = r.Execute(ctx, "edit_file", map[string]any{
		"absolutePath": path,
		"oldString":    "func",
		"newString":    "fn",
		"replaceAll":   true,
	})
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "fn "))

	_, err = r.Execute(ctx, "edit_file", map[string]any{
		"absolutePath": path,
		"oldString":    "missing",
		"newString":    "x",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestListDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b.txt"), "")
	writeFile(t, filepath.Join(dir, "a", "x.txt"), "")
	writeFile(t, filepath.Join(dir, config.DirName, "config.yaml"), "")

	r := NewToolRegistry(config.Default(), nil)
	out, err := r.Execute(context.Background(), "list_directory", map[string]any{"absolutePath": dir})
	require.NoError(t, err)
	assert.Equal(t, "a/\nb.txt", out)
}
