package tools

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/m4xw311/gatekeep/config"
	"github.com/m4xw311/gatekeep/errors"
	"github.com/m4xw311/gatekeep/logging"
)

// Tool defines the interface for any action the agent can take.
type Tool interface {
	Name() string
	Description() string
	Schema() *Schema
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// ToolRegistry holds all available tools. It is only mutated while the
// program wires itself up; afterwards it is read-only.
type ToolRegistry struct {
	mu        sync.RWMutex
	tools     map[string]Tool
	validator Validator
}

// New returns an empty registry using the DefaultValidator.
func New() *ToolRegistry {
	return &ToolRegistry{
		tools:     make(map[string]Tool),
		validator: DefaultValidator{},
	}
}

// NewToolRegistry returns a registry holding the builtin tools configured by cfg.
func NewToolRegistry(cfg *config.Config, logger *slog.Logger) *ToolRegistry {
	if logger == nil {
		logger = logging.Nop()
	}
	r := New()
	for _, t := range []Tool{
		&ReadFileTool{fsAccess: &cfg.FilesystemAccess},
		&WriteFileTool{fsAccess: &cfg.FilesystemAccess},
		&EditFileTool{fsAccess: &cfg.FilesystemAccess},
		&ListDirectoryTool{fsAccess: &cfg.FilesystemAccess},
		&ExecuteCommandTool{allowedCommands: cfg.AllowedCommands, logger: logger},
	} {
		// Builtin names are unique; Register cannot fail here.
		_ = r.Register(t)
	}
	return r
}

// Register adds a tool. Names must be non-empty and unique.
func (r *ToolRegistry) Register(t Tool) error {
	if t == nil {
		return errors.New("tool is nil")
	}
	name := strings.TrimSpace(t.Name())
	if name == "" {
		return errors.New("tool name is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return errors.New("tool '%s' already registered", name)
	}
	r.tools[name] = t
	return nil
}

func (r *ToolRegistry) GetTool(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Lookup is GetTool returning a *errors.LookupError for unknown names.
func (r *ToolRegistry) Lookup(name string) (Tool, error) {
	t, ok := r.GetTool(name)
	if !ok {
		return nil, &errors.LookupError{Tool: name}
	}
	return t, nil
}

// List returns the registered tools sorted by name.
func (r *ToolRegistry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Validate checks args against the named tool's schema.
func (r *ToolRegistry) Validate(name string, args map[string]any) error {
	t, err := r.Lookup(name)
	if err != nil {
		return err
	}
	if err := r.validator.Validate(args, t.Schema()); err != nil {
		return &errors.ValidationError{Tool: name, Err: err}
	}
	return nil
}

// Execute looks up, validates and runs a tool. Failures are typed: a
// *errors.LookupError, a *errors.ValidationError or a *errors.ExecutionError.
func (r *ToolRegistry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	t, err := r.Lookup(name)
	if err != nil {
		return "", err
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := r.validator.Validate(args, t.Schema()); err != nil {
		return "", &errors.ValidationError{Tool: name, Err: err}
	}
	out, err := t.Execute(ctx, args)
	if err != nil {
		return "", &errors.ExecutionError{Tool: name, Err: err}
	}
	return out, nil
}

// Subset returns a registry with the tools of ts. Entries may be glob
// patterns such as "gopls.*". A nil toolset keeps every tool.
func (r *ToolRegistry) Subset(ts *config.Toolset) (*ToolRegistry, error) {
	if ts == nil {
		return r, nil
	}
	sub := New()
	sub.validator = r.validator
	for _, pattern := range ts.Tools {
		matched := false
		for _, t := range r.List() {
			ok, err := doublestar.Match(pattern, t.Name())
			if err != nil {
				return nil, fmt.Errorf("invalid tool pattern '%s' in toolset '%s': %w", pattern, ts.Name, err)
			}
			if ok {
				matched = true
				sub.tools[t.Name()] = t
			}
		}
		if !matched {
			return nil, fmt.Errorf("tool '%s' from toolset '%s' is not registered", pattern, ts.Name)
		}
	}
	return sub, nil
}

// isPathRestricted checks if a path matches any of the glob patterns.
func isPathRestricted(path string, patterns []string) (bool, error) {
	for _, pattern := range patterns {
		match, err := doublestar.PathMatch(pattern, path)
		if err != nil {
			return false, fmt.Errorf("invalid glob pattern '%s': %w", pattern, err)
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}

// isCommandAllowed checks a command against the regexp allowlist. An empty
// allowlist allows everything; approval is the guard in that case.
func isCommandAllowed(command string, allowed []string, logger *slog.Logger) (bool, error) {
	if strings.TrimSpace(command) == "" {
		return false, nil
	}
	if len(allowed) == 0 {
		return true, nil
	}

	for _, pattern := range allowed {
		re, err := regexp.Compile(pattern)
		if err != nil {
			logger.Warn("invalid regex in allowed_commands", "pattern", pattern, "err", err)
			// Fallback to simple string comparison if regex is invalid
			if command == pattern {
				return true, nil
			}
			continue
		}
		if re.MatchString(command) {
			return true, nil
		}
	}
	return false, nil
}
