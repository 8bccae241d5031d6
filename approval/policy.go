package approval

import (
	"sort"

	"github.com/m4xw311/gatekeep/llm"
)

// Policy is the static per-tool approval rule. Every tool requires approval
// unless it is listed as exempt.
type Policy struct {
	exempt map[string]bool
}

// NewPolicy returns a policy exempting the named tools.
func NewPolicy(exempt []string) Policy {
	p := Policy{exempt: make(map[string]bool, len(exempt))}
	for _, name := range exempt {
		p.exempt[name] = true
	}
	return p
}

// RequiresApproval reports whether a call to name must be confirmed.
func (p Policy) RequiresApproval(name string) bool {
	return !p.exempt[name]
}

// AnyRequiresApproval reports whether at least one call must be confirmed.
// A batch is approved as a whole, so one such call suspends all of them.
func (p Policy) AnyRequiresApproval(calls []llm.ToolCall) bool {
	for _, c := range calls {
		if p.RequiresApproval(c.Name) {
			return true
		}
	}
	return false
}

// Exempt lists the exempt tool names in sorted order.
func (p Policy) Exempt() []string {
	names := make([]string, 0, len(p.exempt))
	for name := range p.exempt {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
