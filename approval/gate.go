// Package approval holds tool calls that need a human decision and executes
// them once, as a batch, after approval.
package approval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/m4xw311/gatekeep/errors"
	"github.com/m4xw311/gatekeep/llm"
	"github.com/m4xw311/gatekeep/logging"
	"github.com/m4xw311/gatekeep/tools"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNotIdle             = errors.Sentinel("approval gate is not idle")
	ErrNotAwaitingApproval = errors.Sentinel("no tool calls are awaiting approval")
	ErrBatchResolved       = errors.Sentinel("batch already resolved")
	ErrBatchRejected       = errors.Sentinel("batch was rejected")
)

// State is the gate's position in the approval lifecycle.
type State int

const (
	Idle State = iota
	AwaitingApproval
	Approved
	Rejected
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingApproval:
		return "awaiting_approval"
	case Approved:
		return "approved"
	case Rejected:
		return "rejected"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Registry is the part of the tool registry the gate needs.
type Registry interface {
	Lookup(name string) (tools.Tool, error)
	Validate(name string, args map[string]any) error
	Execute(ctx context.Context, name string, args map[string]any) (string, error)
}

// Request is one tool call held by the gate. CallID is the gate's own key;
// ModelCallID is the id the model used and is needed to report results.
type Request struct {
	CallID      string
	ModelCallID string
	ToolName    string
	Args        map[string]any
}

// Result is the output of one executed request.
type Result struct {
	Request Request
	Output  string
}

type callback func(ctx context.Context) (string, error)

// Gate owns the callId to callback table and the batch state machine. Each
// callback is registered once and taken at most once; every resolution path
// removes the entries of its batch.
type Gate struct {
	mu        sync.Mutex
	registry  Registry
	policy    Policy
	state     State
	pending   []Request
	callbacks map[string]callback
	logger    *slog.Logger
	now       func() time.Time
}

// New returns an idle gate.
func New(registry Registry, policy Policy, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Gate{
		registry:  registry,
		policy:    policy,
		callbacks: make(map[string]callback),
		logger:    logger,
		now:       time.Now,
	}
}

func (g *Gate) Policy() Policy { return g.policy }

func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Pending returns a copy of the requests awaiting a decision.
func (g *Gate) Pending() []Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Request(nil), g.pending...)
}

// Outstanding reports how many callbacks are registered and not yet taken.
func (g *Gate) Outstanding() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.callbacks)
}

// Open queues the calls of one generation step for a decision. Arguments of
// known tools are validated first; on failure nothing is registered and the
// gate stays idle. Unknown tools are queued and fail when executed.
func (g *Gate) Open(calls []llm.ToolCall) ([]Request, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != Idle {
		return nil, ErrNotIdle
	}
	reqs, err := g.prepare(calls)
	if err != nil {
		return nil, err
	}
	g.state = AwaitingApproval
	g.pending = reqs
	g.logger.Info("awaiting approval", "calls", len(reqs), "tools", toolNames(reqs))
	return append([]Request(nil), reqs...), nil
}

// Decide resolves the pending batch. The awaiting state is cleared before the
// batch is handed out, so a second decision gets ErrNotAwaitingApproval.
func (g *Gate) Decide(approved bool) (*Batch, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != AwaitingApproval {
		return nil, ErrNotAwaitingApproval
	}
	reqs := g.pending
	g.pending = nil
	if approved {
		g.state = Approved
	} else {
		g.state = Rejected
	}
	g.logger.Info("batch decided", "approved", approved, "calls", len(reqs))
	return &Batch{gate: g, requests: reqs, approved: approved}, nil
}

// RunUnattended executes calls that need no approval, with the same
// register, take and all-or-nothing rules as an approved batch.
func (g *Gate) RunUnattended(ctx context.Context, calls []llm.ToolCall) ([]Result, error) {
	g.mu.Lock()
	if g.state != Idle {
		g.mu.Unlock()
		return nil, ErrNotIdle
	}
	reqs, err := g.prepare(calls)
	if err != nil {
		g.mu.Unlock()
		return nil, err
	}
	g.state = Approved
	g.mu.Unlock()

	g.logger.Debug("running exempt calls", "calls", len(reqs), "tools", toolNames(reqs))
	b := &Batch{gate: g, requests: reqs, approved: true}
	return b.Execute(ctx)
}

// prepare validates and registers calls. Callers hold g.mu.
func (g *Gate) prepare(calls []llm.ToolCall) ([]Request, error) {
	reqs := make([]Request, 0, len(calls))
	for _, c := range calls {
		if _, err := g.registry.Lookup(c.Name); err == nil {
			if err := g.registry.Validate(c.Name, c.Args); err != nil {
				return nil, err
			}
		}
		reqs = append(reqs, Request{
			CallID:      g.newCallID(c.Name),
			ModelCallID: c.ID,
			ToolName:    c.Name,
			Args:        c.Args,
		})
	}
	for _, r := range reqs {
		g.register(r)
	}
	return reqs, nil
}

func (g *Gate) newCallID(tool string) string {
	return fmt.Sprintf("%s-%d-%s", tool, g.now().UnixMilli(), uuid.NewString()[:8])
}

// register adds the callback for r. Callers hold g.mu.
func (g *Gate) register(r Request) {
	if _, exists := g.callbacks[r.CallID]; exists {
		// Ids embed a random suffix; a collision is a programming error.
		panic(fmt.Sprintf("approval: call id %s registered twice", r.CallID))
	}
	name, args := r.ToolName, r.Args
	g.callbacks[r.CallID] = func(ctx context.Context) (string, error) {
		return g.registry.Execute(ctx, name, args)
	}
}

// take removes and returns the callback for callID.
func (g *Gate) take(callID string) (callback, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cb, ok := g.callbacks[callID]
	delete(g.callbacks, callID)
	return cb, ok
}

func (g *Gate) finish() {
	g.mu.Lock()
	g.state = Idle
	g.mu.Unlock()
}

// Batch is a decided set of requests. It is resolved exactly once, by
// Execute or Release.
type Batch struct {
	gate     *Gate
	requests []Request
	approved bool

	mu       sync.Mutex
	resolved bool
}

func (b *Batch) Approved() bool { return b.approved }

// Requests returns a copy of the batch members.
func (b *Batch) Requests() []Request { return append([]Request(nil), b.requests...) }

func (b *Batch) resolve() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.resolved {
		return ErrBatchResolved
	}
	b.resolved = true
	return nil
}

// Execute runs every member concurrently and waits for all of them. Results
// are in request order. If any member fails, no results are returned and the
// error is a *BatchError.
func (b *Batch) Execute(ctx context.Context) ([]Result, error) {
	if !b.approved {
		return nil, ErrBatchRejected
	}
	if err := b.resolve(); err != nil {
		return nil, err
	}
	defer b.gate.finish()

	results := make([]Result, len(b.requests))
	failures := make([]error, len(b.requests))
	var g errgroup.Group
	g.SetLimit(max(len(b.requests), 1))
	for i, r := range b.requests {
		cb, ok := b.gate.take(r.CallID)
		if !ok {
			failures[i] = errors.New("call %s has no registered callback", r.CallID)
			continue
		}
		g.Go(func() error {
			start := time.Now()
			out, err := cb(ctx)
			b.gate.logger.Debug("tool finished", "call_id", r.CallID, "tool", r.ToolName, "duration", time.Since(start), "err", err)
			if err != nil {
				failures[i] = err
				return err
			}
			results[i] = Result{Request: r, Output: out}
			return nil
		})
	}
	// Every member runs to completion; failures are collected per member.
	_ = g.Wait()

	var batchErr *BatchError
	for i, err := range failures {
		if err == nil {
			continue
		}
		if batchErr == nil {
			batchErr = &BatchError{Tools: toolNames(b.requests)}
		}
		batchErr.Failures = append(batchErr.Failures, MemberError{
			CallID: b.requests[i].CallID,
			Tool:   b.requests[i].ToolName,
			Err:    err,
		})
	}
	if batchErr != nil {
		b.gate.logger.Warn("batch failed", "tools", batchErr.Tools, "failures", len(batchErr.Failures))
		return nil, batchErr
	}
	return results, nil
}

// Release discards the batch without invoking any callback.
func (b *Batch) Release() error {
	if err := b.resolve(); err != nil {
		return err
	}
	defer b.gate.finish()
	for _, r := range b.requests {
		b.gate.take(r.CallID)
	}
	b.gate.logger.Debug("batch released", "calls", len(b.requests))
	return nil
}

// MemberError is the failure of one batch member.
type MemberError struct {
	CallID string
	Tool   string
	Err    error
}

// BatchError reports a failed batch. Tools names every member, failed or not.
type BatchError struct {
	Tools    []string
	Failures []MemberError
}

func (e *BatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "batch [%s] failed", strings.Join(e.Tools, ", "))
	for _, f := range e.Failures {
		fmt.Fprintf(&b, "; %s: %v", f.Tool, f.Err)
	}
	return b.String()
}

func (e *BatchError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

func toolNames(reqs []Request) []string {
	names := make([]string, len(reqs))
	for i, r := range reqs {
		names[i] = r.ToolName
	}
	return names
}
