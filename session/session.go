// Package session owns the conversation a user has with gatekeep: the
// append-only message history and the turn currently in flight.
package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/m4xw311/gatekeep/agent"
	"github.com/m4xw311/gatekeep/approval"
	"github.com/m4xw311/gatekeep/errors"
	"github.com/m4xw311/gatekeep/llm"
	"github.com/m4xw311/gatekeep/logging"
)

var (
	ErrBusy                = errors.Sentinel("a turn is already in progress")
	ErrEmptyInput          = errors.Sentinel("input is empty")
	ErrNotAwaitingApproval = errors.Sentinel("no tool calls are awaiting approval")
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleError     Role = "error"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Snapshot is a copy of the session state for rendering.
type Snapshot struct {
	Messages         []Message
	IsLoading        bool
	AwaitingApproval bool
	PendingToolCalls []approval.Request
}

// Session serialises turns: at most one is in flight, and while it waits for
// approval no new input is accepted.
type Session struct {
	mu       sync.Mutex
	messages []Message
	loading  bool
	awaiting bool
	turn     *agent.Turn

	loop     *agent.Loop
	gate     *approval.Gate
	observer func()
	logger   *slog.Logger
}

func New(loop *agent.Loop, gate *approval.Gate, logger *slog.Logger) *Session {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Session{loop: loop, gate: gate, logger: logger}
}

// WithObserver registers fn to be called after every state change. fn runs
// without the session lock held and may call Snapshot.
func (s *Session) WithObserver(fn func()) *Session {
	s.mu.Lock()
	s.observer = fn
	s.mu.Unlock()
	return s
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Messages:         append([]Message(nil), s.messages...),
		IsLoading:        s.loading,
		AwaitingApproval: s.awaiting,
	}
	if s.awaiting && s.turn != nil {
		snap.PendingToolCalls = append([]approval.Request(nil), s.turn.Pending...)
	}
	return snap
}

// Submit appends the user's input and runs a turn for it, returning once the
// turn has finished or is waiting for approval. It returns ErrEmptyInput for
// blank text and ErrBusy while another turn is in flight; in both cases the
// history is unchanged.
func (s *Session) Submit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyInput
	}

	s.mu.Lock()
	if loading, awaiting := s.loading, s.awaiting; loading || awaiting {
		s.mu.Unlock()
		s.logger.Debug("submit rejected", "loading", loading, "awaiting", awaiting)
		return ErrBusy
	}
	history := toLLM(s.messages)
	s.messages = append(s.messages, Message{Role: RoleUser, Content: text})
	s.loading = true
	turn := agent.NewTurn(text, history)
	s.turn = turn
	s.mu.Unlock()
	s.notify()

	s.logger.Info("turn submitted", "turn", turn.ID)
	s.complete(turn, s.loop.Start(ctx, turn))
	return nil
}

// Approve runs the pending batch. It returns ErrNotAwaitingApproval, and
// does nothing, unless a batch is pending.
func (s *Session) Approve(ctx context.Context) error { return s.decide(ctx, true) }

// Reject discards the pending batch. It returns ErrNotAwaitingApproval, and
// does nothing, unless a batch is pending.
func (s *Session) Reject(ctx context.Context) error { return s.decide(ctx, false) }

func (s *Session) decide(ctx context.Context, approved bool) error {
	s.mu.Lock()
	if !s.awaiting {
		s.mu.Unlock()
		return ErrNotAwaitingApproval
	}
	batch, err := s.gate.Decide(approved)
	if err != nil {
		s.mu.Unlock()
		if errors.Is(err, approval.ErrNotAwaitingApproval) {
			return ErrNotAwaitingApproval
		}
		return err
	}
	s.awaiting = false
	s.loading = true
	turn := s.turn
	s.mu.Unlock()
	s.notify()

	s.logger.Info("batch decided", "turn", turn.ID, "approved", approved)
	s.complete(turn, s.loop.Resume(ctx, turn, batch))
	return nil
}

// complete records the outcome of Start or Resume.
func (s *Session) complete(turn *agent.Turn, out agent.Outcome) {
	s.mu.Lock()
	s.loading = false
	if out.Awaiting {
		s.awaiting = true
	} else {
		role := RoleAssistant
		if out.Reply.IsError {
			role = RoleError
		}
		s.messages = append(s.messages, Message{Role: role, Content: out.Reply.Text})
		s.turn = nil
	}
	s.mu.Unlock()
	s.logger.Debug("turn state", "turn", turn.ID, "awaiting", out.Awaiting, "error", out.Reply.IsError)
	s.notify()
}

func (s *Session) notify() {
	s.mu.Lock()
	fn := s.observer
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func toLLM(messages []Message) []llm.Message {
	out := make([]llm.Message, len(messages))
	for i, m := range messages {
		out[i] = llm.Message{Role: llm.Role(m.Role), Content: m.Content}
	}
	return out
}
