package agent

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/m4xw311/gatekeep/approval"
	"github.com/m4xw311/gatekeep/errors"
	"github.com/m4xw311/gatekeep/llm"
	"github.com/m4xw311/gatekeep/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedClient struct {
	mu      sync.Mutex
	replies []*llm.Message
	err     error
	calls   int
}

func (s *scriptedClient) Chat(ctx context.Context, messages []llm.Message, available []tools.Tool) (*llm.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if s.calls >= len(s.replies) {
		return nil, fmt.Errorf("unexpected chat call %d", s.calls+1)
	}
	r := s.replies[s.calls]
	s.calls++
	return r, nil
}

type generateCall struct {
	prompt string
	opts   llm.Options
}

// recordingGenerator wraps a generator and keeps every call it forwards.
type recordingGenerator struct {
	inner llm.Generator
	calls []generateCall
}

func (r *recordingGenerator) Generate(ctx context.Context, prompt string, opts llm.Options) (*llm.Result, error) {
	r.calls = append(r.calls, generateCall{prompt: prompt, opts: opts})
	return r.inner.Generate(ctx, prompt, opts)
}

type spyTool struct {
	name  string
	out   string
	err   error
	calls atomic.Int32
}

func (s *spyTool) Name() string        { return s.name }
func (s *spyTool) Description() string { return "spy" }
func (s *spyTool) Schema() *tools.Schema {
	return &tools.Schema{Type: "object", Properties: map[string]tools.Property{"absolutePath": {Type: "string"}}}
}
func (s *spyTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	s.calls.Add(1)
	return s.out, s.err
}

type fixture struct {
	client *scriptedClient
	gen    *recordingGenerator
	gate   *approval.Gate
	loop   *Loop
}

func newFixture(t *testing.T, replies []*llm.Message, exempt []string, spies ...*spyTool) *fixture {
	t.Helper()
	r := tools.New()
	for _, s := range spies {
		require.NoError(t, r.Register(s))
	}
	client := &scriptedClient{replies: replies}
	gen := &recordingGenerator{inner: llm.NewStepGenerator(client, "scripted", r.List(), nil)}
	gate := approval.New(r, approval.NewPolicy(exempt), nil)
	return &fixture{client: client, gen: gen, gate: gate, loop: New(gen, gate, 5, nil)}
}

func toolReply(calls ...llm.ToolCall) *llm.Message {
	return &llm.Message{Role: llm.RoleAssistant, ToolCalls: calls}
}

func textReply(text string) *llm.Message {
	return &llm.Message{Role: llm.RoleAssistant, Content: text}
}

func readCall(id string) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: "read_file", Args: map[string]any{"absolutePath": "/tmp/x.txt"}}
}

func TestBuildPrompt(t *testing.T) {
	history := []llm.Message{
		{Role: llm.RoleUser, Content: "hi"},
		{Role: llm.RoleAssistant, Content: "hello"},
		{Role: "error", Content: "Generation failed: timeout"},
	}
	assert.Equal(t,
		"user: hi\nassistant: hello\nerror: Generation failed: timeout\nuser: What is 2+2?",
		BuildPrompt(history, "What is 2+2?"))
	assert.Equal(t, "user: first", BuildPrompt(nil, "first"))
}

func TestFollowUpPrompt(t *testing.T) {
	prompt := FollowUpPrompt("read /tmp/x.txt", []approval.Result{
		{Request: approval.Request{ToolName: "read_file"}, Output: "hello\n"},
	})
	assert.Equal(t, "The user asked: read /tmp/x.txt\nTool read_file produced:\nhello\nRespond to the user using these results.", prompt)
}

func TestNewTurnCopiesHistory(t *testing.T) {
	history := []llm.Message{{Role: llm.RoleUser, Content: "a"}}
	turn := NewTurn("b", history)
	history[0].Content = "changed"
	assert.Equal(t, "a", turn.History[0].Content)
	assert.NotEmpty(t, turn.ID)
}

func TestStartDirectAnswer(t *testing.T) {
	f := newFixture(t, []*llm.Message{textReply("4")}, nil)

	out := f.loop.Start(context.Background(), NewTurn("What is 2+2?", nil))
	assert.False(t, out.Awaiting)
	assert.Equal(t, Reply{Text: "4"}, out.Reply)
	assert.Equal(t, approval.Idle, f.gate.State())
}

func TestStartSuspendsAndApprove(t *testing.T) {
	spy := &spyTool{name: "read_file", out: "file body"}
	f := newFixture(t, []*llm.Message{toolReply(readCall("m1")), textReply("It says: file body")}, nil, spy)
	history := []llm.Message{{Role: llm.RoleUser, Content: "earlier"}, {Role: llm.RoleAssistant, Content: "ok"}}
	turn := NewTurn("read /tmp/x.txt", history)
	ctx := context.Background()

	out := f.loop.Start(ctx, turn)
	require.True(t, out.Awaiting)
	require.Len(t, turn.Pending, 1)
	assert.Equal(t, "read_file", turn.Pending[0].ToolName)
	assert.Zero(t, spy.calls.Load(), "nothing runs before approval")

	batch, err := f.gate.Decide(true)
	require.NoError(t, err)
	out = f.loop.Resume(ctx, turn, batch)

	assert.False(t, out.Awaiting)
	assert.Equal(t, Reply{Text: "It says: file body"}, out.Reply)
	assert.Empty(t, turn.Pending)
	assert.Equal(t, int32(1), spy.calls.Load())
	assert.Equal(t, 0, f.gate.Outstanding())

	require.Len(t, f.gen.calls, 2)
	followUp := f.gen.calls[1]
	assert.Equal(t, 1, followUp.opts.MaxSteps)
	assert.True(t, followUp.opts.WithoutTools)
	assert.Nil(t, followUp.opts.OnStepFinish)
	assert.Equal(t, f.gen.calls[0].opts.Context, followUp.opts.Context, "same history snapshot")
	assert.Equal(t, history, followUp.opts.Context)
	assert.Contains(t, followUp.prompt, "Tool read_file produced:\nfile body")
}

func TestResumeRejected(t *testing.T) {
	spy := &spyTool{name: "read_file"}
	f := newFixture(t, []*llm.Message{toolReply(readCall("m1"))}, nil, spy)
	turn := NewTurn("read /tmp/x.txt", nil)
	ctx := context.Background()

	require.True(t, f.loop.Start(ctx, turn).Awaiting)
	batch, err := f.gate.Decide(false)
	require.NoError(t, err)
	out := f.loop.Resume(ctx, turn, batch)

	assert.Equal(t, Reply{Text: DeflectionMessage}, out.Reply)
	assert.Zero(t, spy.calls.Load())
	assert.Len(t, f.gen.calls, 1, "no model call after rejection")
	assert.Equal(t, 0, f.gate.Outstanding())
	assert.Equal(t, approval.Idle, f.gate.State())
}

func TestResumeBatchFailure(t *testing.T) {
	read := &spyTool{name: "read_file", out: "ok"}
	run := &spyTool{name: "execute_command", err: fmt.Errorf("exit status 2")}
	f := newFixture(t, []*llm.Message{toolReply(readCall("1"), llm.ToolCall{ID: "2", Name: "execute_command"})}, nil, read, run)
	turn := NewTurn("check", nil)
	ctx := context.Background()

	require.True(t, f.loop.Start(ctx, turn).Awaiting)
	batch, err := f.gate.Decide(true)
	require.NoError(t, err)
	out := f.loop.Resume(ctx, turn, batch)

	assert.True(t, out.Reply.IsError)
	assert.Contains(t, out.Reply.Text, "read_file")
	assert.Contains(t, out.Reply.Text, "execute_command")
	assert.Len(t, f.gen.calls, 1, "no partial results are sent to the model")
}

func TestResumeDiscardsSecondRoundOfToolCalls(t *testing.T) {
	spy := &spyTool{name: "read_file", out: "x"}
	f := newFixture(t, []*llm.Message{
		toolReply(readCall("1")),
		{Role: llm.RoleAssistant, Content: "done", ToolCalls: []llm.ToolCall{readCall("2")}},
	}, nil, spy)
	turn := NewTurn("read", nil)
	ctx := context.Background()

	require.True(t, f.loop.Start(ctx, turn).Awaiting)
	batch, err := f.gate.Decide(true)
	require.NoError(t, err)
	out := f.loop.Resume(ctx, turn, batch)

	assert.Equal(t, Reply{Text: "done"}, out.Reply)
	assert.Equal(t, int32(1), spy.calls.Load())
	assert.Equal(t, approval.Idle, f.gate.State())
	assert.Equal(t, 0, f.gate.Outstanding())
}

func TestExemptCallsRunUnattended(t *testing.T) {
	list := &spyTool{name: "list_directory", out: "a.txt"}
	f := newFixture(t, []*llm.Message{
		toolReply(llm.ToolCall{ID: "l1", Name: "list_directory", Args: map[string]any{"absolutePath": "/tmp"}}),
		textReply("There is a.txt"),
	}, []string{"list_directory"}, list)

	turn := NewTurn("what is in /tmp?", nil)
	out := f.loop.Start(context.Background(), turn)

	assert.False(t, out.Awaiting)
	assert.Equal(t, Reply{Text: "There is a.txt"}, out.Reply)
	assert.Equal(t, int32(1), list.calls.Load())
	assert.Equal(t, 2, f.client.calls)
	assert.Equal(t, 1, turn.StepCount)
}

func TestMixedBatchNeedsApproval(t *testing.T) {
	list := &spyTool{name: "list_directory"}
	read := &spyTool{name: "read_file"}
	f := newFixture(t, []*llm.Message{
		toolReply(llm.ToolCall{ID: "l1", Name: "list_directory"}, readCall("r1")),
	}, []string{"list_directory"}, list, read)

	turn := NewTurn("look around", nil)
	out := f.loop.Start(context.Background(), turn)

	assert.True(t, out.Awaiting)
	assert.Len(t, turn.Pending, 2)
	assert.Zero(t, list.calls.Load(), "exempt members wait with the batch")
}

func TestExemptStepBudget(t *testing.T) {
	list := &spyTool{name: "list_directory"}
	call := llm.ToolCall{ID: "l", Name: "list_directory"}
	f := newFixture(t, []*llm.Message{toolReply(call), toolReply(call)}, []string{"list_directory"}, list)
	f.loop = New(f.gen, f.gate, 2, nil)

	out := f.loop.Start(context.Background(), NewTurn("loop forever", nil))
	assert.True(t, out.Reply.IsError)
	assert.Contains(t, out.Reply.Text, "Stopped after 2 steps")
	assert.Equal(t, int32(1), list.calls.Load())
	assert.Equal(t, 0, f.gate.Outstanding())
}

func TestStartGenerationError(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.client.err = fmt.Errorf("503 service unavailable")

	out := f.loop.Start(context.Background(), NewTurn("hi", nil))
	assert.True(t, out.Reply.IsError)
	assert.Equal(t, "Generation failed: 503 service unavailable", out.Reply.Text)
}

func TestStartValidationError(t *testing.T) {
	spy := &spyTool{name: "read_file"}
	f := newFixture(t, []*llm.Message{
		toolReply(llm.ToolCall{ID: "1", Name: "read_file", Args: map[string]any{"absolutePath": 7}}),
	}, nil, spy)

	turn := NewTurn("read it", nil)
	out := f.loop.Start(context.Background(), turn)
	assert.True(t, out.Reply.IsError)
	assert.Contains(t, out.Reply.Text, "invalid arguments for read_file")
	assert.Contains(t, out.Reply.Text, "rephrase")
	assert.Empty(t, turn.Pending)
	assert.Equal(t, approval.Idle, f.gate.State())
}

func TestErrorReplyMapping(t *testing.T) {
	l := New(nil, nil, 3, nil)
	tests := []struct {
		err  error
		want string
	}{
		{&errors.LookupError{Tool: "gone"}, "Tool execution failed: tool 'gone' is not registered"},
		{&errors.GenerationError{Provider: "openai", Err: fmt.Errorf("quota")}, "Generation failed: quota"},
		{llm.ErrStepBudgetExhausted, "Stopped after 3 steps without a final answer."},
		{fmt.Errorf("other"), "Error: other"},
	}
	for _, tt := range tests {
		r := l.errorReply(tt.err)
		assert.True(t, r.IsError)
		assert.Equal(t, tt.want, r.Text)
	}
}

func TestEmptyAnswer(t *testing.T) {
	f := newFixture(t, []*llm.Message{textReply("  ")}, nil)
	out := f.loop.Start(context.Background(), NewTurn("hi", nil))
	assert.Equal(t, EmptyResponseMessage, out.Reply.Text)
}
