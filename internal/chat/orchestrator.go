// Package chat runs the bounded tool-calling loop between the model endpoint
// and the tool registry, one conversation at a time per session.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sheetql/sheetql/internal/llm"
	"github.com/sheetql/sheetql/internal/observability"
	"github.com/sheetql/sheetql/internal/schema"
	"github.com/sheetql/sheetql/internal/tools"
)

const (
	DefaultMaxIterations = 7
	maxParallelTools     = 4
)

type TableLookup interface {
	Get(name string) (schema.Table, error)
}

type ToolExecutor interface {
	Execute(ctx context.Context, table string, call llm.ToolCall) tools.Result
}

type Options struct {
	// Dialect names the SQL engine in the system prompt.
	Dialect       string
	MaxIterations int
	ModelTimeout  time.Duration
	ToolTimeout   time.Duration
	SessionTTL    time.Duration
	Logger        *slog.Logger
	Clock         func() time.Time
	NewID         func() string
}

type FunctionCall struct {
	Function  string          `json:"function"`
	Arguments json.RawMessage `json:"arguments"`
	Result    json.RawMessage `json:"result"`
}

type Reply struct {
	SessionID     string         `json:"session_id"`
	Answer        string         `json:"answer"`
	FunctionCalls []FunctionCall `json:"function_calls"`
	Model         string         `json:"model"`
	Iterations    int            `json:"iterations"`
	Degraded      bool           `json:"degraded"`
	ErrorKind     ErrorKind      `json:"error_kind,omitempty"`
	// Err is set on degraded replies.
	Err *OrchestrationError `json:"-"`
}

type Orchestrator struct {
	model    llm.ChatModel
	executor ToolExecutor
	tables   TableLookup
	opts     Options
	sessions *sessionStore
}

func New(model llm.ChatModel, executor ToolExecutor, tables TableLookup, opts Options) *Orchestrator {
	if opts.Dialect == "" {
		opts.Dialect = "SQLite"
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.ModelTimeout <= 0 {
		opts.ModelTimeout = 60 * time.Second
	}
	if opts.ToolTimeout <= 0 {
		opts.ToolTimeout = 15 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = observability.DiscardLogger()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Orchestrator{
		model:    model,
		executor: executor,
		tables:   tables,
		opts:     opts,
		sessions: newSessionStore(opts.SessionTTL),
	}
}

// OpenSession creates the conversation for id scoped to table. An empty id
// gets a generated one. Reopening with the same table returns the existing
// session.
func (o *Orchestrator) OpenSession(ctx context.Context, id, table, owner string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	descriptor, err := o.tables.Get(table)
	if err != nil {
		return Session{}, fmt.Errorf("open session: %w", err)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		id = o.opts.NewID()
	}

	s, created := o.sessions.open(id, descriptor.Name, owner, o.opts.Clock())
	if !created {
		if s.owner != owner {
			return Session{}, fmt.Errorf("open session %s: %w", id, ErrSessionNotFound)
		}
		if s.table != descriptor.Name {
			return Session{}, fmt.Errorf("open session %s for %s: %w", id, descriptor.Name, ErrSessionTableMismatch)
		}
		s.touch(o.opts.Clock())
	} else {
		o.opts.Logger.InfoContext(ctx, "session opened",
			slog.String("session_id", id),
			slog.String("table", descriptor.Name),
		)
	}
	return s.view(), nil
}

func (o *Orchestrator) Session(id string) (Session, error) {
	s, ok := o.sessions.get(id, o.opts.Clock())
	if !ok {
		return Session{}, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	return s.view(), nil
}

// EvictIdle drops sessions idle for longer than the TTL.
func (o *Orchestrator) EvictIdle() int {
	return o.sessions.sweep(o.opts.Clock())
}

// HandleMessage runs one user turn to completion. Messages for the same
// session queue behind each other; a degraded turn still returns a reply with
// a nil error. The stored history changes only when the turn finishes.
func (o *Orchestrator) HandleMessage(ctx context.Context, sessionID, text string) (Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Reply{}, ErrEmptyMessage
	}
	s, ok := o.sessions.get(sessionID, o.opts.Clock())
	if !ok {
		return Reply{}, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	if err := s.acquire(ctx); err != nil {
		return Reply{}, err
	}
	defer s.release()
	if !o.sessions.holds(s) {
		return Reply{}, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}

	if _, err := o.tables.Get(s.table); err != nil {
		return Reply{}, fmt.Errorf("session %s table %s: %w", s.id, s.table, err)
	}

	reply, commit, err := o.runTurn(ctx, s, text)
	if err != nil {
		outcome := "error"
		if ctx.Err() != nil {
			outcome = "canceled"
		}
		observability.IncrementChatTurn(outcome)
		o.opts.Logger.WarnContext(ctx, "chat turn failed",
			slog.String("session_id", s.id),
			slog.String("outcome", outcome),
			slog.Any("error", err),
		)
		return Reply{}, err
	}

	s.commit(commit, o.opts.Clock())
	if reply.Degraded {
		observability.IncrementChatTurn(string(reply.ErrorKind))
		o.opts.Logger.WarnContext(ctx, "chat turn degraded",
			slog.String("session_id", s.id),
			slog.String("kind", string(reply.ErrorKind)),
			slog.Int("iterations", reply.Iterations),
		)
	} else {
		observability.IncrementChatTurn("answered")
	}
	return reply, nil
}

func (o *Orchestrator) runTurn(ctx context.Context, s *session, text string) (Reply, []llm.Message, error) {
	reply := Reply{SessionID: s.id, FunctionCalls: []FunctionCall{}}
	user := llm.Message{Role: llm.RoleUser, Content: text}
	system := llm.Message{Role: llm.RoleSystem, Content: systemPrompt(s.table, o.opts.Dialect)}

	history := s.snapshotHistory()
	committed := len(history)
	working := append(history, user)
	definitions := tools.Definitions()

	for iteration := 1; iteration <= o.opts.MaxIterations; iteration++ {
		reply.Iterations = iteration

		resp, err := o.complete(ctx, append([]llm.Message{system}, working...), definitions)
		if err != nil {
			if ctx.Err() != nil {
				return Reply{}, nil, ctx.Err()
			}
			var orchErr *OrchestrationError
			if errors.As(err, &orchErr) {
				return degrade(reply, orchErr, user)
			}
			return Reply{}, nil, fmt.Errorf("model round trip %d: %w", iteration, err)
		}
		if resp.Model != "" {
			reply.Model = resp.Model
		}
		o.opts.Logger.DebugContext(ctx, "model round trip",
			slog.String("session_id", s.id),
			slog.Int("iteration", iteration),
			slog.Int("tool_calls", len(resp.ToolCalls)),
		)

		if len(resp.ToolCalls) == 0 {
			reply.Answer = resp.Content
			working = append(working, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})
			return reply, working[committed:], nil
		}

		calls := make([]llm.ToolCall, len(resp.ToolCalls))
		for i, call := range resp.ToolCalls {
			if call.ID == "" {
				call.ID = fmt.Sprintf("call_%d_%d", iteration, i+1)
			}
			calls[i] = call
		}
		working = append(working, llm.Message{Role: llm.RoleAssistant, Content: resp.Content, ToolCalls: calls})

		results := o.executeTools(ctx, s.table, calls)
		if err := ctx.Err(); err != nil {
			return Reply{}, nil, err
		}

		timedOut := false
		for i, result := range results {
			content := result.Content()
			working = append(working, llm.Message{
				Role:       llm.RoleTool,
				Content:    content,
				ToolCallID: calls[i].ID,
				Name:       calls[i].Name,
			})
			reply.FunctionCalls = append(reply.FunctionCalls, FunctionCall{
				Function:  calls[i].Name,
				Arguments: loggableArguments(calls[i].Arguments),
				Result:    json.RawMessage(content),
			})
			timedOut = timedOut || result.TimedOut
		}
		if timedOut {
			return degrade(reply, &OrchestrationError{Kind: KindToolTimeout}, user)
		}
	}

	return degrade(reply, &OrchestrationError{
		Kind: KindIterationCapExceeded,
		Err:  fmt.Errorf("no final answer after %d model round trips", o.opts.MaxIterations),
	}, user)
}

// complete performs one model round trip under the model timeout. A round trip
// that overruns is reported as an OrchestrationError.
func (o *Orchestrator) complete(ctx context.Context, messages []llm.Message, definitions []llm.Tool) (llm.Response, error) {
	modelCtx, cancel := context.WithTimeout(ctx, o.opts.ModelTimeout)
	defer cancel()

	resp, err := o.model.Complete(modelCtx, llm.Request{Messages: messages, Tools: definitions})
	switch {
	case err == nil:
		observability.IncrementModelRoundTrip("ok")
		return resp, nil
	case ctx.Err() == nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(modelCtx.Err(), context.DeadlineExceeded)):
		observability.IncrementModelRoundTrip("timeout")
		return llm.Response{}, &OrchestrationError{Kind: KindModelTimeout, Err: err}
	default:
		observability.IncrementModelRoundTrip("error")
		return llm.Response{}, err
	}
}

// executeTools runs the calls of one model response concurrently. Results keep
// the request order and each call has its own timeout.
func (o *Orchestrator) executeTools(ctx context.Context, table string, calls []llm.ToolCall) []tools.Result {
	results := make([]tools.Result, len(calls))
	var g errgroup.Group
	g.SetLimit(maxParallelTools)
	for i, call := range calls {
		g.Go(func() error {
			toolCtx, cancel := context.WithTimeout(ctx, o.opts.ToolTimeout)
			defer cancel()
			results[i] = o.executor.Execute(toolCtx, table, call)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// degrade ends the turn with the fixed apology. Only the user message and the
// apology are committed, so the history never holds unanswered tool calls.
func degrade(reply Reply, orchErr *OrchestrationError, user llm.Message) (Reply, []llm.Message, error) {
	reply.Degraded = true
	reply.ErrorKind = orchErr.Kind
	reply.Answer = degradedAnswers[orchErr.Kind]
	reply.Err = orchErr
	return reply, []llm.Message{user, {Role: llm.RoleAssistant, Content: reply.Answer}}, nil
}

func loggableArguments(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	if json.Valid(raw) {
		return raw
	}
	quoted, _ := json.Marshal(string(raw))
	return quoted
}
