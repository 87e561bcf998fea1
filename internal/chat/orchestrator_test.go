package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sheetql/sheetql/internal/catalog"
	"github.com/sheetql/sheetql/internal/llm"
	"github.com/sheetql/sheetql/internal/schema"
	"github.com/sheetql/sheetql/internal/sqlguard"
	"github.com/sheetql/sheetql/internal/store"
	"github.com/sheetql/sheetql/internal/tools"
)

type scriptedModel struct {
	mu       sync.Mutex
	requests []llm.Request
	respond  func(ctx context.Context, n int, req llm.Request) (llm.Response, error)
}

func (m *scriptedModel) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	n := len(m.requests)
	m.mu.Unlock()
	return m.respond(ctx, n, req)
}

func (m *scriptedModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *scriptedModel) request(i int) llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[i]
}

type recordingExecutor struct {
	mu      sync.Mutex
	calls   []llm.ToolCall
	execute func(ctx context.Context, call llm.ToolCall) tools.Result
}

func (e *recordingExecutor) Execute(ctx context.Context, _ string, call llm.ToolCall) tools.Result {
	e.mu.Lock()
	e.calls = append(e.calls, call)
	e.mu.Unlock()
	if e.execute != nil {
		return e.execute(ctx, call)
	}
	return tools.Result{Tool: call.Name, Output: map[string]any{"ok": call.ID}}
}

type tableMap map[string]schema.Table

func (m tableMap) Get(name string) (schema.Table, error) {
	table, ok := m[name]
	if !ok {
		return schema.Table{}, catalog.ErrNotFound
	}
	return table, nil
}

func salesTables() tableMap {
	return tableMap{
		"sales_1": {
			Name: "sales_1",
			Columns: []schema.Column{
				{Name: "product_name", Type: schema.TypeText},
				{Name: "units_sold", Type: schema.TypeInteger},
			},
			RowCount: 3,
		},
		"orders": {Name: "orders", Columns: []schema.Column{{Name: "id", Type: schema.TypeInteger}}},
	}
}

func toolCall(id, name, args string) llm.ToolCall {
	return llm.ToolCall{ID: id, Name: name, Arguments: json.RawMessage(args)}
}

func newTestOrchestrator(t *testing.T, model llm.ChatModel, executor ToolExecutor, opts Options) *Orchestrator {
	t.Helper()
	o := New(model, executor, salesTables(), opts)
	if _, err := o.OpenSession(context.Background(), "s1", "sales_1", ""); err != nil {
		t.Fatalf("OpenSession() error = %v", err)
	}
	return o
}

func TestHandleMessageFinalAnswerWithoutTools(t *testing.T) {
	model := &scriptedModel{respond: func(context.Context, int, llm.Request) (llm.Response, error) {
		return llm.Response{Content: "Hello!", Model: "test-model"}, nil
	}}
	o := newTestOrchestrator(t, model, &recordingExecutor{}, Options{})

	reply, err := o.HandleMessage(context.Background(), "s1", "  hi  ")
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if reply.Answer != "Hello!" || reply.Model != "test-model" || reply.Iterations != 1 || reply.Degraded {
		t.Fatalf("reply = %+v", reply)
	}
	if reply.FunctionCalls == nil || len(reply.FunctionCalls) != 0 {
		t.Fatalf("FunctionCalls = %#v, want empty", reply.FunctionCalls)
	}

	req := model.request(0)
	if req.Messages[0].Role != llm.RoleSystem || !strings.Contains(req.Messages[0].Content, `"sales_1"`) {
		t.Fatalf("system prompt = %+v", req.Messages[0])
	}
	if !strings.Contains(req.Messages[0].Content, tools.GetDatabaseContext) {
		t.Fatal("system prompt does not mention get_database_context")
	}
	if len(req.Tools) != 2 {
		t.Fatalf("tools sent = %d, want 2", len(req.Tools))
	}

	session, err := o.Session("s1")
	if err != nil {
		t.Fatalf("Session() error = %v", err)
	}
	if len(session.Turns) != 2 || session.Turns[0].Content != "hi" || session.Turns[1].Content != "Hello!" {
		t.Fatalf("turns = %+v", session.Turns)
	}
}

func TestHandleMessageRunsToolsInOrder(t *testing.T) {
	model := &scriptedModel{respond: func(_ context.Context, n int, req llm.Request) (llm.Response, error) {
		if n == 1 {
			return llm.Response{ToolCalls: []llm.ToolCall{
				toolCall("a", tools.GetDatabaseContext, `{}`),
				toolCall("", tools.ExecuteSelectQuery, `{"sql":"SELECT 1"}`),
			}}, nil
		}
		return llm.Response{Content: "Three rows."}, nil
	}}
	executor := &recordingExecutor{execute: func(_ context.Context, call llm.ToolCall) tools.Result {
		if call.Name == tools.GetDatabaseContext {
			time.Sleep(20 * time.Millisecond)
		}
		return tools.Result{Tool: call.Name, Output: map[string]string{"tool": call.Name}}
	}}
	o := newTestOrchestrator(t, model, executor, Options{})

	reply, err := o.HandleMessage(context.Background(), "s1", "how many rows?")
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if reply.Answer != "Three rows." || reply.Iterations != 2 {
		t.Fatalf("reply = %+v", reply)
	}
	if len(reply.FunctionCalls) != 2 ||
		reply.FunctionCalls[0].Function != tools.GetDatabaseContext ||
		reply.FunctionCalls[1].Function != tools.ExecuteSelectQuery {
		t.Fatalf("FunctionCalls = %+v", reply.FunctionCalls)
	}
	if string(reply.FunctionCalls[1].Arguments) != `{"sql":"SELECT 1"}` {
		t.Fatalf("arguments = %s", reply.FunctionCalls[1].Arguments)
	}

	second := model.request(1).Messages
	// system, user, assistant with calls, two tool results
	if len(second) != 5 {
		t.Fatalf("second request has %d messages", len(second))
	}
	assistant := second[2]
	if assistant.Role != llm.RoleAssistant || len(assistant.ToolCalls) != 2 || assistant.ToolCalls[1].ID != "call_1_2" {
		t.Fatalf("assistant turn = %+v", assistant)
	}
	if second[3].ToolCallID != "a" || second[4].ToolCallID != "call_1_2" {
		t.Fatalf("tool results out of order: %+v", second[3:])
	}
	if !strings.Contains(second[3].Content, tools.GetDatabaseContext) {
		t.Fatalf("tool content = %s", second[3].Content)
	}

	session, _ := o.Session("s1")
	if len(session.Turns) != 5 {
		t.Fatalf("committed %d turns, want 5", len(session.Turns))
	}
}

func TestHandleMessageIterationCap(t *testing.T) {
	model := &scriptedModel{respond: func(_ context.Context, n int, _ llm.Request) (llm.Response, error) {
		return llm.Response{ToolCalls: []llm.ToolCall{toolCall("c", tools.ExecuteSelectQuery, `{"sql":"SELECT 1"}`)}}, nil
	}}
	executor := &recordingExecutor{}
	o := newTestOrchestrator(t, model, executor, Options{})

	done := make(chan struct{})
	var (
		reply Reply
		err   error
	)
	go func() {
		defer close(done)
		reply, err = o.HandleMessage(context.Background(), "s1", "loop forever")
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("HandleMessage() did not terminate")
	}

	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if !reply.Degraded || reply.ErrorKind != KindIterationCapExceeded || reply.Iterations != DefaultMaxIterations {
		t.Fatalf("reply = %+v", reply)
	}
	if reply.Err == nil || reply.Err.Kind != KindIterationCapExceeded {
		t.Fatalf("reply.Err = %v", reply.Err)
	}
	if !strings.Contains(reply.Answer, "maximum number of processing steps") {
		t.Fatalf("answer = %q", reply.Answer)
	}
	if model.calls() != DefaultMaxIterations {
		t.Fatalf("model calls = %d, want %d", model.calls(), DefaultMaxIterations)
	}

	session, _ := o.Session("s1")
	if len(session.Turns) != 2 || session.Turns[1].Content != reply.Answer || len(session.Turns[1].ToolCalls) != 0 {
		t.Fatalf("degraded turn committed %+v", session.Turns)
	}
}

func TestHandleMessageTenToolCallsHitsCustomCap(t *testing.T) {
	model := &scriptedModel{respond: func(_ context.Context, n int, _ llm.Request) (llm.Response, error) {
		if n > 10 {
			return llm.Response{Content: "too late"}, nil
		}
		return llm.Response{ToolCalls: []llm.ToolCall{toolCall("c", tools.GetDatabaseContext, `{}`)}}, nil
	}}
	o := newTestOrchestrator(t, model, &recordingExecutor{}, Options{MaxIterations: 5})
	reply, err := o.HandleMessage(context.Background(), "s1", "go")
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if reply.ErrorKind != KindIterationCapExceeded || model.calls() != 5 {
		t.Fatalf("reply = %+v after %d calls", reply, model.calls())
	}
}

func TestHandleMessageRejectionFeedsBackAndContinues(t *testing.T) {
	model := &scriptedModel{respond: func(_ context.Context, n int, req llm.Request) (llm.Response, error) {
		switch n {
		case 1:
			return llm.Response{ToolCalls: []llm.ToolCall{
				toolCall("q1", tools.ExecuteSelectQuery, `{"sql":"SELECT * FROM other_table"}`),
			}}, nil
		case 2:
			last := req.Messages[len(req.Messages)-1]
			if !strings.Contains(last.Content, `"error":"UnknownTable"`) {
				return llm.Response{}, errors.New("rejection not fed back: " + last.Content)
			}
			return llm.Response{ToolCalls: []llm.ToolCall{
				toolCall("q2", tools.ExecuteSelectQuery, `{"sql":"SELECT count(*) FROM sales_1"}`),
			}}, nil
		default:
			return llm.Response{Content: "There are 3 sales."}, nil
		}
	}}
	runner := &fakeRunner{result: store.ResultSet{Columns: []string{"count"}, Rows: [][]any{{int64(3)}}}}
	registry := &tools.Registry{
		Catalog:   fakeCatalog{tables: salesTables()},
		Runner:    runner,
		Validator: sqlguard.NewValidator(50),
	}
	o := newTestOrchestrator(t, model, registry, Options{})

	reply, err := o.HandleMessage(context.Background(), "s1", "how many sales?")
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if reply.Degraded || reply.Answer != "There are 3 sales." || reply.Iterations != 3 {
		t.Fatalf("reply = %+v", reply)
	}
	if len(reply.FunctionCalls) != 2 || !strings.Contains(string(reply.FunctionCalls[0].Result), "UnknownTable") {
		t.Fatalf("FunctionCalls = %+v", reply.FunctionCalls)
	}
	if runner.count() != 1 {
		t.Fatalf("store ran %d queries, want 1", runner.count())
	}
}

func TestHandleMessageModelTimeout(t *testing.T) {
	model := &scriptedModel{respond: func(ctx context.Context, _ int, _ llm.Request) (llm.Response, error) {
		<-ctx.Done()
		return llm.Response{}, ctx.Err()
	}}
	o := newTestOrchestrator(t, model, &recordingExecutor{}, Options{ModelTimeout: 20 * time.Millisecond})

	reply, err := o.HandleMessage(context.Background(), "s1", "hello?")
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if !reply.Degraded || reply.ErrorKind != KindModelTimeout {
		t.Fatalf("reply = %+v", reply)
	}
	if !errors.Is(reply.Err, context.DeadlineExceeded) {
		t.Fatalf("reply.Err = %v", reply.Err)
	}
	session, _ := o.Session("s1")
	if len(session.Turns) != 2 {
		t.Fatalf("turns = %+v", session.Turns)
	}
}

func TestHandleMessageToolTimeout(t *testing.T) {
	model := &scriptedModel{respond: func(_ context.Context, n int, _ llm.Request) (llm.Response, error) {
		return llm.Response{ToolCalls: []llm.ToolCall{toolCall("slow", tools.ExecuteSelectQuery, `{"sql":"SELECT 1"}`)}}, nil
	}}
	executor := &recordingExecutor{execute: func(ctx context.Context, call llm.ToolCall) tools.Result {
		<-ctx.Done()
		return tools.Result{Tool: call.Name, ErrorCode: tools.ErrorTimeout, TimedOut: true, Output: tools.ErrorOutput{Error: tools.ErrorTimeout}}
	}}
	o := newTestOrchestrator(t, model, executor, Options{ToolTimeout: 20 * time.Millisecond})

	reply, err := o.HandleMessage(context.Background(), "s1", "slow question")
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if !reply.Degraded || reply.ErrorKind != KindToolTimeout || model.calls() != 1 {
		t.Fatalf("reply = %+v after %d model calls", reply, model.calls())
	}
	if len(reply.FunctionCalls) != 1 {
		t.Fatalf("FunctionCalls = %+v", reply.FunctionCalls)
	}
}

func TestHandleMessageModelErrorCommitsNothing(t *testing.T) {
	model := &scriptedModel{respond: func(context.Context, int, llm.Request) (llm.Response, error) {
		return llm.Response{}, errors.New("status=500")
	}}
	o := newTestOrchestrator(t, model, &recordingExecutor{}, Options{})
	if _, err := o.HandleMessage(context.Background(), "s1", "hi"); err == nil || !strings.Contains(err.Error(), "status=500") {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	session, _ := o.Session("s1")
	if len(session.Turns) != 0 {
		t.Fatalf("failed turn committed %+v", session.Turns)
	}
}

func TestHandleMessageCancellationCommitsNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	model := &scriptedModel{respond: func(_ context.Context, n int, _ llm.Request) (llm.Response, error) {
		return llm.Response{ToolCalls: []llm.ToolCall{toolCall("c", tools.GetDatabaseContext, `{}`)}}, nil
	}}
	executor := &recordingExecutor{execute: func(_ context.Context, call llm.ToolCall) tools.Result {
		cancel()
		return tools.Result{Tool: call.Name, Output: map[string]any{}}
	}}
	o := newTestOrchestrator(t, model, executor, Options{})

	if _, err := o.HandleMessage(ctx, "s1", "hi"); !errors.Is(err, context.Canceled) {
		t.Fatalf("HandleMessage() error = %v, want context.Canceled", err)
	}
	session, _ := o.Session("s1")
	if len(session.Turns) != 0 {
		t.Fatalf("cancelled turn committed %+v", session.Turns)
	}
}

func TestHandleMessageQueuesPerSession(t *testing.T) {
	var inFlight, maxInFlight int32
	model := &scriptedModel{respond: func(context.Context, int, llm.Request) (llm.Response, error) {
		current := atomic.AddInt32(&inFlight, 1)
		for {
			seen := atomic.LoadInt32(&maxInFlight)
			if current <= seen || atomic.CompareAndSwapInt32(&maxInFlight, seen, current) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return llm.Response{Content: "ok"}, nil
	}}
	o := newTestOrchestrator(t, model, &recordingExecutor{}, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := o.HandleMessage(context.Background(), "s1", "question"); err != nil {
				t.Errorf("HandleMessage() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&maxInFlight); got != 1 {
		t.Fatalf("max in-flight round trips = %d, want 1", got)
	}
	session, _ := o.Session("s1")
	if len(session.Turns) != 10 {
		t.Fatalf("turns = %d, want 10", len(session.Turns))
	}
	for i := 0; i < len(session.Turns); i += 2 {
		if session.Turns[i].Role != llm.RoleUser || session.Turns[i+1].Role != llm.RoleAssistant {
			t.Fatalf("turns interleaved at %d: %+v", i, session.Turns)
		}
	}
}

func TestHandleMessageSessionsRunInParallel(t *testing.T) {
	var arrived sync.WaitGroup
	arrived.Add(2)
	both := make(chan struct{})
	go func() {
		arrived.Wait()
		close(both)
	}()
	model := &scriptedModel{respond: func(ctx context.Context, _ int, _ llm.Request) (llm.Response, error) {
		arrived.Done()
		select {
		case <-both:
			return llm.Response{Content: "ok"}, nil
		case <-ctx.Done():
			return llm.Response{}, errors.New("sessions were serialised")
		}
	}}
	o := New(model, &recordingExecutor{}, salesTables(), Options{ModelTimeout: 2 * time.Second})
	for _, id := range []string{"a", "b"} {
		if _, err := o.OpenSession(context.Background(), id, "sales_1", ""); err != nil {
			t.Fatalf("OpenSession(%s) error = %v", id, err)
		}
	}

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reply, err := o.HandleMessage(context.Background(), id, "hi")
			if err != nil || reply.Degraded {
				t.Errorf("HandleMessage(%s) = %+v, %v", id, reply, err)
			}
		}()
	}
	wg.Wait()
}

func TestHandleMessageWaitingHonoursCancellation(t *testing.T) {
	release := make(chan struct{})
	model := &scriptedModel{respond: func(context.Context, int, llm.Request) (llm.Response, error) {
		<-release
		return llm.Response{Content: "ok"}, nil
	}}
	o := newTestOrchestrator(t, model, &recordingExecutor{}, Options{})

	go func() { _, _ = o.HandleMessage(context.Background(), "s1", "first") }()
	for model.calls() == 0 {
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := o.HandleMessage(ctx, "s1", "second"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("queued HandleMessage() error = %v, want deadline exceeded", err)
	}
	close(release)
}

func TestHandleMessageAfterEvictionDoesNotCommit(t *testing.T) {
	model := &scriptedModel{respond: func(context.Context, int, llm.Request) (llm.Response, error) {
		return llm.Response{Content: "ok"}, nil
	}}
	o := newTestOrchestrator(t, model, &recordingExecutor{}, Options{})
	s, ok := o.sessions.get("s1", time.Now())
	if !ok {
		t.Fatal("session s1 missing")
	}
	if err := s.acquire(context.Background()); err != nil {
		t.Fatalf("acquire() error = %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := o.HandleMessage(context.Background(), "s1", "question")
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)

	o.sessions.mu.Lock()
	delete(o.sessions.sessions, "s1")
	o.sessions.mu.Unlock()
	s.release()

	if err := <-done; !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("HandleMessage() error = %v, want ErrSessionNotFound", err)
	}
	if model.calls() != 0 {
		t.Fatalf("model calls = %d, want 0", model.calls())
	}
	if len(s.snapshotHistory()) != 0 {
		t.Fatalf("evicted session history = %v", s.snapshotHistory())
	}
}

func TestSessionStoreHolds(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	st := newSessionStore(time.Minute)
	s, _ := st.open("a", "sales_1", "", now)
	if !st.holds(s) {
		t.Fatal("holds() = false for a stored session")
	}

	if removed := st.sweep(now.Add(2 * time.Minute)); removed != 1 {
		t.Fatalf("sweep() = %d, want 1", removed)
	}
	if st.holds(s) {
		t.Fatal("holds() = true after eviction")
	}

	replacement, created := st.open("a", "sales_1", "", now.Add(3*time.Minute))
	if !created || replacement == s {
		t.Fatal("expected a new session for the same id")
	}
	if st.holds(s) || !st.holds(replacement) {
		t.Fatal("holds() must only match the current session for an id")
	}
}

func TestHandleMessageErrors(t *testing.T) {
	model := &scriptedModel{respond: func(context.Context, int, llm.Request) (llm.Response, error) {
		return llm.Response{Content: "ok"}, nil
	}}
	o := newTestOrchestrator(t, model, &recordingExecutor{}, Options{})
	if _, err := o.HandleMessage(context.Background(), "s1", "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("empty message error = %v", err)
	}
	if _, err := o.HandleMessage(context.Background(), "missing", "hi"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("missing session error = %v", err)
	}
}

func TestOpenSession(t *testing.T) {
	o := New(&scriptedModel{}, &recordingExecutor{}, salesTables(), Options{NewID: func() string { return "generated" }})
	ctx := context.Background()

	if _, err := o.OpenSession(ctx, "x", "nope", ""); !errors.Is(err, catalog.ErrNotFound) {
		t.Fatalf("unknown table error = %v", err)
	}

	created, err := o.OpenSession(ctx, "", "sales_1", "alice")
	if err != nil {
		t.Fatalf("OpenSession() error = %v", err)
	}
	if created.ID != "generated" || created.TableName != "sales_1" || created.Owner != "alice" {
		t.Fatalf("session = %+v", created)
	}
	again, err := o.OpenSession(ctx, "generated", "sales_1", "alice")
	if err != nil || again.ID != "generated" {
		t.Fatalf("reopen = %+v, %v", again, err)
	}
	if _, err := o.OpenSession(ctx, "generated", "orders", "alice"); !errors.Is(err, ErrSessionTableMismatch) {
		t.Fatalf("table mismatch error = %v", err)
	}
	if _, err := o.OpenSession(ctx, "generated", "sales_1", "mallory"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("foreign owner error = %v", err)
	}
}

func TestSessionsExpireAfterTTL(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	o := New(&scriptedModel{}, &recordingExecutor{}, salesTables(), Options{SessionTTL: time.Minute, Clock: clock})
	if _, err := o.OpenSession(context.Background(), "a", "sales_1", ""); err != nil {
		t.Fatalf("OpenSession() error = %v", err)
	}
	if _, err := o.OpenSession(context.Background(), "b", "sales_1", ""); err != nil {
		t.Fatalf("OpenSession() error = %v", err)
	}

	now = now.Add(30 * time.Second)
	if _, err := o.Session("a"); err != nil {
		t.Fatalf("Session() before TTL error = %v", err)
	}
	if _, err := o.OpenSession(context.Background(), "a", "sales_1", ""); err != nil {
		t.Fatalf("reopen error = %v", err)
	}

	now = now.Add(45 * time.Second)
	if _, err := o.Session("b"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expired Session() error = %v", err)
	}
	if removed := o.EvictIdle(); removed != 0 {
		t.Fatalf("EvictIdle() = %d, want 0 (a was touched)", removed)
	}
	now = now.Add(2 * time.Minute)
	if removed := o.EvictIdle(); removed != 1 {
		t.Fatalf("EvictIdle() = %d, want 1", removed)
	}
}

type fakeCatalog struct {
	tables tableMap
}

func (f fakeCatalog) Get(name string) (schema.Table, error) {
	return f.tables.Get(name)
}

func (f fakeCatalog) Context(_ context.Context, name string) (catalog.TableContext, error) {
	table, err := f.tables.Get(name)
	if err != nil {
		return catalog.TableContext{}, err
	}
	return catalog.TableContext{Name: table.Name, Columns: table.Columns, RowCount: table.RowCount}, nil
}

type fakeRunner struct {
	mu     sync.Mutex
	n      int
	result store.ResultSet
}

func (f *fakeRunner) Select(context.Context, *sqlguard.Query) (store.ResultSet, error) {
	f.mu.Lock()
	f.n++
	f.mu.Unlock()
	return f.result, nil
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n
}
