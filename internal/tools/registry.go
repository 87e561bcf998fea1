// Package tools binds the two model-visible tools to the catalog and the
// read-only query path.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/sheetql/sheetql/internal/catalog"
	"github.com/sheetql/sheetql/internal/llm"
	"github.com/sheetql/sheetql/internal/observability"
	"github.com/sheetql/sheetql/internal/schema"
	"github.com/sheetql/sheetql/internal/sqlguard"
	"github.com/sheetql/sheetql/internal/store"
)

const (
	GetDatabaseContext = "get_database_context"
	ExecuteSelectQuery = "execute_select_query"
)

// Error codes reported in tool results besides the validator reasons.
const (
	ErrorInvalidArguments = "InvalidArguments"
	ErrorUnknownTool      = "UnknownTool"
	ErrorUnknownTable     = "UnknownTable"
	ErrorTimeout          = "Timeout"
	ErrorExecutionFailed  = "ExecutionFailed"
)

var definitions = []llm.Tool{
	{
		Name: GetDatabaseContext,
		Description: "Describe the uploaded table this conversation is about: column names, types, " +
			"row count and a few sample rows. Call this before writing SQL.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"tableName": map[string]any{
					"type":        "string",
					"description": "Table to describe. Defaults to the conversation's table.",
				},
			},
		},
	},
	{
		Name: ExecuteSelectQuery,
		Description: "Run one read-only SELECT statement against the conversation's table and return " +
			"the rows. Only that table and its columns may be referenced.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"sql": map[string]any{
					"type":        "string",
					"minLength":   1,
					"description": "A single SELECT statement.",
				},
			},
			"required": []string{"sql"},
		},
	},
}

var argumentSchemas = compileSchemas(definitions)

func compileSchemas(tools []llm.Tool) map[string]*gojsonschema.Schema {
	out := make(map[string]*gojsonschema.Schema, len(tools))
	for _, tool := range tools {
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(tool.Parameters))
		if err != nil {
			panic(fmt.Sprintf("compile %s argument schema: %v", tool.Name, err))
		}
		out[tool.Name] = compiled
	}
	return out
}

// Definitions returns the fixed tool declarations sent to the model.
func Definitions() []llm.Tool {
	out := make([]llm.Tool, len(definitions))
	copy(out, definitions)
	return out
}

type Catalog interface {
	Get(name string) (schema.Table, error)
	Context(ctx context.Context, name string) (catalog.TableContext, error)
}

// QueryRunner executes validated queries in read-only mode.
type QueryRunner interface {
	Select(ctx context.Context, q *sqlguard.Query) (store.ResultSet, error)
}

// Result is the outcome of one tool call. Output is what the model sees.
type Result struct {
	Tool      string
	Output    any
	ErrorCode string
	TimedOut  bool
}

func (r Result) OK() bool {
	return r.ErrorCode == ""
}

// Content renders Output as the JSON text of a tool turn.
func (r Result) Content() string {
	raw, err := json.Marshal(r.Output)
	if err != nil {
		return `{"error":"ExecutionFailed","detail":"result is not serialisable"}`
	}
	return string(raw)
}

type ContextOutput struct {
	Tables []catalog.TableContext `json:"tables"`
}

type QueryOutput struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	RowCount  int      `json:"rowCount"`
	Truncated bool     `json:"truncated,omitempty"`
	Notice    string   `json:"notice,omitempty"`
}

type ErrorOutput struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
	Notice string `json:"notice,omitempty"`
}

type Registry struct {
	Catalog      Catalog
	Runner       QueryRunner
	Validator    *sqlguard.Validator
	QueryTimeout time.Duration
	Logger       *slog.Logger
	Clock        func() time.Time
}

func (r *Registry) ensureDefaults() {
	if r.Validator == nil {
		r.Validator = sqlguard.NewValidator(sqlguard.DefaultRowCap)
	}
	if r.Logger == nil {
		r.Logger = observability.DiscardLogger()
	}
	if r.Clock == nil {
		r.Clock = time.Now
	}
}

// Execute runs one tool call scoped to tableName. Failures are returned as
// error results so the model can react to them; Execute itself never fails.
func (r *Registry) Execute(ctx context.Context, tableName string, call llm.ToolCall) Result {
	r.ensureDefaults()
	started := r.Clock()

	result := r.execute(ctx, tableName, call)
	outcome := "ok"
	if !result.OK() {
		outcome = result.ErrorCode
	}
	elapsed := r.Clock().Sub(started)
	observability.ObserveToolCall(metricToolName(call.Name), outcome, elapsed)
	r.Logger.Debug("tool call",
		slog.String("tool", call.Name),
		slog.String("table", tableName),
		slog.String("outcome", outcome),
		slog.Duration("duration", elapsed),
	)
	return result
}

func (r *Registry) execute(ctx context.Context, tableName string, call llm.ToolCall) Result {
	compiled, ok := argumentSchemas[call.Name]
	if !ok {
		return errorResult(call.Name, ErrorUnknownTool, fmt.Sprintf("no tool named %q; use %s or %s", call.Name, GetDatabaseContext, ExecuteSelectQuery))
	}

	args := call.Arguments
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage(`{}`)
	}
	validation, err := compiled.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return errorResult(call.Name, ErrorInvalidArguments, "arguments are not valid JSON: "+err.Error())
	}
	if !validation.Valid() {
		problems := make([]string, 0, len(validation.Errors()))
		for _, problem := range validation.Errors() {
			problems = append(problems, problem.String())
		}
		return errorResult(call.Name, ErrorInvalidArguments, strings.Join(problems, "; "))
	}

	switch call.Name {
	case GetDatabaseContext:
		var in struct {
			TableName string `json:"tableName"`
		}
		_ = json.Unmarshal(args, &in)
		return r.databaseContext(ctx, tableName, in.TableName)
	default:
		var in struct {
			SQL string `json:"sql"`
		}
		_ = json.Unmarshal(args, &in)
		return r.selectQuery(ctx, tableName, in.SQL)
	}
}

func (r *Registry) databaseContext(ctx context.Context, scoped, requested string) Result {
	requested = strings.TrimSpace(requested)
	if requested != "" && !strings.EqualFold(requested, scoped) {
		return errorResult(GetDatabaseContext, ErrorUnknownTable,
			fmt.Sprintf("table %q is not available in this conversation; the only table is %q", requested, scoped))
	}
	tableContext, err := r.Catalog.Context(ctx, scoped)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		return errorResult(GetDatabaseContext, ErrorUnknownTable, fmt.Sprintf("table %q no longer exists", scoped))
	case err != nil:
		if timedOut(ctx, err) {
			return timeoutResult(GetDatabaseContext, "loading the table context took too long")
		}
		return errorResult(GetDatabaseContext, ErrorExecutionFailed, err.Error())
	}
	return Result{Tool: GetDatabaseContext, Output: ContextOutput{Tables: []catalog.TableContext{tableContext}}}
}

func (r *Registry) selectQuery(ctx context.Context, scoped, sqlText string) Result {
	table, err := r.Catalog.Get(scoped)
	if err != nil {
		return errorResult(ExecuteSelectQuery, ErrorUnknownTable, fmt.Sprintf("table %q no longer exists", scoped))
	}

	q, err := r.Validator.Validate(sqlText, table)
	if err != nil {
		var rejection *sqlguard.Rejection
		if errors.As(err, &rejection) {
			r.Logger.Info("query rejected", slog.String("table", scoped), slog.String("reason", string(rejection.Reason)))
			return errorResult(ExecuteSelectQuery, string(rejection.Reason), rejection.Detail)
		}
		return errorResult(ExecuteSelectQuery, string(sqlguard.ReasonSyntaxError), err.Error())
	}

	rs, err := r.Runner.Select(ctx, q)
	if err != nil {
		if timedOut(ctx, err) {
			budget := "its time budget"
			if r.QueryTimeout > 0 {
				budget = "the " + r.QueryTimeout.String() + " time budget"
			}
			return timeoutResult(ExecuteSelectQuery, "the query exceeded "+budget+"; simplify it or filter more rows")
		}
		return errorResult(ExecuteSelectQuery, ErrorExecutionFailed, err.Error())
	}

	out := QueryOutput{
		Columns:  rs.Columns,
		Rows:     rs.Rows,
		RowCount: len(rs.Rows),
	}
	if out.Rows == nil {
		out.Rows = [][]any{}
	}
	if rs.Truncated {
		out.Truncated = true
		out.Notice = fmt.Sprintf("only the first %d rows are shown; aggregate or filter to see the rest", q.RowCap())
	}
	return Result{Tool: ExecuteSelectQuery, Output: out}
}

func timedOut(ctx context.Context, err error) bool {
	return errors.Is(err, store.ErrQueryTimeout) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(ctx.Err(), context.DeadlineExceeded)
}

func errorResult(tool, code, detail string) Result {
	return Result{Tool: tool, ErrorCode: code, Output: ErrorOutput{Error: code, Detail: detail}}
}

func timeoutResult(tool, notice string) Result {
	return Result{Tool: tool, ErrorCode: ErrorTimeout, TimedOut: true, Output: ErrorOutput{Error: ErrorTimeout, Notice: notice}}
}

// metricToolName keeps label cardinality bounded when the model invents tools.
func metricToolName(name string) string {
	if _, ok := argumentSchemas[name]; ok {
		return name
	}
	return "unknown"
}
