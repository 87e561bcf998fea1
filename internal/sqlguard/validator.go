// Package sqlguard decides whether a model-issued SQL statement may run. It
// parses the text with the PostgreSQL grammar and accepts only a single
// read-only SELECT that touches nothing but one table and its columns.
package sqlguard

import (
	"strconv"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"google.golang.org/protobuf/reflect/protoreflect"

	"github.com/sheetql/sheetql/internal/observability"
	"github.com/sheetql/sheetql/internal/schema"
)

const DefaultRowCap = 200

// Query is a statement that passed validation. It can only be produced by
// Validator.Validate.
type Query struct {
	text   string
	table  string
	rowCap int
}

func (q *Query) SQL() string { return q.text }

func (q *Query) Table() string { return q.table }

func (q *Query) RowCap() int { return q.rowCap }

// Bounded wraps the statement so the engine returns at most one row more than
// the cap, which lets the caller detect truncation.
func (q *Query) Bounded() string {
	return "SELECT * FROM (\n" + q.text + "\n) AS q LIMIT " + strconv.Itoa(q.rowCap+1)
}

type Validator struct {
	RowCap int
}

func NewValidator(rowCap int) *Validator {
	if rowCap <= 0 {
		rowCap = DefaultRowCap
	}
	return &Validator{RowCap: rowCap}
}

// Validate returns a Query when sqlText is a single read-only statement over
// table, or a *Rejection describing the first problem found.
func (v *Validator) Validate(sqlText string, table schema.Table) (*Query, error) {
	q, rejection := v.validate(sqlText, table)
	if rejection != nil {
		observability.IncrementQueryRejection(string(rejection.Reason))
		return nil, rejection
	}
	return q, nil
}

func (v *Validator) validate(sqlText string, table schema.Table) (*Query, *Rejection) {
	if strings.TrimSpace(sqlText) == "" {
		return nil, reject(ReasonSyntaxError, "empty statement")
	}
	text, rejection := normalize(sqlText)
	if rejection != nil {
		return nil, rejection
	}
	if text == "" {
		return nil, reject(ReasonSyntaxError, "no statement found")
	}

	result, err := pg_query.Parse(text)
	if err != nil {
		return nil, reject(ReasonSyntaxError, "%s", err.Error())
	}
	if len(result.GetStmts()) == 0 {
		return nil, reject(ReasonSyntaxError, "no statement found")
	}
	if len(result.GetStmts()) > 1 {
		return nil, reject(ReasonMultiStatement, "found %d statements, only one is allowed", len(result.GetStmts()))
	}

	top := unwrapNode(result.GetStmts()[0].GetStmt())
	if top == nil {
		return nil, reject(ReasonSyntaxError, "empty statement")
	}
	if rejection := classifyTopLevel(messageName(top)); rejection != nil {
		return nil, rejection
	}

	scope := collectScope(top, table)
	if rejection := checkTree(top, scope); rejection != nil {
		return nil, rejection
	}

	rowCap := v.RowCap
	if rowCap <= 0 {
		rowCap = DefaultRowCap
	}
	return &Query{text: text, table: table.Name, rowCap: rowCap}, nil
}

// normalize rebuilds the statement from the tokens the PostgreSQL scanner
// reports, without comments or the trailing semicolon. The result is both
// what gets parsed and what the engine runs. Tokens that SQLite would split
// differently are rejected.
func normalize(sqlText string) (string, *Rejection) {
	scanned, err := pg_query.Scan(sqlText)
	if err != nil {
		return "", reject(ReasonSyntaxError, "%s", err.Error())
	}
	tokens := scanned.GetTokens()

	// Anything but a comment after a semicolon starts another statement,
	// whether or not it would parse.
	statements, between := 0, true
	for _, tok := range tokens {
		switch tok.GetToken() {
		case pg_query.Token_SQL_COMMENT, pg_query.Token_C_COMMENT:
		case pg_query.Token_ASCII_59:
			between = true
		default:
			if between {
				statements++
				between = false
			}
		}
	}
	if statements > 1 {
		return "", reject(ReasonMultiStatement, "found %d statements, only one is allowed", statements)
	}

	var b strings.Builder
	lastEnd := -1
	for _, tok := range tokens {
		start, end := int(tok.GetStart()), int(tok.GetEnd())
		if start < 0 || end > len(sqlText) || start > end {
			return "", reject(ReasonSyntaxError, "unreadable token at offset %d", start)
		}
		raw := sqlText[start:end]
		switch tok.GetToken() {
		case pg_query.Token_SQL_COMMENT, pg_query.Token_ASCII_59:
			continue
		case pg_query.Token_C_COMMENT:
			if len(raw) > 2 && strings.Contains(raw[2:], "/*") {
				return "", reject(ReasonDisallowedConstruct, "nested block comments are not allowed")
			}
			continue
		}
		if rejection := checkToken(tok.GetToken(), raw); rejection != nil {
			return "", rejection
		}
		if lastEnd >= 0 && start > lastEnd {
			b.WriteByte(' ')
		}
		b.WriteString(raw)
		lastEnd = end
	}
	return b.String(), nil
}

func checkToken(kind pg_query.Token, raw string) *Rejection {
	switch kind {
	case pg_query.Token_SCONST:
		if !strings.HasPrefix(raw, "'") {
			return reject(ReasonDisallowedConstruct, "string %s is not allowed, write text values as plain 'single quoted' strings", raw)
		}
	case pg_query.Token_USCONST, pg_query.Token_BCONST, pg_query.Token_UIDENT:
		return reject(ReasonDisallowedConstruct, "escaped literal %s is not allowed", raw)
	case pg_query.Token_ASCII_91, pg_query.Token_ASCII_93:
		return reject(ReasonDisallowedConstruct, "square brackets are not allowed")
	case pg_query.Token_Op:
		if strings.Contains(raw, "`") {
			return reject(ReasonDisallowedConstruct, "backticks are not allowed, double quotes name identifiers")
		}
	}
	return nil
}

var writeStatements = map[string]struct{}{
	"InsertStmt":              {},
	"UpdateStmt":              {},
	"DeleteStmt":              {},
	"MergeStmt":               {},
	"TruncateStmt":            {},
	"RenameStmt":              {},
	"CopyStmt":                {},
	"GrantStmt":               {},
	"GrantRoleStmt":           {},
	"RefreshMatViewStmt":      {},
	"ReindexStmt":             {},
	"CommentStmt":             {},
	"IndexStmt":               {},
	"ViewStmt":                {},
	"RuleStmt":                {},
	"ClusterStmt":             {},
	"VacuumStmt":              {},
	"DefineStmt":              {},
	"CompositeTypeStmt":       {},
	"SecLabelStmt":            {},
	"ImportForeignSchemaStmt": {},
	"ReassignOwnedStmt":       {},
	"IntoClause":              {},
}

func isWriteStatement(name string) bool {
	if _, ok := writeStatements[name]; ok {
		return true
	}
	for _, prefix := range []string{"Create", "Drop", "Alter"} {
		if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, "Stmt") {
			return true
		}
	}
	return false
}

func classifyTopLevel(name string) *Rejection {
	switch {
	case name == "SelectStmt":
		return nil
	case isWriteStatement(name):
		return reject(ReasonWriteOperation, "%s statements are not allowed, only SELECT", statementLabel(name))
	default:
		return reject(ReasonDisallowedConstruct, "%s statements are not allowed, only SELECT", statementLabel(name))
	}
}

// statementLabel turns a node name like "VariableSetStmt" into "VariableSet".
func statementLabel(name string) string {
	return strings.TrimSuffix(name, "Stmt")
}

// scope holds every name the query may legitimately refer to.
type scope struct {
	table     schema.Table
	columns   nameSet
	relations nameSet // the table plus its aliases
	derived   nameSet // output names created inside the query
	qualifier nameSet // anything usable as a column qualifier
}

func collectScope(top protoreflect.Message, table schema.Table) *scope {
	s := &scope{
		table:     table,
		columns:   nameSet{},
		relations: nameSet{},
		derived:   nameSet{},
		qualifier: nameSet{},
	}
	for _, col := range table.Columns {
		s.columns.add(col.Name)
	}
	s.relations.add(table.Name)
	s.qualifier.add(table.Name)

	walk(top, func(m protoreflect.Message) bool {
		switch n := m.Interface().(type) {
		case *pg_query.CommonTableExpr:
			s.qualifier.add(n.GetCtename())
			for _, name := range stringFields(n.GetAliascolnames()) {
				s.derived.add(name)
			}
		case *pg_query.RangeVar:
			if alias := n.GetAlias(); alias != nil {
				s.qualifier.add(alias.GetAliasname())
				if strings.EqualFold(n.GetRelname(), table.Name) {
					s.relations.add(alias.GetAliasname())
				}
			}
		case *pg_query.RangeSubselect:
			if alias := n.GetAlias(); alias != nil {
				s.qualifier.add(alias.GetAliasname())
			}
		case *pg_query.Alias:
			for _, name := range stringFields(n.GetColnames()) {
				s.derived.add(name)
			}
		case *pg_query.ResTarget:
			s.derived.add(n.GetName())
			if fn := n.GetVal().GetFuncCall(); fn != nil && n.GetName() == "" {
				if names := stringFields(fn.GetFuncname()); len(names) > 0 {
					s.derived.add(names[len(names)-1])
				}
			}
		}
		return true
	})
	return s
}

var disallowedNodes = map[string]string{
	"LockingClause":    "FOR UPDATE/SHARE",
	"RangeFunction":    "a function call in FROM",
	"RangeTableFunc":   "XMLTABLE",
	"RangeTableSample": "TABLESAMPLE",
	"JsonTable":        "JSON_TABLE",
	"ParamRef":         "a bind parameter",
}

// checker walks the tree keeping a stack of the WITH queries visible at each
// point, so a name only resolves to a CTE inside the statement declaring it.
type checker struct {
	scope     *scope
	ctes      []nameSet
	rejection *Rejection
}

func checkTree(top protoreflect.Message, s *scope) *Rejection {
	c := &checker{scope: s}
	walk(top, c.visit)
	return c.rejection
}

func (c *checker) visit(m protoreflect.Message) bool {
	if c.rejection != nil {
		return false
	}
	name := messageName(m)
	if isWriteStatement(name) {
		c.rejection = reject(ReasonWriteOperation, "%s is not allowed inside a query", statementLabel(name))
		return false
	}
	if label, ok := disallowedNodes[name]; ok {
		c.rejection = reject(ReasonDisallowedConstruct, "%s is not allowed", label)
		return false
	}
	if strings.HasSuffix(name, "Stmt") && name != "SelectStmt" {
		c.rejection = reject(ReasonDisallowedConstruct, "%s is not allowed inside a query", statementLabel(name))
		return false
	}

	switch n := m.Interface().(type) {
	case *pg_query.SelectStmt:
		if with := n.GetWithClause(); with != nil {
			c.checkWith(m, with)
			return false
		}
	case *pg_query.RangeVar:
		c.rejection = c.checkRelation(n)
	case *pg_query.ColumnRef:
		c.rejection = c.scope.checkColumn(n)
	case *pg_query.FuncCall:
		c.rejection = checkFunction(n)
	case *pg_query.SQLValueFunction:
		c.rejection = checkValueFunction(n)
	}
	return c.rejection == nil
}

// checkWith checks a SelectStmt that carries a WITH clause. A plain CTE sees
// the ones declared before it, a recursive clause sees all of its own, and the
// rest of the statement sees every one.
func (c *checker) checkWith(sel protoreflect.Message, with *pg_query.WithClause) {
	frame := nameSet{}
	c.ctes = append(c.ctes, frame)
	defer func() { c.ctes = c.ctes[:len(c.ctes)-1] }()

	if with.GetRecursive() {
		for _, node := range with.GetCtes() {
			frame.add(node.GetCommonTableExpr().GetCtename())
		}
	}
	for _, node := range with.GetCtes() {
		cte := node.GetCommonTableExpr()
		if cte == nil {
			continue
		}
		walk(cte.ProtoReflect(), c.visit)
		if c.rejection != nil {
			return
		}
		frame.add(cte.GetCtename())
	}
	walkChildren(sel, c.visit, "with_clause")
}

func (c *checker) cteVisible(name string) bool {
	for _, frame := range c.ctes {
		if frame.has(name) {
			return true
		}
	}
	return false
}

func (c *checker) checkRelation(rv *pg_query.RangeVar) *Rejection {
	table := c.scope.table.Name
	if rv.GetCatalogname() != "" || rv.GetSchemaname() != "" {
		return reject(ReasonUnknownTable, "table %q is not available, query only %s", qualifiedName(rv), table)
	}
	name := rv.GetRelname()
	if strings.EqualFold(name, table) || c.cteVisible(name) {
		return nil
	}
	return reject(ReasonUnknownTable, "table %q is not available, query only %s", name, table)
}

func qualifiedName(rv *pg_query.RangeVar) string {
	parts := make([]string, 0, 3)
	for _, p := range []string{rv.GetCatalogname(), rv.GetSchemaname(), rv.GetRelname()} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ".")
}

func (s *scope) checkColumn(ref *pg_query.ColumnRef) *Rejection {
	fields := stringFields(ref.GetFields())
	switch len(fields) {
	case 1:
		name := fields[0]
		if name == "*" || s.columns.has(name) || s.derived.has(name) {
			return nil
		}
		return s.unknownColumn(name)
	case 2:
		qualifier, name := fields[0], fields[1]
		if !s.qualifier.has(qualifier) {
			return reject(ReasonUnknownTable, "%q does not name %s, one of its aliases or a WITH query", qualifier, s.table.Name)
		}
		if name == "*" || s.columns.has(name) {
			return nil
		}
		if !s.relations.has(qualifier) && s.derived.has(name) {
			return nil
		}
		return s.unknownColumn(qualifier + "." + name)
	default:
		return reject(ReasonUnknownTable, "column reference %q must not be schema-qualified", strings.Join(fields, "."))
	}
}

func (s *scope) unknownColumn(name string) *Rejection {
	return reject(ReasonUnknownColumn,
		"column %q does not exist in %s, available columns: %s (double quotes name identifiers, text values take single quotes)",
		name, s.table.Name, strings.Join(s.table.ColumnNames(), ", "))
}

var deniedFunctionPrefixes = []string{
	"pg_", "lo_", "dblink", "read_", "sqlite_", "has_", "txid_", "binary_upgrade_",
}

var deniedFunctions = map[string]struct{}{
	"load_extension":    {},
	"readfile":          {},
	"writefile":         {},
	"edit":              {},
	"fts3_tokenizer":    {},
	"current_setting":   {},
	"set_config":        {},
	"version":           {},
	"getenv":            {},
	"randomblob":        {},
	"zeroblob":          {},
	"current_database":  {},
	"current_schema":    {},
	"current_schemas":   {},
	"current_catalog":   {},
	"current_user":      {},
	"session_user":      {},
	"inet_server_addr":  {},
	"inet_server_port":  {},
	"inet_client_addr":  {},
	"inet_client_port":  {},
	"query_to_xml":      {},
	"table_to_xml":      {},
	"schema_to_xml":     {},
	"database_to_xml":   {},
	"cursor_to_xml":     {},
	"nextval":           {},
	"setval":            {},
	"currval":           {},
	"lastval":           {},
	"changes":           {},
	"total_changes":     {},
	"last_insert_rowid": {},
}

func checkFunction(fn *pg_query.FuncCall) *Rejection {
	names := stringFields(fn.GetFuncname())
	if len(names) == 0 {
		return reject(ReasonDisallowedConstruct, "unnamed function call")
	}
	if len(names) > 1 && !(len(names) == 2 && strings.EqualFold(names[0], "pg_catalog")) {
		return reject(ReasonDisallowedConstruct, "schema-qualified function %q is not allowed", strings.Join(names, "."))
	}
	name := strings.ToLower(names[len(names)-1])
	if _, denied := deniedFunctions[name]; denied {
		return reject(ReasonDisallowedConstruct, "function %s() is not allowed", name)
	}
	for _, prefix := range deniedFunctionPrefixes {
		if strings.HasPrefix(name, prefix) {
			return reject(ReasonDisallowedConstruct, "function %s() is not allowed", name)
		}
	}
	return nil
}

var allowedValueFunctions = []string{
	"SVFOP_CURRENT_DATE",
	"SVFOP_CURRENT_TIME",
	"SVFOP_LOCALTIME",
}

func checkValueFunction(fn *pg_query.SQLValueFunction) *Rejection {
	op := fn.GetOp().String()
	for _, prefix := range allowedValueFunctions {
		if strings.HasPrefix(op, prefix) {
			return nil
		}
	}
	label := strings.ToLower(strings.TrimPrefix(op, "SVFOP_"))
	return reject(ReasonDisallowedConstruct, "%s is not allowed", label)
}
