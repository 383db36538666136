package runtime

import (
	"encoding/json"
	"slices"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// QueryHandle identifies an async query. Handles are monotonically
// increasing and freed only by CleanupCompleted or engine teardown.
type QueryHandle uint64

// QueryStatus is the lifecycle state of an async query.
type QueryStatus int

// Async query states.
const (
	StatusPending QueryStatus = iota
	StatusComplete
	StatusError
	StatusCancelled
)

// String returns the status name.
func (s QueryStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusComplete:
		return "complete"
	case StatusError:
		return "error"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// QueryRequest is the wire-format query. WhereClause is a JSON string
// containing a nested JSON object.
type QueryRequest struct {
	// What to select: "all" or comma-separated field names.
	SelectClause string `json:"select_clause"`

	// Type to query: "functions", "structs", "enums", "modules",
	// "databases", "externs", "all", or "*".
	FromType string `json:"from_type"`

	// Optional where clause as JSON.
	WhereClause string `json:"where_clause,omitempty"`

	// Optional ordering: "field:asc" or "field:desc".
	OrderBy string `json:"order_by,omitempty"`

	// Optional limit on results.
	Limit *uint32 `json:"limit,omitempty"`

	// Optional offset for pagination.
	Offset *uint32 `json:"offset,omitempty"`
}

// QueryResult is a deterministic, ordered result page.
type QueryResult struct {
	Symbols []*RuntimeSymbol `json:"symbols"`
	Version uint64           `json:"version"`
	HasMore bool             `json:"has_more"`
}

// asyncQuery is the state-machine entry for one handle.
type asyncQuery struct {
	request QueryRequest
	status  QueryStatus
	result  *QueryResult
	err     error
}

// QueryEngine executes queries against a symbol store. The async surface
// is cooperative: StartQuery records the request, and the host advances
// it explicitly with ProcessQuery.
type QueryEngine struct {
	nextHandle QueryHandle
	pending    map[QueryHandle]*asyncQuery
}

// NewQueryEngine creates an engine with no pending queries.
func NewQueryEngine() *QueryEngine {
	return &QueryEngine{
		nextHandle: 1,
		pending:    make(map[QueryHandle]*asyncQuery),
	}
}

// fromTypeKinds maps from_type values to kind filters.
var fromTypeKinds = map[string]string{
	"functions": "fn",
	"structs":   "struct",
	"enums":     "enum",
	"modules":   "module",
	"databases": "database",
	"externs":   "extern",
}

// Execute runs a query synchronously against a store snapshot.
func (e *QueryEngine) Execute(store *SymbolStore, request *QueryRequest) (*QueryResult, error) {
	filter := &SymbolFilter{}

	switch request.FromType {
	case "all", "*":
	default:
		kind, ok := fromTypeKinds[request.FromType]
		if !ok {
			return nil, invalidQueryf("unknown from_type: %s", request.FromType)
		}

		filter.Kind = kind
	}

	var program *vm.Program

	if request.WhereClause != "" {
		compiled, err := e.applyWhereClause(filter, request.WhereClause)
		if err != nil {
			return nil, err
		}

		program = compiled
	}

	symbols := store.List(filter)

	if program != nil {
		filtered, err := filterByExpr(symbols, program)
		if err != nil {
			return nil, err
		}

		symbols = filtered
	}

	if request.OrderBy != "" {
		if err := applyOrdering(symbols, request.OrderBy); err != nil {
			return nil, err
		}
	} else {
		// Default: lexicographic by ID (deterministic); List already
		// guarantees it.
		slices.SortFunc(symbols, func(a, b *RuntimeSymbol) int {
			return strings.Compare(a.ID, b.ID)
		})
	}

	total := len(symbols)
	offset := 0

	if request.Offset != nil {
		offset = int(*request.Offset)
	}

	if offset > total {
		offset = total
	}

	end := total
	if request.Limit != nil && offset+int(*request.Limit) < end {
		end = offset + int(*request.Limit)
	}

	page := symbols[offset:end]

	return &QueryResult{
		Symbols: page,
		Version: store.Version(),
		HasMore: offset+len(page) < total,
	}, nil
}

// applyWhereClause parses the where JSON into filter fields. Recognized
// keys: has_effect, calls, called_by, kind, contains{field, value}, and
// expr (a boolean expression evaluated per symbol). Returns the compiled
// expression, if any.
func (e *QueryEngine) applyWhereClause(filter *SymbolFilter, whereJSON string) (*vm.Program, error) {
	var parsed map[string]any

	if err := json.Unmarshal([]byte(whereJSON), &parsed); err != nil {
		return nil, invalidQueryf("invalid where clause JSON: %v", err)
	}

	if v, ok := parsed["has_effect"].(string); ok {
		filter.HasEffect = v
	}

	if v, ok := parsed["calls"].(string); ok {
		filter.CallsFn = v
	}

	if v, ok := parsed["called_by"].(string); ok {
		filter.CalledByFn = v
	}

	if v, ok := parsed["kind"].(string); ok {
		filter.Kind = v
	}

	if contains, ok := parsed["contains"].(map[string]any); ok {
		field, _ := contains["field"].(string)
		value, _ := contains["value"].(string)

		if field == "effects" && value != "" {
			filter.HasEffect = value
		}
	}

	if exprSrc, ok := parsed["expr"].(string); ok && exprSrc != "" {
		program, err := expr.Compile(exprSrc, expr.Env(symbolEnv(&RuntimeSymbol{})), expr.AsBool())
		if err != nil {
			return nil, invalidQueryf("invalid where expression: %v", err)
		}

		return program, nil
	}

	return nil, nil
}

// symbolEnv is the expression environment exposed per symbol.
func symbolEnv(sym *RuntimeSymbol) map[string]any {
	return map[string]any{
		"id":             sym.ID,
		"kind":           sym.Kind,
		"file":           sym.File,
		"line":           sym.Line,
		"effects":        sym.Effects,
		"effect_closure": sym.EffectClosure,
		"calls":          sym.Calls,
		"called_by":      sym.CalledBy,
		"version":        sym.Version,
	}
}

func filterByExpr(symbols []*RuntimeSymbol, program *vm.Program) ([]*RuntimeSymbol, error) {
	out := symbols[:0]

	for _, sym := range symbols {
		keep, err := expr.Run(program, symbolEnv(sym))
		if err != nil {
			return nil, invalidQueryf("where expression failed: %v", err)
		}

		if pass, ok := keep.(bool); ok && pass {
			out = append(out, sym)
		}
	}

	return out, nil
}

// applyOrdering sorts in place by "field:dir".
func applyOrdering(symbols []*RuntimeSymbol, order string) error {
	field, dir, found := strings.Cut(order, ":")
	if !found {
		dir = "asc"
	}

	var ascending bool

	switch dir {
	case "asc":
		ascending = true
	case "desc":
		ascending = false
	default:
		return invalidQueryf("invalid order direction: %s", dir)
	}

	var cmp func(a, b *RuntimeSymbol) int

	switch field {
	case "id":
		cmp = func(a, b *RuntimeSymbol) int { return strings.Compare(a.ID, b.ID) }
	case "kind":
		cmp = func(a, b *RuntimeSymbol) int { return strings.Compare(a.Kind, b.Kind) }
	case "file":
		cmp = func(a, b *RuntimeSymbol) int { return strings.Compare(a.File, b.File) }
	case "line":
		cmp = func(a, b *RuntimeSymbol) int { return a.Line - b.Line }
	default:
		return invalidQueryf("unknown order field: %s", field)
	}

	slices.SortStableFunc(symbols, func(a, b *RuntimeSymbol) int {
		if ascending {
			return cmp(a, b)
		}

		return -cmp(a, b)
	})

	return nil
}

// ---------------------------------------------------------------------------
// Async surface
// ---------------------------------------------------------------------------

// StartQuery records a request and returns its handle in state Pending.
func (e *QueryEngine) StartQuery(request QueryRequest) QueryHandle {
	handle := e.nextHandle
	e.nextHandle++

	e.pending[handle] = &asyncQuery{request: request, status: StatusPending}

	return handle
}

// PollQuery returns the current state of a handle; unknown handles report
// Error.
func (e *QueryEngine) PollQuery(handle QueryHandle) QueryStatus {
	query, ok := e.pending[handle]
	if !ok {
		return StatusError
	}

	return query.status
}

// ProcessQuery executes a pending query to completion synchronously.
// Queries in any other state are left untouched.
func (e *QueryEngine) ProcessQuery(handle QueryHandle, store *SymbolStore) {
	query, ok := e.pending[handle]
	if !ok || query.status != StatusPending {
		return
	}

	result, err := e.Execute(store, &query.request)
	if err != nil {
		query.status = StatusError
		query.err = err

		return
	}

	query.status = StatusComplete
	query.result = result
}

// GetResult returns the stored result of a handle, leaving the handle
// alive. ready is false while the query has not been processed.
func (e *QueryEngine) GetResult(handle QueryHandle) (result *QueryResult, ready bool, err error) {
	query, ok := e.pending[handle]
	if !ok {
		return nil, false, nil
	}

	if query.result == nil && query.err == nil {
		return nil, false, nil
	}

	return query.result, true, query.err
}

// CancelQuery transitions Pending to Cancelled and stores a cancellation
// error. It never interrupts an in-progress ProcessQuery.
func (e *QueryEngine) CancelQuery(handle QueryHandle) {
	query, ok := e.pending[handle]
	if !ok || query.status != StatusPending {
		return
	}

	query.status = StatusCancelled
	query.err = ErrQueryCancelled
}

// CleanupCompleted drops every non-pending handle.
func (e *QueryEngine) CleanupCompleted() {
	for handle, query := range e.pending {
		if query.status != StatusPending {
			delete(e.pending, handle)
		}
	}
}
