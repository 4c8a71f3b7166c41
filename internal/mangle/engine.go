package mangle

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"timebooker/internal/config"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"
)

//go:embed schema.mg
var bookingSchema string

// Fact is one booking event or derived conclusion.
type Fact struct {
	Predicate string        `json:"predicate"`
	Args      []interface{} `json:"args"`
	Timestamp time.Time     `json:"timestamp"`
}

// QueryResult represents a binding of variables to values from a Mangle query.
type QueryResult map[string]interface{}

// Engine wraps the Mangle deductive database with a bounded temporal fact buffer.
type Engine struct {
	cfg config.MangleConfig
	mu  sync.RWMutex

	// sources are the schema and every added rule, analyzed together.
	sources     []string
	programInfo *analysis.ProgramInfo
	// base holds only added facts. derived is rebuilt from it whenever base or the
	// program changed, since Mangle never retracts a derived fact.
	base    factstore.FactStore
	derived factstore.FactStore
	stale   bool

	facts []Fact
	// index maps predicate to positions in facts.
	index map[string][]int
}

// NewEngine loads the built-in booking schema, plus cfg.SchemaPath when set.
func NewEngine(cfg config.MangleConfig) (*Engine, error) {
	e := &Engine{
		cfg:   cfg,
		facts: make([]Fact, 0, max(cfg.FactBufferLimit, 0)),
		index: make(map[string][]int),
		base:  factstore.NewSimpleInMemoryStore(),
		stale: true,
	}
	if !cfg.Enable {
		return e, nil
	}

	if err := e.AddRule(bookingSchema); err != nil {
		return nil, fmt.Errorf("booking schema: %w", err)
	}
	if cfg.SchemaPath != "" {
		if err := e.LoadSchema(cfg.SchemaPath); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// LoadSchema adds the declarations and rules of a Mangle file to the program.
func (e *Engine) LoadSchema(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	if err := e.AddRule(string(data)); err != nil {
		return fmt.Errorf("schema %s: %w", path, err)
	}
	return nil
}

// AddRule adds Mangle source to the program. The whole program is re-analyzed so new
// rules may use any predicate declared before.
func (e *Engine) AddRule(ruleSource string) error {
	if !e.cfg.Enable {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	sources := append(append([]string(nil), e.sources...), ruleSource)
	unit, err := parse.Unit(strings.NewReader(strings.Join(sources, "\n")))
	if err != nil {
		return fmt.Errorf("parse rule: %w", err)
	}
	programInfo, err := analysis.AnalyzeOneUnit(unit, make(map[ast.PredicateSym]ast.Decl))
	if err != nil {
		return fmt.Errorf("analyze rule: %w", err)
	}

	e.sources = sources
	e.programInfo = programInfo
	e.stale = true
	return nil
}

// AddFacts appends facts to the temporal buffer and the base store. Derived facts are
// computed lazily by the next Query or Evaluate.
func (e *Engine) AddFacts(ctx context.Context, facts []Fact) error {
	if !e.cfg.Enable {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	baseIdx := len(e.facts)
	e.facts = append(e.facts, facts...)
	if e.cfg.FactBufferLimit > 0 && len(e.facts) > e.cfg.FactBufferLimit {
		e.facts = e.facts[len(e.facts)-e.cfg.FactBufferLimit:]
		e.rebuildIndex()
	} else {
		for i, f := range facts {
			e.index[f.Predicate] = append(e.index[f.Predicate], baseIdx+i)
		}
	}

	// The base store keeps every fact; only the temporal buffer is bounded.
	for _, f := range facts {
		e.base.Add(e.factToAtom(f))
	}
	e.stale = true
	return nil
}

// evaluated returns a store holding the base facts plus everything the program
// derives from them. Callers hold e.mu for writing.
func (e *Engine) evaluated() (factstore.FactStore, error) {
	if !e.stale && e.derived != nil {
		return e.derived, nil
	}
	fresh := factstore.NewSimpleInMemoryStore()
	fresh.Merge(e.base)
	if e.programInfo != nil {
		if err := mengine.EvalProgram(e.programInfo, fresh); err != nil {
			return nil, fmt.Errorf("eval program: %w", err)
		}
	}
	e.derived = fresh
	e.stale = false
	return fresh, nil
}

// Query returns the variable bindings of every stored or derived fact matching a
// single-atom query, e.g. `booking_failed(Item, "apply", Reason, _).`
func (e *Engine) Query(ctx context.Context, queryStr string) ([]QueryResult, error) {
	if !e.Ready() || !e.cfg.Enable {
		return nil, fmt.Errorf("engine not ready")
	}

	sourceUnit, err := parse.Unit(bytes.NewReader([]byte(queryStr)))
	if err != nil {
		return nil, fmt.Errorf("parse query: %w", err)
	}
	if len(sourceUnit.Clauses) == 0 {
		return nil, fmt.Errorf("no query found")
	}
	queryAtom := sourceUnit.Clauses[0].Head

	e.mu.Lock()
	defer e.mu.Unlock()

	store, err := e.evaluated()
	if err != nil {
		return nil, err
	}
	results := make([]QueryResult, 0)
	err = store.GetFacts(queryAtom, func(atom ast.Atom) error {
		result := make(QueryResult)
		for i, arg := range queryAtom.Args {
			if i >= len(atom.Args) {
				break
			}
			if v, ok := arg.(ast.Variable); ok && v.Symbol != "_" {
				result[v.Symbol] = convertConstant(atom.Args[i])
			}
		}
		results = append(results, result)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query execution: %w", err)
	}
	return results, nil
}

// Evaluate runs the program and returns every fact of predicate, derived or stored.
func (e *Engine) Evaluate(ctx context.Context, predicate string) ([]Fact, error) {
	if !e.cfg.Enable || !e.Ready() {
		return nil, fmt.Errorf("engine not ready")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	store, err := e.evaluated()
	if err != nil {
		return nil, err
	}

	arity := -1
	for sym := range e.programInfo.Decls {
		if sym.Symbol == predicate {
			arity = sym.Arity
			break
		}
	}
	if arity < 0 {
		return nil, fmt.Errorf("unknown predicate %q", predicate)
	}

	args := make([]ast.BaseTerm, arity)
	for i := range args {
		args[i] = ast.Variable{Symbol: fmt.Sprintf("V%d", i)}
	}
	queryAtom := ast.Atom{Predicate: ast.PredicateSym{Symbol: predicate, Arity: arity}, Args: args}

	facts := make([]Fact, 0)
	now := time.Now()
	err = store.GetFacts(queryAtom, func(atom ast.Atom) error {
		facts = append(facts, atomToFact(atom, now))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get facts: %w", err)
	}
	return facts, nil
}

// QueryTemporal returns buffered facts of predicate strictly between after and before.
// Zero bounds are open.
func (e *Engine) QueryTemporal(predicate string, after, before time.Time) []Fact {
	e.mu.RLock()
	defer e.mu.RUnlock()

	results := make([]Fact, 0)
	for _, idx := range e.index[predicate] {
		f := e.facts[idx]
		if (after.IsZero() || f.Timestamp.After(after)) &&
			(before.IsZero() || f.Timestamp.Before(before)) {
			results = append(results, f)
		}
	}
	return results
}

// FactsByPredicate returns buffered facts of predicate in insertion order.
func (e *Engine) FactsByPredicate(predicate string) []Fact {
	e.mu.RLock()
	defer e.mu.RUnlock()

	indices := e.index[predicate]
	results := make([]Fact, 0, len(indices))
	for _, idx := range indices {
		results = append(results, e.facts[idx])
	}
	return results
}

// Ready reports whether the engine has a usable query context.
func (e *Engine) Ready() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.programInfo != nil || !e.cfg.Enable
}

func (e *Engine) factToAtom(f Fact) ast.Atom {
	args := make([]ast.BaseTerm, len(f.Args))
	for i, arg := range f.Args {
		args[i] = toConstant(arg)
	}
	return ast.Atom{
		Predicate: ast.PredicateSym{Symbol: f.Predicate, Arity: len(f.Args)},
		Args:      args,
	}
}

func atomToFact(atom ast.Atom, ts time.Time) Fact {
	args := make([]interface{}, len(atom.Args))
	for i, arg := range atom.Args {
		args[i] = convertConstant(arg)
	}
	return Fact{Predicate: atom.Predicate.Symbol, Args: args, Timestamp: ts}
}

func toConstant(v interface{}) ast.Constant {
	switch val := v.(type) {
	case string:
		return ast.String(val)
	case int:
		return ast.Number(int64(val))
	case int64:
		return ast.Number(val)
	case float64:
		return ast.Float64(val)
	case bool:
		if val {
			return ast.String("true")
		}
		return ast.String("false")
	default:
		return ast.String(fmt.Sprintf("%v", v))
	}
}

func convertConstant(c ast.BaseTerm) interface{} {
	switch term := c.(type) {
	case nil:
		return nil
	case ast.Constant:
		switch term.Type {
		case ast.StringType:
			if val, err := term.StringValue(); err == nil {
				return val
			}
		case ast.NumberType:
			if val, err := term.NumberValue(); err == nil {
				return val
			}
		case ast.Float64Type:
			if val, err := term.Float64Value(); err == nil {
				return val
			}
		}
		return term.String()
	case ast.Variable:
		return term.Symbol
	default:
		return fmt.Sprintf("%v", c)
	}
}

func (e *Engine) rebuildIndex() {
	e.index = make(map[string][]int)
	for i, f := range e.facts {
		e.index[f.Predicate] = append(e.index[f.Predicate], i)
	}
}
