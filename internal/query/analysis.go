package query

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/validator"
)

var (
	ErrInvalidQuery    = errors.New("invalid query")
	ErrQueryTooDeep    = errors.New("query exceeds maximum depth")
	ErrQueryTooComplex = errors.New("query exceeds maximum cost")
)

const (
	DefaultMaxDepth = 8
	DefaultMaxCost  = 2000
)

// listDefaults is the assumed size of list fields requested without a page
// size argument.
var listDefaults = map[string]int{
	"exceptions":    20,
	"edges":         1,
	"retryHistory":  10,
	"statusHistory": 10,
}

type Limits struct {
	MaxDepth int
	MaxCost  int
}

func (l Limits) normalized() Limits {
	if l.MaxDepth <= 0 {
		l.MaxDepth = DefaultMaxDepth
	}
	if l.MaxCost <= 0 {
		l.MaxCost = DefaultMaxCost
	}
	return l
}

// Analysis is a parsed document with its static depth and cost.
type Analysis struct {
	Document  *ast.QueryDocument
	Operation *ast.OperationDefinition
	Variables map[string]any
	Depth     int
	Cost      int
}

// Analyze validates query against Schema and rejects it when its depth or
// cost exceeds limits. Nothing is executed.
func Analyze(query, operationName string, variables map[string]any, limits Limits) (*Analysis, error) {
	limits = limits.normalized()

	doc, errs := gqlparser.LoadQuery(Schema, query)
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidQuery, errs.Error())
	}

	op := doc.Operations.ForName(operationName)
	if op == nil {
		if operationName == "" {
			return nil, fmt.Errorf("%w: operationName is required for documents with several operations", ErrInvalidQuery)
		}
		return nil, fmt.Errorf("%w: unknown operation %q", ErrInvalidQuery, operationName)
	}
	if op.Operation != ast.Query {
		return nil, fmt.Errorf("%w: only query operations are supported", ErrInvalidQuery)
	}

	vars, err := validator.VariableValues(Schema, op, variables)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	w := walker{doc: doc, vars: vars}

	depth, err := w.depth(op.SelectionSet, map[string]bool{})
	if err != nil {
		return nil, err
	}
	if depth > limits.MaxDepth {
		return nil, fmt.Errorf("%w: depth %d, limit %d", ErrQueryTooDeep, depth, limits.MaxDepth)
	}

	cost, err := w.cost(op.SelectionSet, map[string]bool{})
	if err != nil {
		return nil, err
	}
	if cost > limits.MaxCost {
		return nil, fmt.Errorf("%w: cost %d, limit %d", ErrQueryTooComplex, cost, limits.MaxCost)
	}

	return &Analysis{Document: doc, Operation: op, Variables: vars, Depth: depth, Cost: cost}, nil
}

type walker struct {
	doc  *ast.QueryDocument
	vars map[string]any
}

// fields flattens fragment spreads and inline fragments into the fields
// they select. active guards against fragment cycles.
func (w walker) fields(set ast.SelectionSet, active map[string]bool, visit func(f *ast.Field) error) error {
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			if err := visit(s); err != nil {
				return err
			}
		case *ast.InlineFragment:
			if err := w.fields(s.SelectionSet, active, visit); err != nil {
				return err
			}
		case *ast.FragmentSpread:
			if active[s.Name] {
				return fmt.Errorf("%w: fragment %q spreads itself", ErrInvalidQuery, s.Name)
			}
			def := w.doc.Fragments.ForName(s.Name)
			if def == nil {
				return fmt.Errorf("%w: unknown fragment %q", ErrInvalidQuery, s.Name)
			}
			active[s.Name] = true
			err := w.fields(def.SelectionSet, active, visit)
			delete(active, s.Name)
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func (w walker) depth(set ast.SelectionSet, active map[string]bool) (int, error) {
	deepest := 0
	err := w.fields(set, active, func(f *ast.Field) error {
		d, err := w.depth(f.SelectionSet, active)
		if err != nil {
			return err
		}
		deepest = max(deepest, d+1)
		return nil
	})
	return deepest, err
}

// cost counts one per field, multiplying the cost of a list field's children
// by the number of items it may return.
func (w walker) cost(set ast.SelectionSet, active map[string]bool) (int, error) {
	total := 0
	err := w.fields(set, active, func(f *ast.Field) error {
		child, err := w.cost(f.SelectionSet, active)
		if err != nil {
			return err
		}
		total += 1 + w.multiplier(f)*child
		return nil
	})
	return total, err
}

func (w walker) multiplier(f *ast.Field) int {
	for _, name := range []string{"first", "pageSize"} {
		if n, ok := intArgument(f, name, w.vars); ok && n > 0 {
			return n
		}
	}
	if n, ok := listDefaults[f.Name]; ok {
		return n
	}
	return 1
}

// intArgument reads an integer argument, resolving variables. Variables
// decoded from JSON arrive as float64 or json.Number.
func intArgument(f *ast.Field, name string, vars map[string]any) (int, bool) {
	arg := f.Arguments.ForName(name)
	if arg == nil {
		return 0, false
	}
	v, err := arg.Value.Value(vars)
	if err != nil {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	}
	return 0, false
}
