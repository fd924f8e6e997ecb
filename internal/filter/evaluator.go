package filter

import (
	"context"
	"strings"
	"time"
)

// PropertyMap is the evaluation context: a message's system + user
// properties, exposed as a flat case-insensitive (by default) map.
type PropertyMap map[string]interface{}

// TimeoutError is raised mid-scan when the evaluator's deadline elapses.
type TimeoutError struct {
	ElapsedMs int64
	LimitMs   int64
}

func (e *TimeoutError) Error() string { return "filter evaluation exceeded its deadline" }

// Evaluator is a tree-walking visitor evaluating an AST against a single
// PropertyMap. It is NOT thread-safe — callers create one instance per
// evaluation (matching spec §4.1); the FunctionRegistry it holds a
// reference to IS shareable.
type Evaluator struct {
	props             PropertyMap
	registry          *FunctionRegistry
	caseSensitiveProps bool

	EntitiesScanned  int64
	EntitiesMatched  int64
}

// NewEvaluator constructs an Evaluator over props using the given
// (shareable) function registry.
func NewEvaluator(props PropertyMap, registry *FunctionRegistry, caseSensitiveProps bool) *Evaluator {
	return &Evaluator{props: props, registry: registry, caseSensitiveProps: caseSensitiveProps}
}

// Evaluate runs ast against the evaluator's property map. A nil ast
// (empty filter) always matches.
func (e *Evaluator) Evaluate(ast Node) (bool, error) {
	if ast == nil {
		return true, nil
	}
	result, err := ast.Accept(e)
	if err != nil {
		return false, err
	}
	b, _ := result.(bool)
	return b, nil
}

func (e *Evaluator) VisitLiteral(n *LiteralNode) (interface{}, error) { return n.Value, nil }

func (e *Evaluator) VisitProperty(n *PropertyAccessNode) (interface{}, error) {
	if e.caseSensitiveProps {
		v, ok := e.props[n.PropertyName]
		if !ok {
			return nil, nil
		}
		return v, nil
	}
	if v, ok := e.props[n.PropertyName]; ok {
		return v, nil
	}
	target := strings.ToLower(n.PropertyName)
	for k, v := range e.props {
		if strings.ToLower(k) == target {
			return v, nil
		}
	}
	return nil, nil
}

func (e *Evaluator) VisitUnaryOp(n *UnaryOpNode) (interface{}, error) {
	val, err := n.Operand.Accept(e)
	if err != nil {
		return nil, err
	}
	switch n.Operator {
	case "not":
		if val == nil {
			return nil, nil
		}
		b, _ := val.(bool)
		return !b, nil
	case "-":
		if val == nil {
			return nil, nil
		}
		return -toFloat(val), nil
	}
	return nil, evalErrf("unknown unary operator %q", n.Operator)
}

func (e *Evaluator) VisitBinaryOp(n *BinaryOpNode) (interface{}, error) {
	switch n.Operator {
	case "and":
		return e.evalAnd(n)
	case "or":
		return e.evalOr(n)
	}

	left, err := n.Left.Accept(e)
	if err != nil {
		return nil, err
	}
	right, err := n.Right.Accept(e)
	if err != nil {
		return nil, err
	}

	if left == nil || right == nil {
		switch n.Operator {
		case "eq":
			return left == nil && right == nil, nil
		case "ne":
			return !(left == nil && right == nil), nil
		default:
			return nil, nil
		}
	}

	switch n.Operator {
	case "eq":
		return compareEq(left, right), nil
	case "ne":
		return !compareEq(left, right), nil
	case "gt":
		return compareOrder(left, right) > 0, nil
	case "ge":
		return compareOrder(left, right) >= 0, nil
	case "lt":
		return compareOrder(left, right) < 0, nil
	case "le":
		return compareOrder(left, right) <= 0, nil
	case "add":
		return toFloat(left) + toFloat(right), nil
	case "sub":
		return toFloat(left) - toFloat(right), nil
	case "mul":
		return toFloat(left) * toFloat(right), nil
	case "div":
		if toFloat(right) == 0 {
			return nil, evalErrf("division by zero")
		}
		return toFloat(left) / toFloat(right), nil
	case "mod":
		rf := toFloat(right)
		if rf == 0 {
			return nil, evalErrf("modulo by zero")
		}
		lf := toFloat(left)
		return lf - rf*float64(int64(lf/rf)), nil
	}
	return nil, evalErrf("unknown binary operator %q", n.Operator)
}

// evalAnd implements three-valued AND: false dominates (short-circuits to
// false even if the other side is null); otherwise null propagates unless
// both sides are true.
func (e *Evaluator) evalAnd(n *BinaryOpNode) (interface{}, error) {
	left, err := n.Left.Accept(e)
	if err != nil {
		return nil, err
	}
	if b, ok := left.(bool); ok && !b {
		return false, nil
	}
	right, err := n.Right.Accept(e)
	if err != nil {
		return nil, err
	}
	if b, ok := right.(bool); ok && !b {
		return false, nil
	}
	if left == nil || right == nil {
		return nil, nil
	}
	lb, _ := left.(bool)
	rb, _ := right.(bool)
	return lb && rb, nil
}

// evalOr implements three-valued OR: true dominates.
func (e *Evaluator) evalOr(n *BinaryOpNode) (interface{}, error) {
	left, err := n.Left.Accept(e)
	if err != nil {
		return nil, err
	}
	if b, ok := left.(bool); ok && b {
		return true, nil
	}
	right, err := n.Right.Accept(e)
	if err != nil {
		return nil, err
	}
	if b, ok := right.(bool); ok && b {
		return true, nil
	}
	if left == nil || right == nil {
		return nil, nil
	}
	lb, _ := left.(bool)
	rb, _ := right.(bool)
	return lb || rb, nil
}

func (e *Evaluator) VisitFunctionCall(n *FunctionCallNode) (interface{}, error) {
	args := make([]interface{}, len(n.Arguments))
	for i, argNode := range n.Arguments {
		v, err := argNode.Accept(e)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	result, err := e.registry.Call(n.FunctionName, args)
	if err != nil {
		return nil, evalErrf("function %q failed: %v", n.FunctionName, err)
	}
	return result, nil
}

func compareEq(left, right interface{}) bool {
	ls, lok := left.(string)
	rs, rok := right.(string)
	if lok && rok {
		return strings.EqualFold(ls, rs)
	}
	if isNumeric(left) && isNumeric(right) {
		return toFloat(left) == toFloat(right)
	}
	if lt, ok := left.(time.Time); ok {
		if rt, ok := right.(time.Time); ok {
			return lt.Equal(rt)
		}
	}
	return left == right
}

func compareOrder(left, right interface{}) int {
	if lt, ok := left.(time.Time); ok {
		if rt, ok := right.(time.Time); ok {
			switch {
			case lt.Before(rt):
				return -1
			case lt.After(rt):
				return 1
			default:
				return 0
			}
		}
	}
	lf, rf := toFloat(left), toFloat(right)
	switch {
	case lf < rf:
		return -1
	case lf > rf:
		return 1
	default:
		return 0
	}
}

func isNumeric(v interface{}) bool {
	switch v.(type) {
	case int, int32, int64, float32, float64:
		return true
	default:
		return false
	}
}

// QueryEvaluator drives a bounded scan over a slice of entities/messages,
// tracking metrics and honoring a deadline (spec §4.1's TimeoutError
// mid-scan requirement).
type QueryEvaluator struct {
	Registry           *FunctionRegistry
	CaseSensitiveProps bool
	TimeoutMs          int64

	EntitiesScanned  int64
	EntitiesFiltered int64
}

// NewQueryEvaluator constructs a QueryEvaluator with the given deadline.
func NewQueryEvaluator(registry *FunctionRegistry, timeoutMs int64) *QueryEvaluator {
	return &QueryEvaluator{Registry: registry, TimeoutMs: timeoutMs}
}

// FilterEntities applies ast to each entity's PropertyMap, honoring ctx's
// deadline and skip/top pagination, matching evaluator.py's streaming
// filter_entities contract.
func (q *QueryEvaluator) FilterEntities(ctx context.Context, ast Node, entities []PropertyMap, top, skip int) ([]PropertyMap, error) {
	start := time.Now()
	var matched []PropertyMap
	skipped := 0
	for _, entity := range entities {
		select {
		case <-ctx.Done():
			return nil, &TimeoutError{ElapsedMs: time.Since(start).Milliseconds(), LimitMs: q.TimeoutMs}
		default:
		}
		elapsedMs := time.Since(start).Milliseconds()
		if q.TimeoutMs > 0 && elapsedMs > q.TimeoutMs {
			return nil, &TimeoutError{ElapsedMs: elapsedMs, LimitMs: q.TimeoutMs}
		}
		q.EntitiesScanned++
		eval := NewEvaluator(entity, q.Registry, q.CaseSensitiveProps)
		ok, err := eval.Evaluate(ast)
		if err != nil {
			return nil, err
		}
		if !ok {
			q.EntitiesFiltered++
			continue
		}
		if skip > 0 && skipped < skip {
			skipped++
			continue
		}
		matched = append(matched, entity)
		if top > 0 && len(matched) >= top {
			break
		}
	}
	return matched, nil
}

// ResetMetrics zeroes the evaluator's running counters.
func (q *QueryEvaluator) ResetMetrics() {
	q.EntitiesScanned = 0
	q.EntitiesFiltered = 0
}
