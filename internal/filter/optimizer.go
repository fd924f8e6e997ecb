package filter

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// PlanType classifies the shape of an executable query plan.
type PlanType string

const (
	PlanPoint         PlanType = "point_query"
	PlanPartitionScan PlanType = "partition_scan"
	PlanRange         PlanType = "range_query"
	PlanTableScan     PlanType = "table_scan"
)

// Plan is the result of optimization: a plan shape, residual filter (with
// extracted key constraints removed), and an estimated cost.
type Plan struct {
	Type             PlanType
	PartitionKey     string
	RowKey           string
	RowKeyStart      string
	RowKeyEnd        string
	StartInclusive   bool
	EndInclusive     bool
	ResidualFilter   Node
	EstimatedCost    float64
}

const (
	costPoint         = 1.0
	costPartitionScan = 10.0
	costRange         = 15.0
	costTableScan     = 100.0
)

// estimateComplexity recursively scores an AST the way the original
// CostEstimator does: 0.1 per comparison, 0.05 per unary, 0.2 per
// function call (plus the cost of its children), 0 for leaves.
func estimateComplexity(n Node) float64 {
	switch node := n.(type) {
	case *LiteralNode, *PropertyAccessNode, nil:
		return 0.0
	case *UnaryOpNode:
		return 0.05 + estimateComplexity(node.Operand)
	case *BinaryOpNode:
		total := estimateComplexity(node.Left) + estimateComplexity(node.Right)
		switch node.Operator {
		case "eq", "ne", "gt", "ge", "lt", "le":
			total += 0.1
		}
		return total
	case *FunctionCallNode:
		total := 0.2
		for _, arg := range node.Arguments {
			total += estimateComplexity(arg)
		}
		return total
	default:
		return 0.0
	}
}

// keyConstraints accumulates PartitionKey/RowKey constraints found by
// walking an AND-chain at the top of the filter, mirroring the original
// KeyExtractor visitor.
type keyConstraints struct {
	partitionKey      string
	hasPartitionKey   bool
	rowKeyEq          string
	hasRowKeyEq       bool
	rowKeyStart       string
	rowKeyStartIncl   bool
	hasRowKeyStart    bool
	rowKeyEnd         string
	rowKeyEndIncl     bool
	hasRowKeyEnd      bool
	hasOtherPredicates bool
}

func extractKeyConstraints(n Node, kc *keyConstraints) {
	switch node := n.(type) {
	case *BinaryOpNode:
		if node.Operator == "and" {
			extractKeyConstraints(node.Left, kc)
			extractKeyConstraints(node.Right, kc)
			return
		}
		prop, lit, ok := propLiteralPair(node)
		if ok && node.Operator == "eq" && strings.EqualFold(prop, "PartitionKey") {
			kc.partitionKey = fmt.Sprintf("%v", lit.Value)
			kc.hasPartitionKey = true
			return
		}
		if ok && strings.EqualFold(prop, "RowKey") {
			switch node.Operator {
			case "eq":
				kc.rowKeyEq = fmt.Sprintf("%v", lit.Value)
				kc.hasRowKeyEq = true
				return
			case "gt", "ge":
				kc.rowKeyStart = fmt.Sprintf("%v", lit.Value)
				kc.rowKeyStartIncl = node.Operator == "ge"
				kc.hasRowKeyStart = true
				return
			case "lt", "le":
				kc.rowKeyEnd = fmt.Sprintf("%v", lit.Value)
				kc.rowKeyEndIncl = node.Operator == "le"
				kc.hasRowKeyEnd = true
				return
			}
		}
		kc.hasOtherPredicates = true
	case *UnaryOpNode:
		kc.hasOtherPredicates = true
	case *FunctionCallNode:
		kc.hasOtherPredicates = true
	}
}

func propLiteralPair(n *BinaryOpNode) (string, *LiteralNode, bool) {
	if p, ok := n.Left.(*PropertyAccessNode); ok {
		if lit, ok := n.Right.(*LiteralNode); ok {
			return p.PropertyName, lit, true
		}
	}
	if p, ok := n.Right.(*PropertyAccessNode); ok {
		if lit, ok := n.Left.(*LiteralNode); ok {
			return p.PropertyName, lit, true
		}
	}
	return "", nil, false
}

// simplify removes extracted key-equality constraints from the filter
// AST, mirroring the original FilterSimplifier (range/scan constraints
// are left in place since they aren't always fully redundant once
// extra predicates share the same property).
func simplify(n Node, removePartitionEq, removeRowKeyEq bool) Node {
	bop, ok := n.(*BinaryOpNode)
	if !ok {
		return n
	}
	if bop.Operator == "and" {
		left := simplify(bop.Left, removePartitionEq, removeRowKeyEq)
		right := simplify(bop.Right, removePartitionEq, removeRowKeyEq)
		switch {
		case left == nil:
			return right
		case right == nil:
			return left
		default:
			return &BinaryOpNode{position: bop.position, Operator: "and", Left: left, Right: right}
		}
	}
	prop, _, ok := propLiteralPair(bop)
	if ok && bop.Operator == "eq" {
		if removePartitionEq && strings.EqualFold(prop, "PartitionKey") {
			return nil
		}
		if removeRowKeyEq && strings.EqualFold(prop, "RowKey") {
			return nil
		}
	}
	return n
}

func astString(n Node) string {
	if n == nil {
		return "<empty>"
	}
	switch node := n.(type) {
	case *LiteralNode:
		return fmt.Sprintf("Literal(%v:%s)", node.Value, node.EdmType)
	case *PropertyAccessNode:
		return fmt.Sprintf("Property(%s)", node.PropertyName)
	case *UnaryOpNode:
		return fmt.Sprintf("UnaryOp(%s %s)", node.Operator, astString(node.Operand))
	case *BinaryOpNode:
		return fmt.Sprintf("BinaryOp(%s %s %s)", astString(node.Left), node.Operator, astString(node.Right))
	case *FunctionCallNode:
		parts := make([]string, len(node.Arguments))
		for i, a := range node.Arguments {
			parts[i] = astString(a)
		}
		return fmt.Sprintf("Call(%s(%s))", node.FunctionName, strings.Join(parts, ","))
	default:
		return "?"
	}
}

func cacheKey(ast Node, selectProperties []string) string {
	payload := astString(ast) + "|" + strings.Join(selectProperties, ",")
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}

// Optimizer classifies filter ASTs into executable plans and caches them
// in a bounded LRU keyed by a stable hash of the AST plus projection.
type Optimizer struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *Plan]
	hits  int64
	misses int64
}

// NewOptimizer constructs an Optimizer with the given bounded cache size.
func NewOptimizer(cacheSize int) *Optimizer {
	if cacheSize <= 0 {
		cacheSize = 1000
	}
	c, _ := lru.New[string, *Plan](cacheSize)
	return &Optimizer{cache: c}
}

// Optimize classifies ast into a Plan, consulting and populating the
// bounded LRU cache.
func (o *Optimizer) Optimize(ast Node, selectProperties []string) *Plan {
	key := cacheKey(ast, selectProperties)

	o.mu.Lock()
	if plan, ok := o.cache.Get(key); ok {
		o.hits++
		o.mu.Unlock()
		return plan
	}
	o.misses++
	o.mu.Unlock()

	plan := classify(ast)

	o.mu.Lock()
	o.cache.Add(key, plan)
	o.mu.Unlock()
	return plan
}

func classify(ast Node) *Plan {
	if ast == nil {
		return &Plan{Type: PlanTableScan, ResidualFilter: nil, EstimatedCost: costTableScan}
	}

	var kc keyConstraints
	extractKeyConstraints(ast, &kc)
	complexity := estimateComplexity(ast)

	switch {
	case kc.hasPartitionKey && kc.hasRowKeyEq && !kc.hasOtherPredicates:
		return &Plan{
			Type: PlanPoint, PartitionKey: kc.partitionKey, RowKey: kc.rowKeyEq,
			ResidualFilter: simplify(ast, true, true),
			EstimatedCost:  costPoint,
		}
	case kc.hasPartitionKey && (kc.hasRowKeyStart || kc.hasRowKeyEnd) && !kc.hasOtherPredicates:
		return &Plan{
			Type: PlanRange, PartitionKey: kc.partitionKey,
			RowKeyStart: kc.rowKeyStart, RowKeyEnd: kc.rowKeyEnd,
			StartInclusive: kc.rowKeyStartIncl, EndInclusive: kc.rowKeyEndIncl,
			ResidualFilter: simplify(ast, true, false),
			EstimatedCost:  costRange + complexity,
		}
	case kc.hasPartitionKey && !kc.hasOtherPredicates:
		return &Plan{
			Type: PlanPartitionScan, PartitionKey: kc.partitionKey,
			ResidualFilter: simplify(ast, true, false),
			EstimatedCost:  costPartitionScan + complexity,
		}
	default:
		return &Plan{Type: PlanTableScan, ResidualFilter: ast, EstimatedCost: costTableScan + complexity}
	}
}

// CacheStats reports hit/miss counts for diagnostics.
func (o *Optimizer) CacheStats() (hits, misses int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hits, o.misses
}

// ClearCache empties the plan cache and resets hit/miss counters.
func (o *Optimizer) ClearCache() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cache.Purge()
	o.hits, o.misses = 0, 0
}
