package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLexerStrings(t *testing.T) {
	tokens, err := NewLexer("'it''s'").Tokenize()
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, TokenString, tokens[0].Type)
	assert.Equal(t, "it's", tokens[0].Value)
}

func TestLexerUnterminatedString(t *testing.T) {
	_, err := NewLexer("'unterminated").Tokenize()
	require.Error(t, err)
}

func TestLexerNumbers(t *testing.T) {
	tokens, err := NewLexer("42 3.14 1e5 -7").Tokenize()
	require.NoError(t, err)
	assert.Equal(t, TokenInteger, tokens[0].Type)
	assert.Equal(t, TokenFloat, tokens[1].Type)
	assert.Equal(t, TokenFloat, tokens[2].Type)
	assert.Equal(t, TokenInteger, tokens[3].Type)
}

func TestLexerGuidValidation(t *testing.T) {
	_, err := NewLexer("guid'not-a-guid'").Tokenize()
	require.Error(t, err)

	tokens, err := NewLexer("guid'01234567-89ab-cdef-0123-456789abcdef'").Tokenize()
	require.NoError(t, err)
	assert.Equal(t, TokenGUID, tokens[0].Type)
}

func TestParseEmptyFilterIsNil(t *testing.T) {
	ast, err := Parse("")
	require.NoError(t, err)
	assert.Nil(t, ast)
}

func TestParsePrecedence(t *testing.T) {
	ast, err := Parse("priority eq 'high' and region eq 'us' or region eq 'eu'")
	require.NoError(t, err)
	top, ok := ast.(*BinaryOpNode)
	require.True(t, ok)
	assert.Equal(t, "or", top.Operator)
}

func TestParseSyntaxError(t *testing.T) {
	_, err := Parse("priority === 'high'")
	require.Error(t, err)
}

func TestEvaluatorBasicComparison(t *testing.T) {
	ast, err := Parse("priority eq 'high' and region eq 'us'")
	require.NoError(t, err)

	registry := NewFunctionRegistry()
	eval := NewEvaluator(PropertyMap{"priority": "high", "region": "us"}, registry, false)
	matched, err := eval.Evaluate(ast)
	require.NoError(t, err)
	assert.True(t, matched)

	eval2 := NewEvaluator(PropertyMap{"priority": "low", "region": "us"}, registry, false)
	matched2, err := eval2.Evaluate(ast)
	require.NoError(t, err)
	assert.False(t, matched2)
}

func TestEvaluatorThreeValuedAnd(t *testing.T) {
	ast, err := Parse("missing eq 'x' and priority eq 'high'")
	require.NoError(t, err)
	registry := NewFunctionRegistry()
	eval := NewEvaluator(PropertyMap{"priority": "high"}, registry, false)
	matched, err := eval.Evaluate(ast)
	require.NoError(t, err)
	assert.False(t, matched) // missing eq 'x' -> false; false and true -> false
}

func TestEvaluatorDivisionByZero(t *testing.T) {
	ast, err := Parse("1 div 0 eq 1")
	require.NoError(t, err)
	registry := NewFunctionRegistry()
	eval := NewEvaluator(PropertyMap{}, registry, false)
	_, err = eval.Evaluate(ast)
	require.Error(t, err)
}

func TestEvaluatorFunctions(t *testing.T) {
	ast, err := Parse("startswith(label, 'ord')")
	require.NoError(t, err)
	registry := NewFunctionRegistry()
	eval := NewEvaluator(PropertyMap{"label": "Order-123"}, registry, false)
	matched, err := eval.Evaluate(ast)
	require.NoError(t, err)
	assert.True(t, matched)
}

func TestFanOutScenarioS3(t *testing.T) {
	registry := NewFunctionRegistry()
	highRule, err := Parse("priority eq 'high'")
	require.NoError(t, err)
	usRule, err := Parse("region eq 'us'")
	require.NoError(t, err)

	messages := []PropertyMap{
		{"priority": "high", "region": "us"},
		{"priority": "low", "region": "us"},
		{"priority": "high", "region": "eu"},
		{"priority": "low", "region": "eu"},
	}

	matchCount := func(ast Node) int {
		n := 0
		for _, m := range messages {
			eval := NewEvaluator(m, registry, false)
			ok, err := eval.Evaluate(ast)
			require.NoError(t, err)
			if ok {
				n++
			}
		}
		return n
	}

	assert.Equal(t, 2, matchCount(highRule))
	assert.Equal(t, 2, matchCount(usRule))
}

func TestOptimizerPointQuery(t *testing.T) {
	ast, err := Parse("PartitionKey eq 'p1' and RowKey eq 'r1'")
	require.NoError(t, err)
	opt := NewOptimizer(10)
	plan := opt.Optimize(ast, nil)
	assert.Equal(t, PlanPoint, plan.Type)
	assert.Equal(t, "p1", plan.PartitionKey)
	assert.Equal(t, "r1", plan.RowKey)
}

func TestOptimizerTableScanOnOr(t *testing.T) {
	ast, err := Parse("PartitionKey eq 'p1' or RowKey eq 'r1'")
	require.NoError(t, err)
	opt := NewOptimizer(10)
	plan := opt.Optimize(ast, nil)
	assert.Equal(t, PlanTableScan, plan.Type)
}

func TestCorrelationFilterMatches(t *testing.T) {
	id := "abc-123"
	f := &CorrelationFilter{CorrelationID: &id}
	assert.True(t, f.Matches(PropertyMap{"correlation_id": "ABC-123"}))
	assert.False(t, f.Matches(PropertyMap{"correlation_id": "other"}))
}
