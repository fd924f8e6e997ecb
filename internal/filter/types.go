package filter

import "fmt"

// EdmType is an Entity Data Model primitive type (OData v3 subset).
type EdmType string

const (
	EdmString   EdmType = "Edm.String"
	EdmInt32    EdmType = "Edm.Int32"
	EdmInt64    EdmType = "Edm.Int64"
	EdmDouble   EdmType = "Edm.Double"
	EdmBoolean  EdmType = "Edm.Boolean"
	EdmDateTime EdmType = "Edm.DateTime"
	EdmGUID     EdmType = "Edm.Guid"
	EdmBinary   EdmType = "Edm.Binary"
	EdmNull     EdmType = "Edm.Null"
)

// IsNumeric reports whether t is one of Int32, Int64, Double.
func (t EdmType) IsNumeric() bool {
	return t == EdmInt32 || t == EdmInt64 || t == EdmDouble
}

// IsComparable reports whether t and other can appear on either side of
// eq/ne: null compares with anything, numerics compare with each other,
// and identical types always compare.
func (t EdmType) IsComparable(other EdmType) bool {
	if t == EdmNull || other == EdmNull {
		return true
	}
	if t.IsNumeric() && other.IsNumeric() {
		return true
	}
	return t == other
}

// SupportsOrdering reports whether t may appear in gt/ge/lt/le.
func (t EdmType) SupportsOrdering() bool {
	switch t {
	case EdmInt32, EdmInt64, EdmDouble, EdmDateTime:
		return true
	default:
		return false
	}
}

// TypeError is raised when type checking fails.
type TypeError struct {
	Message    string
	Position   Position
	Expected   []EdmType
	Actual     EdmType
	Suggestion string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("type error at %s: %s", e.Position, e.Message)
}

// FunctionSignature describes a built-in function's argument and return
// types for the type checker (substring is handled specially, matching
// its two overloads).
type FunctionSignature struct {
	ArgTypes           []EdmType
	ReturnType         EdmType
	AllowNumericPromote bool
}

var functionSignatures = map[string]FunctionSignature{
	"startswith":  {ArgTypes: []EdmType{EdmString, EdmString}, ReturnType: EdmBoolean},
	"endswith":    {ArgTypes: []EdmType{EdmString, EdmString}, ReturnType: EdmBoolean},
	"contains":    {ArgTypes: []EdmType{EdmString, EdmString}, ReturnType: EdmBoolean},
	"substringof": {ArgTypes: []EdmType{EdmString, EdmString}, ReturnType: EdmBoolean},
	"tolower":     {ArgTypes: []EdmType{EdmString}, ReturnType: EdmString},
	"toupper":     {ArgTypes: []EdmType{EdmString}, ReturnType: EdmString},
	"trim":        {ArgTypes: []EdmType{EdmString}, ReturnType: EdmString},
	"concat":      {ArgTypes: []EdmType{EdmString, EdmString}, ReturnType: EdmString},
	"length":      {ArgTypes: []EdmType{EdmString}, ReturnType: EdmInt32},
	"indexof":     {ArgTypes: []EdmType{EdmString, EdmString}, ReturnType: EdmInt32},
	"replace":     {ArgTypes: []EdmType{EdmString, EdmString, EdmString}, ReturnType: EdmString},
	"year":        {ArgTypes: []EdmType{EdmDateTime}, ReturnType: EdmInt32},
	"month":       {ArgTypes: []EdmType{EdmDateTime}, ReturnType: EdmInt32},
	"day":         {ArgTypes: []EdmType{EdmDateTime}, ReturnType: EdmInt32},
	"hour":        {ArgTypes: []EdmType{EdmDateTime}, ReturnType: EdmInt32},
	"minute":      {ArgTypes: []EdmType{EdmDateTime}, ReturnType: EdmInt32},
	"second":      {ArgTypes: []EdmType{EdmDateTime}, ReturnType: EdmInt32},
	"round":       {ArgTypes: []EdmType{EdmDouble}, ReturnType: EdmDouble},
	"floor":       {ArgTypes: []EdmType{EdmDouble}, ReturnType: EdmDouble},
	"ceiling":     {ArgTypes: []EdmType{EdmDouble}, ReturnType: EdmDouble},
}

// TypeValidator implements the EDM type-checking and promotion rules.
type TypeValidator struct{}

// CheckComparison validates a comparison operator between two types.
func (TypeValidator) CheckComparison(left EdmType, operator string, right EdmType, pos Position) error {
	if !left.IsComparable(right) {
		return &TypeError{
			Message: fmt.Sprintf("cannot compare %s with %s", left, right), Position: pos,
			Expected: []EdmType{left}, Actual: right,
			Suggestion: "ensure both operands have compatible types",
		}
	}
	switch operator {
	case "gt", "ge", "lt", "le":
		if left == EdmNull || right == EdmNull {
			return &TypeError{Message: fmt.Sprintf("cannot use %q with null values", operator), Position: pos, Suggestion: "use eq or ne for null comparisons"}
		}
		if left.IsNumeric() && right.IsNumeric() {
			common := TypeValidator{}.Promote(left, right)
			if !common.SupportsOrdering() {
				return &TypeError{Message: fmt.Sprintf("type %s does not support ordering operators", common), Position: pos}
			}
		} else if !left.SupportsOrdering() || !right.SupportsOrdering() {
			nonOrdering := left
			if left.SupportsOrdering() {
				nonOrdering = right
			}
			return &TypeError{
				Message: fmt.Sprintf("cannot use %q with %s", operator, nonOrdering), Position: pos,
				Expected:   []EdmType{EdmInt32, EdmInt64, EdmDouble, EdmDateTime},
				Actual:     nonOrdering,
				Suggestion: "use eq or ne for equality comparisons only",
			}
		}
	}
	return nil
}

// CheckLogical validates a logical operator's operand type.
func (TypeValidator) CheckLogical(operandType EdmType, operator string, pos Position) error {
	if operandType != EdmBoolean && operandType != EdmNull {
		return &TypeError{
			Message: fmt.Sprintf("logical operator %q requires boolean operands", operator), Position: pos,
			Expected: []EdmType{EdmBoolean}, Actual: operandType,
			Suggestion: "ensure the expression evaluates to a boolean value",
		}
	}
	return nil
}

// CheckArithmetic validates an arithmetic operator and returns the
// promoted result type.
func (v TypeValidator) CheckArithmetic(left EdmType, operator string, right EdmType, pos Position) (EdmType, error) {
	if !left.IsNumeric() {
		return "", &TypeError{Message: fmt.Sprintf("cannot use arithmetic operator %q with %s", operator, left), Position: pos, Expected: []EdmType{EdmInt32, EdmInt64, EdmDouble}, Actual: left}
	}
	if !right.IsNumeric() {
		return "", &TypeError{Message: fmt.Sprintf("cannot use arithmetic operator %q with %s", operator, right), Position: pos, Expected: []EdmType{EdmInt32, EdmInt64, EdmDouble}, Actual: right}
	}
	return v.Promote(left, right), nil
}

// CheckFunction validates a function call's argument types and returns
// its return type. substring has two overloads handled specially.
func (TypeValidator) CheckFunction(function string, args []EdmType, pos Position) (EdmType, error) {
	if function == "substring" {
		switch len(args) {
		case 2:
			if args[0] != EdmString {
				return "", &TypeError{Message: "function substring expects first argument to be Edm.String", Position: pos, Expected: []EdmType{EdmString}, Actual: args[0]}
			}
			if !args[1].IsNumeric() {
				return "", &TypeError{Message: "function substring expects second argument to be numeric", Position: pos, Expected: []EdmType{EdmInt32, EdmInt64}, Actual: args[1]}
			}
			return EdmString, nil
		case 3:
			if args[0] != EdmString {
				return "", &TypeError{Message: "function substring expects first argument to be Edm.String", Position: pos, Expected: []EdmType{EdmString}, Actual: args[0]}
			}
			if !args[1].IsNumeric() || !args[2].IsNumeric() {
				return "", &TypeError{Message: "function substring expects numeric arguments for start and length", Position: pos}
			}
			return EdmString, nil
		default:
			return "", &TypeError{Message: fmt.Sprintf("function substring expects 2 or 3 arguments, got %d", len(args)), Position: pos}
		}
	}

	sig, ok := functionSignatures[function]
	if !ok {
		return "", &TypeError{Message: fmt.Sprintf("unknown function %q", function), Position: pos, Suggestion: "check function name spelling"}
	}
	if len(args) != len(sig.ArgTypes) {
		return "", &TypeError{Message: fmt.Sprintf("function %q expects %d argument(s), got %d", function, len(sig.ArgTypes), len(args)), Position: pos}
	}
	for i, expected := range sig.ArgTypes {
		actual := args[i]
		if actual == EdmNull {
			continue
		}
		if expected.IsNumeric() && actual.IsNumeric() {
			continue
		}
		if expected != actual {
			return "", &TypeError{Message: fmt.Sprintf("function %q argument %d: expected %s, got %s", function, i+1, expected, actual), Position: pos, Expected: []EdmType{expected}, Actual: actual}
		}
	}
	return sig.ReturnType, nil
}

// Promote returns the common type of t1 and t2 using the Int32 < Int64 <
// Double hierarchy.
func (TypeValidator) Promote(t1, t2 EdmType) EdmType {
	rank := map[EdmType]int{EdmInt32: 1, EdmInt64: 2, EdmDouble: 3}
	if rank[t1] >= rank[t2] {
		return t1
	}
	return t2
}

// InferType infers the EdmType of a Go value the way the original
// inference routine does, checking bool before int.
func InferType(value interface{}) EdmType {
	switch v := value.(type) {
	case nil:
		return EdmNull
	case bool:
		return EdmBoolean
	case int:
		return int32Or64(int64(v))
	case int32:
		return EdmInt32
	case int64:
		return int32Or64(v)
	case float64, float32:
		return EdmDouble
	case string:
		return EdmString
	default:
		return EdmString
	}
}

func int32Or64(v int64) EdmType {
	if v >= -2147483648 && v <= 2147483647 {
		return EdmInt32
	}
	return EdmInt64
}
