package filter

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// EvalError is raised by function evaluation (division/modulo by zero,
// unsupported conversions, arity mismatches surfaced at call time).
type EvalError struct{ Message string }

func (e *EvalError) Error() string { return e.Message }

func evalErrf(format string, args ...interface{}) error {
	return &EvalError{Message: fmt.Sprintf(format, args...)}
}

// builtins implements the value-level semantics of every built-in
// function; every function here except isof propagates a nil argument to
// a nil result (three-valued logic), matching functions.py's
// FunctionLibrary. isof(null, 'Edm.Null') is true and isof(null, T) is
// false for any other T.
var builtins = map[string]func(args []interface{}) (interface{}, error){
	"startswith": func(a []interface{}) (interface{}, error) {
		if hasNil(a) {
			return nil, nil
		}
		s, sub := a[0].(string), a[1].(string)
		return strings.HasPrefix(strings.ToLower(s), strings.ToLower(sub)), nil
	},
	"endswith": func(a []interface{}) (interface{}, error) {
		if hasNil(a) {
			return nil, nil
		}
		s, sub := a[0].(string), a[1].(string)
		return strings.HasSuffix(strings.ToLower(s), strings.ToLower(sub)), nil
	},
	"contains": func(a []interface{}) (interface{}, error) {
		if hasNil(a) {
			return nil, nil
		}
		s, sub := a[0].(string), a[1].(string)
		return strings.Contains(strings.ToLower(s), strings.ToLower(sub)), nil
	},
	"substringof": func(a []interface{}) (interface{}, error) {
		if hasNil(a) {
			return nil, nil
		}
		// OData v3 reversed-arg form of contains: substringof(substring, s)
		sub, s := a[0].(string), a[1].(string)
		return strings.Contains(strings.ToLower(s), strings.ToLower(sub)), nil
	},
	"tolower": func(a []interface{}) (interface{}, error) {
		if hasNil(a) {
			return nil, nil
		}
		return strings.ToLower(a[0].(string)), nil
	},
	"toupper": func(a []interface{}) (interface{}, error) {
		if hasNil(a) {
			return nil, nil
		}
		return strings.ToUpper(a[0].(string)), nil
	},
	"trim": func(a []interface{}) (interface{}, error) {
		if hasNil(a) {
			return nil, nil
		}
		return strings.TrimSpace(a[0].(string)), nil
	},
	"concat": func(a []interface{}) (interface{}, error) {
		if hasNil(a) {
			return nil, nil
		}
		return a[0].(string) + a[1].(string), nil
	},
	"length": func(a []interface{}) (interface{}, error) {
		if hasNil(a) {
			return nil, nil
		}
		return int64(len([]rune(a[0].(string)))), nil
	},
	"indexof": func(a []interface{}) (interface{}, error) {
		if hasNil(a) {
			return nil, nil
		}
		s, sub := a[0].(string), a[1].(string)
		idx := strings.Index(s, sub)
		return int64(idx), nil
	},
	"replace": func(a []interface{}) (interface{}, error) {
		if hasNil(a) {
			return nil, nil
		}
		s, find, repl := a[0].(string), a[1].(string), a[2].(string)
		return strings.ReplaceAll(s, find, repl), nil
	},
	"substring": func(a []interface{}) (interface{}, error) {
		if hasNil(a) {
			return nil, nil
		}
		s := []rune(a[0].(string))
		start := int(toFloat(a[1]))
		if start < 0 {
			start = 0
		}
		if start > len(s) {
			start = len(s)
		}
		if len(a) == 2 {
			return string(s[start:]), nil
		}
		length := int(toFloat(a[2]))
		if length < 0 {
			length = 0
		}
		end := start + length
		if end > len(s) {
			end = len(s)
		}
		return string(s[start:end]), nil
	},
	"year":   dateField(func(t time.Time) int64 { return int64(t.Year()) }),
	"month":  dateField(func(t time.Time) int64 { return int64(t.Month()) }),
	"day":    dateField(func(t time.Time) int64 { return int64(t.Day()) }),
	"hour":   dateField(func(t time.Time) int64 { return int64(t.Hour()) }),
	"minute": dateField(func(t time.Time) int64 { return int64(t.Minute()) }),
	"second": dateField(func(t time.Time) int64 { return int64(t.Second()) }),
	"round": func(a []interface{}) (interface{}, error) {
		if hasNil(a) {
			return nil, nil
		}
		return math.Round(toFloat(a[0])), nil
	},
	"floor": func(a []interface{}) (interface{}, error) {
		if hasNil(a) {
			return nil, nil
		}
		return math.Floor(toFloat(a[0])), nil
	},
	"ceiling": func(a []interface{}) (interface{}, error) {
		if hasNil(a) {
			return nil, nil
		}
		return math.Ceil(toFloat(a[0])), nil
	},
	"isof": func(a []interface{}) (interface{}, error) {
		if len(a) != 2 {
			return nil, evalErrf("isof expects 2 arguments")
		}
		typeName, _ := a[1].(string)
		return isOf(a[0], typeName), nil
	},
	"cast": func(a []interface{}) (interface{}, error) {
		if len(a) != 2 {
			return nil, evalErrf("cast expects 2 arguments")
		}
		if a[0] == nil {
			return nil, nil
		}
		typeName, _ := a[1].(string)
		return castTo(a[0], typeName)
	},
}

func hasNil(args []interface{}) bool {
	for _, a := range args {
		if a == nil {
			return true
		}
	}
	return false
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case int32:
		return float64(n)
	case int:
		return float64(n)
	case float64:
		return n
	case float32:
		return float64(n)
	default:
		return 0
	}
}

func dateField(extract func(time.Time) int64) func([]interface{}) (interface{}, error) {
	return func(a []interface{}) (interface{}, error) {
		if hasNil(a) {
			return nil, nil
		}
		t, ok := a[0].(time.Time)
		if !ok {
			return nil, evalErrf("expected a datetime value")
		}
		return extract(t), nil
	}
}

func isOf(value interface{}, typeName string) bool {
	if value == nil {
		return typeName == string(EdmNull)
	}
	switch EdmType(typeName) {
	case EdmString:
		_, ok := value.(string)
		return ok
	case EdmInt32, EdmInt64:
		switch value.(type) {
		case int, int32, int64:
			return true
		}
		return false
	case EdmDouble:
		switch value.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case EdmBoolean:
		_, ok := value.(bool)
		return ok
	case EdmDateTime:
		_, ok := value.(time.Time)
		return ok
	default:
		return false
	}
}

func castTo(value interface{}, typeName string) (interface{}, error) {
	switch EdmType(typeName) {
	case EdmString:
		return fmt.Sprintf("%v", value), nil
	case EdmInt32, EdmInt64:
		switch v := value.(type) {
		case int64:
			return v, nil
		case int32:
			return int64(v), nil
		case float64:
			return int64(v), nil
		case string:
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, evalErrf("cannot cast %q to %s: %v", v, typeName, err)
			}
			return n, nil
		default:
			return nil, evalErrf("cannot cast value to %s", typeName)
		}
	case EdmDouble:
		return toFloat(value), nil
	case EdmBoolean:
		if s, ok := value.(string); ok {
			lower := strings.ToLower(s)
			return lower == "true" || lower == "1" || lower == "yes", nil
		}
		b, ok := value.(bool)
		return ok && b, nil
	default:
		return nil, evalErrf("cannot cast to %s", typeName)
	}
}

// FunctionRegistry is the callable surface of the built-in function
// library. It is read-mostly after initialization and safe to share
// across concurrent evaluators (per spec §4.1).
type FunctionRegistry struct {
	fns map[string]func(args []interface{}) (interface{}, error)
}

// NewFunctionRegistry returns a registry preloaded with all built-ins.
func NewFunctionRegistry() *FunctionRegistry {
	fns := make(map[string]func(args []interface{}) (interface{}, error), len(builtins))
	for k, v := range builtins {
		fns[k] = v
	}
	return &FunctionRegistry{fns: fns}
}

// Call invokes the named function (case-insensitive) with the given
// already-evaluated arguments.
func (r *FunctionRegistry) Call(name string, args []interface{}) (interface{}, error) {
	fn, ok := r.fns[strings.ToLower(name)]
	if !ok {
		return nil, evalErrf("unknown function %q", name)
	}
	return fn(args)
}

// Lookup reports whether name is a registered function.
func (r *FunctionRegistry) Lookup(name string) bool {
	_, ok := r.fns[strings.ToLower(name)]
	return ok
}
