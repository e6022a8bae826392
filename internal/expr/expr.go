// Package expr evaluates branch conditions such as
// `score > 0.8 && (status == "ok" || retry)` with govaluate, and resolves
// dot paths inside node records.
//
// Identifiers may use dot notation: order.total reads vars["order"]["total"].
// Unknown identifiers evaluate to nil, so `missing == null` holds.
package expr

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/Knetic/govaluate"
)

// dottedPath matches string literals, bracketed names and dotted identifier
// paths. Only the last alternative is rewritten.
var dottedPath = regexp.MustCompile(`"(?:[^"\\]|\\.)*"|'(?:[^'\\]|\\.)*'|\[[^\]]*\]|[A-Za-z_][A-Za-z0-9_]*(?:\.[A-Za-z_][A-Za-z0-9_]*)+`)

// Expr is a compiled condition. It is safe for concurrent use.
type Expr struct {
	src  string
	eval *govaluate.EvaluableExpression
}

// Compile parses src. An empty expression is valid and evaluates to false.
func Compile(src string) (*Expr, error) {
	src = strings.TrimSpace(src)
	e := &Expr{src: src}
	if src == "" {
		return e, nil
	}
	ev, err := govaluate.NewEvaluableExpressionWithFunctions(bracketPaths(src), functions)
	if err != nil {
		return nil, fmt.Errorf("parse expression: %w", err)
	}
	e.eval = ev
	return e, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(src string) *Expr {
	e, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return e
}

// String returns the source of the expression.
func (e *Expr) String() string { return e.src }

// Eval evaluates the expression against vars and converts the result to bool.
func (e *Expr) Eval(vars map[string]any) (bool, error) {
	if e.eval == nil {
		return false, nil
	}
	v, err := e.eval.Eval(parameters(vars))
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", e.src, err)
	}
	return truthy(v), nil
}

// Evaluate compiles and evaluates src in one step.
func Evaluate(src string, vars map[string]any) (bool, error) {
	e, err := Compile(src)
	if err != nil {
		return false, err
	}
	return e.Eval(vars)
}

// Lookup resolves a dot-separated path in vars. Nested values may be any
// map keyed by strings.
func Lookup(vars map[string]any, path string) (any, bool) {
	var cur any = vars
	for _, part := range strings.Split(path, ".") {
		switch m := cur.(type) {
		case map[string]any:
			v, ok := m[part]
			if !ok {
				return nil, false
			}
			cur = v
		default:
			rv := reflect.ValueOf(cur)
			if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
				return nil, false
			}
			v := rv.MapIndex(reflect.ValueOf(part).Convert(rv.Type().Key()))
			if !v.IsValid() {
				return nil, false
			}
			cur = v.Interface()
		}
	}
	return cur, true
}

// parameters feeds govaluate from a record, resolving dot paths.
type parameters map[string]any

func (p parameters) Get(name string) (any, error) {
	v, _ := Lookup(p, name)
	return v, nil
}

// bracketPaths turns order.total into [order.total], which govaluate reads
// as a single parameter name instead of a field accessor.
func bracketPaths(src string) string {
	return dottedPath.ReplaceAllStringFunc(src, func(m string) string {
		switch m[0] {
		case '"', '\'', '[':
			return m
		}
		return "[" + m + "]"
	})
}

var functions = map[string]govaluate.ExpressionFunction{
	"len": func(args ...any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("len expects 1 argument, got %d", len(args))
		}
		if args[0] == nil {
			return float64(0), nil
		}
		rv := reflect.ValueOf(args[0])
		switch rv.Kind() {
		case reflect.String, reflect.Slice, reflect.Array, reflect.Map:
			return float64(rv.Len()), nil
		}
		return nil, fmt.Errorf("len of %T", args[0])
	},
	"contains": func(args ...any) (any, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("contains expects 2 arguments, got %d", len(args))
		}
		s, ok1 := args[0].(string)
		sub, ok2 := args[1].(string)
		if !ok1 || !ok2 {
			return false, nil
		}
		return strings.Contains(s, sub), nil
	},
	"lower": func(args ...any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("lower expects 1 argument, got %d", len(args))
		}
		s, _ := args[0].(string)
		return strings.ToLower(s), nil
	},
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != "" && x != "false" && x != "0"
	case float64:
		return x != 0
	}
	return true
}
