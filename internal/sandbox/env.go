package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"
)

// hostFunc is a primitive exposed to scripts by the host.
type hostFunc func(args []any) (any, error)

// env is one lexical scope.
type env struct {
	vars   map[string]any
	parent *env
}

func newEnv(parent *env) *env {
	return &env{vars: make(map[string]any), parent: parent}
}

func (e *env) lookup(name string) (any, bool) {
	for s := e; s != nil; s = s.parent {
		if v, ok := s.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

func (e *env) define(name string, v any) {
	e.vars[name] = v
}

func (e *env) assign(name string, v any) bool {
	for s := e; s != nil; s = s.parent {
		if _, ok := s.vars[name]; ok {
			s.vars[name] = v
			return true
		}
	}
	return false
}

// hostGlobals builds the root scope: safe language primitives only. There is
// deliberately no require, no fetch, no filesystem, and no process.
func (i *interp) hostGlobals(ctx context.Context) *env {
	root := newEnv(nil)

	root.define("JSON", map[string]any{
		"parse": hostFunc(func(args []any) (any, error) {
			s, ok := argString(args, 0)
			if !ok {
				return nil, fmt.Errorf("JSON.parse: expected a string")
			}
			var v any
			if err := json.Unmarshal([]byte(s), &v); err != nil {
				return nil, fmt.Errorf("JSON.parse: %w", err)
			}
			return v, nil
		}),
		"stringify": hostFunc(func(args []any) (any, error) {
			if len(args) == 0 {
				return "null", nil
			}
			data, err := json.Marshal(jsonSafe(args[0]))
			if err != nil {
				return nil, fmt.Errorf("JSON.stringify: %w", err)
			}
			return string(data), nil
		}),
	})

	unary := func(f func(float64) float64) hostFunc {
		return func(args []any) (any, error) {
			n, ok := argNumber(args, 0)
			if !ok {
				return nil, fmt.Errorf("expected a number")
			}
			return f(n), nil
		}
	}
	root.define("Math", map[string]any{
		"floor": unary(math.Floor),
		"ceil":  unary(math.Ceil),
		"round": unary(math.Round),
		"abs":   unary(math.Abs),
		"min": hostFunc(func(args []any) (any, error) {
			return fold(args, math.Min)
		}),
		"max": hostFunc(func(args []any) (any, error) {
			return fold(args, math.Max)
		}),
		"random": hostFunc(func(args []any) (any, error) {
			return rand.Float64(), nil
		}),
	})

	root.define("Date", map[string]any{
		"now": hostFunc(func(args []any) (any, error) {
			return float64(time.Now().UnixMilli()), nil
		}),
	})

	root.define("console", map[string]any{
		"log": hostFunc(func(args []any) (any, error) {
			parts := make([]string, len(args))
			for idx, a := range args {
				parts[idx] = display(a)
			}
			i.logs = append(i.logs, strings.Join(parts, " "))
			return nil, nil
		}),
	})

	root.define("sleep", hostFunc(func(args []any) (any, error) {
		ms, ok := argNumber(args, 0)
		if !ok || ms < 0 {
			return nil, fmt.Errorf("sleep: expected a non-negative number of milliseconds")
		}
		timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		}
	}))

	return root
}

func fold(args []any, f func(float64, float64) float64) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("expected at least one number")
	}
	acc, ok := argNumber(args, 0)
	if !ok {
		return nil, fmt.Errorf("expected a number")
	}
	for idx := 1; idx < len(args); idx++ {
		n, ok := argNumber(args, idx)
		if !ok {
			return nil, fmt.Errorf("expected a number")
		}
		acc = f(acc, n)
	}
	return acc, nil
}

func argString(args []any, idx int) (string, bool) {
	if idx >= len(args) {
		return "", false
	}
	s, ok := args[idx].(string)
	return s, ok
}

func argNumber(args []any, idx int) (float64, bool) {
	if idx >= len(args) {
		return 0, false
	}
	n, ok := args[idx].(float64)
	return n, ok
}

// jsonSafe strips host-only values before marshaling.
func jsonSafe(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, el := range val {
			out[k] = jsonSafe(el)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for idx, el := range val {
			out[idx] = jsonSafe(el)
		}
		return out
	case hostFunc, *capInstance, *userInstance:
		return nil
	default:
		return val
	}
}

// display renders a value the way console.log would.
func display(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1e15 {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	case bool:
		return fmt.Sprintf("%t", val)
	case map[string]any, []any:
		data, err := json.Marshal(jsonSafe(val))
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	case *capInstance:
		return fmt.Sprintf("[capability %s]", val.desc.Name)
	case *userInstance:
		return fmt.Sprintf("[object %s]", val.class.Name)
	default:
		return fmt.Sprintf("%v", val)
	}
}
