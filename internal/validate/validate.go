// Package validate type-checks workflow scripts against the capability
// registry before anything is injected or executed. Validation gates
// execution: a script that fails here never reaches the sandbox.
package validate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/scriptflow/scriptflow/internal/capability"
	"github.com/scriptflow/scriptflow/internal/script"
	"github.com/scriptflow/scriptflow/internal/trace"
	pkgcap "github.com/scriptflow/scriptflow/pkg/capability"
)

const (
	workflowBase  = "Workflow"
	handlerMethod = "handle"
)

// Result is one validation run. It is never mutated after Validate returns;
// a new validation always produces a new Result.
type Result struct {
	Valid       bool                         `json:"valid"`
	Errors      []string                     `json:"errors"`
	Invocations map[string]*trace.Invocation `json:"extractedInvocations"` // keyed by VariableID
	ByVarName   map[string]*trace.Invocation `json:"-"`
	InputShape  map[string]pkgcap.FieldSpec  `json:"inputShape"`
	EventType   string                       `json:"eventType"`
	Cron        string                       `json:"cronSchedule,omitempty"`

	// Program and Class let downstream passes (injector, sandbox) reuse the
	// tree instead of reparsing.
	Program *script.Program   `json:"-"`
	Class   *script.ClassDecl `json:"-"`
}

type Validator struct {
	reg   *capability.Registry
	rules []Rule
}

// New builds a validator with the default lint rules plus any custom ones.
func New(reg *capability.Registry, custom ...Rule) *Validator {
	rules := make([]Rule, len(defaultRules), len(defaultRules)+len(custom))
	copy(rules, defaultRules)
	rules = append(rules, custom...)
	return &Validator{reg: reg, rules: rules}
}

// Validate runs the full pipeline: structural check, type check, lint rules,
// and (only when everything is clean) dependency tracing and input-shape
// derivation. Errors accumulate across stages rather than stopping at the
// first.
func (v *Validator) Validate(src string) (*Result, error) {
	res := &Result{
		Invocations: make(map[string]*trace.Invocation),
		ByVarName:   make(map[string]*trace.Invocation),
	}

	prog, err := script.Parse(src)
	if err != nil {
		res.Errors = []string{err.Error()}
		return res, nil
	}
	res.Program = prog

	cls, structErr := findWorkflowClass(prog)
	if structErr != "" {
		// Structural failure short-circuits: nothing else is checkable.
		res.Errors = []string{structErr}
		return res, nil
	}
	res.Class = cls
	res.EventType = cls.TriggerType
	res.Cron = fieldString(cls, "cronSchedule")

	event, _ := v.reg.Event(cls.TriggerType)
	if event == nil {
		res.Errors = append(res.Errors, fmt.Sprintf("unknown trigger event type %q", cls.TriggerType))
	}

	ctx := &Context{Src: src, Program: prog, Class: cls, Registry: v.reg, Event: event}
	res.Errors = append(res.Errors, v.typeCheck(ctx)...)
	for _, rule := range v.rules {
		res.Errors = append(res.Errors, rule.Check(ctx)...)
	}

	res.Valid = len(res.Errors) == 0
	if !res.Valid {
		return res, nil
	}

	tr, err := trace.Program(src, prog, v.reg)
	if err != nil {
		return nil, err
	}
	for _, name := range tr.Order {
		inv := tr.Nodes[name]
		res.Invocations[inv.VariableID] = inv
		res.ByVarName[name] = inv
	}
	res.InputShape = make(map[string]pkgcap.FieldSpec, len(event.Fields))
	for name, f := range event.Fields {
		res.InputShape[name] = f
	}
	return res, nil
}

// findWorkflowClass enforces the structural contract: exactly one class
// extending the workflow base, with a declared trigger type and a handler.
func findWorkflowClass(prog *script.Program) (*script.ClassDecl, string) {
	var found *script.ClassDecl
	for _, cls := range prog.Classes {
		if cls.Extends != workflowBase {
			continue
		}
		if found != nil {
			return nil, fmt.Sprintf("script must define exactly one class extending %s; found %q and %q", workflowBase, found.Name, cls.Name)
		}
		found = cls
	}
	if found == nil {
		return nil, fmt.Sprintf("script must define a class extending %s", workflowBase)
	}
	if found.TriggerType == "" {
		return nil, fmt.Sprintf("class %q must declare a trigger event type: class %s extends %s<\"event/type\">", found.Name, found.Name, workflowBase)
	}
	if method(found, handlerMethod) == nil {
		return nil, fmt.Sprintf("class %q must implement %s(payload)", found.Name, handlerMethod)
	}
	return found, ""
}

// typeCheck verifies payload field reads against the trigger event's declared
// shape and constructor parameters against capability schemas.
func (v *Validator) typeCheck(ctx *Context) []string {
	var errs []string

	h := method(ctx.Class, handlerMethod)
	if ctx.Event != nil && h != nil && len(h.Params) > 0 {
		payloadName := h.Params[0].Name
		walkExprs(h.Body, func(e script.Expr) {
			m, ok := e.(*script.Member)
			if !ok {
				return
			}
			base, ok := m.X.(*script.Ident)
			if !ok || base.Name != payloadName {
				return
			}
			if _, declared := ctx.Event.Fields[m.Name]; !declared {
				errs = append(errs, fmt.Sprintf("line %d: payload has no field %q on trigger event %q",
					lineAt(ctx.Src, m.Pos()), m.Name, ctx.Event.Type))
			}
		})
	}

	index := ctx.Registry.ClassIndex()
	userClasses := make(map[string]bool, len(ctx.Program.Classes))
	for _, c := range ctx.Program.Classes {
		userClasses[c.Name] = true
	}
	walkClassExprs(ctx.Class, func(e script.Expr) {
		ne, ok := e.(*script.NewExpr)
		if !ok {
			return
		}
		desc, registered := index[ne.Class]
		if !registered {
			if !userClasses[ne.Class] {
				errs = append(errs, fmt.Sprintf("line %d: unknown class %q: not a registered capability or a class in this script", ne.Line, ne.Class))
			}
			return
		}
		errs = append(errs, checkParams(ctx.Src, ne, desc)...)
	})
	return errs
}

func checkParams(src string, ne *script.NewExpr, desc *capability.Descriptor) []string {
	var errs []string
	if len(desc.Params) == 0 {
		return nil
	}
	var obj *script.ObjectLit
	if len(ne.Args) > 0 {
		obj, _ = ne.Args[0].(*script.ObjectLit)
	}

	seen := make(map[string]bool)
	if obj != nil {
		for _, prop := range obj.Props {
			seen[prop.Key] = true
			spec, known := desc.Params[prop.Key]
			if !known {
				errs = append(errs, fmt.Sprintf("line %d: capability %q has no parameter %q", ne.Line, desc.Name, prop.Key))
				continue
			}
			if got := literalType(prop.Value); got != "" && got != spec.Type {
				errs = append(errs, fmt.Sprintf("line %d: parameter %q of %q must be %s, got %s", ne.Line, prop.Key, desc.Name, spec.Type, got))
			}
		}
	}
	// Deterministic error order for missing required parameters.
	required := make([]string, 0, len(desc.Params))
	for name, spec := range desc.Params {
		if spec.Required && !seen[name] {
			required = append(required, name)
		}
	}
	sort.Strings(required)
	for _, name := range required {
		errs = append(errs, fmt.Sprintf("line %d: capability %q is missing required parameter %q", ne.Line, desc.Name, name))
	}
	return errs
}

// literalType reports the schema type of a literal expression, or "" when the
// value is not statically known (variables, env reads).
func literalType(e script.Expr) string {
	switch e.(type) {
	case *script.StringLit:
		return "string"
	case *script.NumberLit:
		return "number"
	case *script.BoolLit:
		return "boolean"
	case *script.ArrayLit:
		return "array"
	case *script.ObjectLit:
		return "object"
	}
	return ""
}

func method(cls *script.ClassDecl, name string) *script.MethodDef {
	for _, m := range cls.Methods {
		if m.Name == name {
			return m
		}
	}
	return nil
}

func fieldString(cls *script.ClassDecl, name string) string {
	for _, f := range cls.Fields {
		if f.Name == name {
			if s, ok := f.Value.(*script.StringLit); ok {
				return s.Value
			}
		}
	}
	return ""
}

func lineAt(src string, off int) int {
	if off > len(src) {
		off = len(src)
	}
	return 1 + strings.Count(src[:off], "\n")
}
