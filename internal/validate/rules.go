package validate

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/scriptflow/scriptflow/internal/capability"
	"github.com/scriptflow/scriptflow/internal/schedule"
	"github.com/scriptflow/scriptflow/internal/script"
	pkgcap "github.com/scriptflow/scriptflow/pkg/capability"
)

// Context is what a lint rule sees: the source, the tree, the workflow class,
// and the registry. Rules are pure functions of it and never mutate the tree.
type Context struct {
	Src      string
	Program  *script.Program
	Class    *script.ClassDecl
	Registry *capability.Registry
	Event    *pkgcap.EventDescriptor // nil when the trigger type is unknown
}

// Rule is one semantic lint beyond type-correctness. Each rule independently
// inspects the tree and returns zero or more errors.
type Rule struct {
	Name  string
	Check func(*Context) []string
}

const schedulePrefix = "schedule/"

var defaultRules = []Rule{
	{Name: "payload-type-annotation", Check: checkPayloadAnnotation},
	{Name: "schedule-requires-cron", Check: checkScheduleCron},
	{Name: "cron-syntax", Check: checkCronSyntax},
	{Name: "schema-param-object", Check: checkSchemaParamObject},
	{Name: "handler-returns", Check: checkHandlerReturns},
}

// checkPayloadAnnotation: when the handler annotates its payload parameter,
// the annotation must name the trigger event's declared payload type.
func checkPayloadAnnotation(ctx *Context) []string {
	h := method(ctx.Class, handlerMethod)
	if h == nil || len(h.Params) == 0 || ctx.Event == nil {
		return nil
	}
	ann := h.Params[0].TypeName
	if ann == "" || ann == ctx.Event.PayloadType {
		return nil
	}
	return []string{fmt.Sprintf("handler payload is annotated %s but trigger event %q declares payload type %s",
		ann, ctx.Event.Type, ctx.Event.PayloadType)}
}

// checkScheduleCron: schedule-triggered workflows must declare cronSchedule;
// anything else must not.
func checkScheduleCron(ctx *Context) []string {
	cron := fieldString(ctx.Class, "cronSchedule")
	scheduled := strings.HasPrefix(ctx.Class.TriggerType, schedulePrefix)
	switch {
	case scheduled && cron == "":
		return []string{fmt.Sprintf("trigger %q requires a cronSchedule field", ctx.Class.TriggerType)}
	case !scheduled && hasField(ctx.Class, "cronSchedule"):
		return []string{fmt.Sprintf("cronSchedule is only valid with a %s* trigger, not %q", schedulePrefix, ctx.Class.TriggerType)}
	}
	return nil
}

// checkCronSyntax: the cronSchedule literal must be a 5-field expression both
// the standard parser and the evaluator accept, so only expressions the
// evaluator can actually fire ever validate.
func checkCronSyntax(ctx *Context) []string {
	expr := fieldString(ctx.Class, "cronSchedule")
	if expr == "" {
		if hasField(ctx.Class, "cronSchedule") {
			return []string{"cronSchedule must be a string literal"}
		}
		return nil
	}
	if _, err := cron.ParseStandard(expr); err != nil {
		return []string{fmt.Sprintf("invalid cronSchedule %q: %v", expr, err)}
	}
	if _, err := schedule.ParseExpression(expr); err != nil {
		return []string{fmt.Sprintf("unsupported cronSchedule %q: %v", expr, err)}
	}
	return nil
}

// checkSchemaParamObject: a structured-output-schema parameter must be passed
// as a schema object, never stringified.
func checkSchemaParamObject(ctx *Context) []string {
	var errs []string
	index := ctx.Registry.ClassIndex()
	walkClassExprs(ctx.Class, func(e script.Expr) {
		ne, ok := e.(*script.NewExpr)
		if !ok {
			return
		}
		if _, registered := index[ne.Class]; !registered {
			return
		}
		if len(ne.Args) == 0 {
			return
		}
		obj, ok := ne.Args[0].(*script.ObjectLit)
		if !ok {
			return
		}
		for _, prop := range obj.Props {
			if prop.Key != "outputSchema" {
				continue
			}
			if _, isObj := prop.Value.(*script.ObjectLit); !isObj {
				if _, isVar := prop.Value.(*script.Ident); isVar {
					continue // resolved at runtime; not statically checkable
				}
				errs = append(errs, fmt.Sprintf("line %d: outputSchema of %q must be a schema object, not a stringified value", ne.Line, ne.Class))
			}
		}
	})
	return errs
}

// checkHandlerReturns: a handler with no return produces no result, which is
// always an authoring mistake.
func checkHandlerReturns(ctx *Context) []string {
	h := method(ctx.Class, handlerMethod)
	if h == nil {
		return nil
	}
	found := false
	script.Inspect(h.Body, func(n script.Node) {
		if _, ok := n.(*script.ReturnStmt); ok {
			found = true
		}
	})
	if !found {
		return []string{fmt.Sprintf("%s() never returns a result", handlerMethod)}
	}
	return nil
}

func hasField(cls *script.ClassDecl, name string) bool {
	for _, f := range cls.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

// walkExprs visits every expression node under n.
func walkExprs(n script.Node, f func(script.Expr)) {
	script.Inspect(n, func(node script.Node) {
		if e, ok := node.(script.Expr); ok {
			f(e)
		}
	})
}

// walkClassExprs visits every expression in the class's fields and methods.
func walkClassExprs(cls *script.ClassDecl, f func(script.Expr)) {
	walkExprs(cls, f)
}
