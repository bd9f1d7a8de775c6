package sandbox

import (
	"context"
	"fmt"
	"math"
	"reflect"

	"github.com/scriptflow/scriptflow/internal/capability"
	"github.com/scriptflow/scriptflow/internal/credential"
	"github.com/scriptflow/scriptflow/internal/script"
	pkgcap "github.com/scriptflow/scriptflow/pkg/capability"
)

const workflowBase = "Workflow"

// Binder supplies the capability bindings the sandbox exposes: the class
// index for constructor resolution and the implementation per capability.
type Binder interface {
	ClassIndex() map[string]*capability.Descriptor
	Implementation(name string) (pkgcap.Implementation, bool)
}

// EmitFunc receives capability progress events (start, token, complete,
// error) as they happen, decoupled from the final result.
type EmitFunc func(kind, invocation string, data any)

// Options configures one sandbox run.
type Options struct {
	Resolver credential.Resolver // resolves injected @cred: references; nil disables
	Emit     EmitFunc            // nil discards events
	UserID   string
}

// ThrowError is a value thrown by the script.
type ThrowError struct {
	Value any
}

func (e *ThrowError) Error() string {
	if m, ok := e.Value.(map[string]any); ok {
		if msg, ok := m["message"].(string); ok {
			return msg
		}
	}
	return display(e.Value)
}

// Run executes the workflow handler with the trigger payload. src must have
// passed validation; Run still re-parses and sanitizes because the injected
// text it receives is not the text that was validated. The returned logs are
// the script's console output in order.
func Run(ctx context.Context, src string, payload map[string]any, binder Binder, opts Options) (any, []string, error) {
	prog, err := script.Parse(src)
	if err != nil {
		return nil, nil, err
	}
	if err := Sanitize(src, prog); err != nil {
		return nil, nil, err
	}

	var cls *script.ClassDecl
	userClasses := make(map[string]*script.ClassDecl, len(prog.Classes))
	for _, c := range prog.Classes {
		userClasses[c.Name] = c
		if c.Extends == workflowBase {
			cls = c
		}
	}
	if cls == nil {
		return nil, nil, fmt.Errorf("script has no class extending %s", workflowBase)
	}

	i := &interp{
		ctx:         ctx,
		binder:      binder,
		classIdx:    binder.ClassIndex(),
		userClasses: userClasses,
		opts:        opts,
	}
	i.root = i.hostGlobals(ctx)

	inst, err := i.instantiate(cls)
	if err != nil {
		return nil, i.logs, err
	}
	handler := classMethod(cls, "handle")
	if handler == nil {
		return nil, i.logs, fmt.Errorf("class %q has no handle method", cls.Name)
	}
	var arg any
	if payload != nil {
		arg = payload
	}
	result, err := i.callMethod(inst, handler, []any{arg})
	return result, i.logs, err
}

type interp struct {
	ctx         context.Context
	binder      Binder
	classIdx    map[string]*capability.Descriptor
	userClasses map[string]*script.ClassDecl
	opts        Options
	logs        []string
	root        *env
}

// capInstance is a constructed capability awaiting invocation. It settles at
// most once; awaiting it again returns the cached result.
type capInstance struct {
	desc    *capability.Descriptor
	params  map[string]any
	varHint string
	settled bool
	result  any
}

// userInstance is an instance of a script-defined class.
type userInstance struct {
	class  *script.ClassDecl
	fields map[string]any
}

// boundMethod is a method value bound to its receiver.
type boundMethod struct {
	inst *userInstance
	m    *script.MethodDef
}

// control signals from statement execution.
type ctl struct {
	isReturn bool
	value    any
}

func (i *interp) instantiate(cls *script.ClassDecl) (*userInstance, error) {
	inst := &userInstance{class: cls, fields: make(map[string]any, len(cls.Fields))}
	scope := newEnv(i.root)
	for _, f := range cls.Fields {
		v, err := i.eval(scope, f.Value)
		if err != nil {
			return nil, err
		}
		inst.fields[f.Name] = v
	}
	return inst, nil
}

func (i *interp) callMethod(inst *userInstance, m *script.MethodDef, args []any) (any, error) {
	scope := newEnv(i.root)
	scope.define("this", inst)
	for idx, p := range m.Params {
		if idx < len(args) {
			scope.define(p.Name, args[idx])
		} else {
			scope.define(p.Name, nil)
		}
	}
	c, err := i.execBlock(scope, m.Body)
	if err != nil {
		return nil, err
	}
	return c.value, nil
}

func (i *interp) execBlock(scope *env, blk *script.BlockStmt) (ctl, error) {
	for _, st := range blk.Stmts {
		c, err := i.exec(scope, st)
		if err != nil || c.isReturn {
			return c, err
		}
	}
	return ctl{}, nil
}

func (i *interp) exec(scope *env, st script.Stmt) (ctl, error) {
	if err := i.ctx.Err(); err != nil {
		return ctl{}, err
	}
	switch s := st.(type) {
	case *script.DeclStmt:
		v, err := i.eval(scope, s.Value)
		if err != nil {
			return ctl{}, err
		}
		if c, ok := v.(*capInstance); ok && c.varHint == "" {
			c.varHint = s.Name
		}
		scope.define(s.Name, v)
		return ctl{}, nil
	case *script.AssignStmt:
		v, err := i.eval(scope, s.Value)
		if err != nil {
			return ctl{}, err
		}
		return ctl{}, i.assign(scope, s.Target, v)
	case *script.IfStmt:
		cond, err := i.eval(scope, s.Cond)
		if err != nil {
			return ctl{}, err
		}
		if truthy(cond) {
			return i.execBlock(newEnv(scope), s.Then)
		}
		if s.Else != nil {
			return i.exec(newEnv(scope), s.Else)
		}
		return ctl{}, nil
	case *script.ForOfStmt:
		iter, err := i.eval(scope, s.Iter)
		if err != nil {
			return ctl{}, err
		}
		arr, ok := iter.([]any)
		if !ok {
			return ctl{}, fmt.Errorf("for-of requires an array, got %s", typeName(iter))
		}
		for _, el := range arr {
			body := newEnv(scope)
			body.define(s.Name, el)
			c, err := i.execBlock(body, s.Body)
			if err != nil || c.isReturn {
				return c, err
			}
		}
		return ctl{}, nil
	case *script.ReturnStmt:
		var v any
		if s.Value != nil {
			var err error
			v, err = i.eval(scope, s.Value)
			if err != nil {
				return ctl{}, err
			}
		}
		return ctl{isReturn: true, value: v}, nil
	case *script.ThrowStmt:
		v, err := i.eval(scope, s.Value)
		if err != nil {
			return ctl{}, err
		}
		return ctl{}, &ThrowError{Value: v}
	case *script.ExprStmt:
		_, err := i.eval(scope, s.X)
		return ctl{}, err
	case *script.BlockStmt:
		return i.execBlock(newEnv(scope), s)
	}
	return ctl{}, fmt.Errorf("unsupported statement")
}

func (i *interp) assign(scope *env, target script.Expr, v any) error {
	switch t := target.(type) {
	case *script.Ident:
		if c, ok := v.(*capInstance); ok && c.varHint == "" {
			c.varHint = t.Name
		}
		if !scope.assign(t.Name, v) {
			scope.define(t.Name, v)
		}
		return nil
	case *script.Member:
		base, err := i.eval(scope, t.X)
		if err != nil {
			return err
		}
		switch b := base.(type) {
		case map[string]any:
			b[t.Name] = v
		case *userInstance:
			b.fields[t.Name] = v
		default:
			return fmt.Errorf("cannot set property %q on %s", t.Name, typeName(base))
		}
		return nil
	case *script.Index:
		base, err := i.eval(scope, t.X)
		if err != nil {
			return err
		}
		key, err := i.eval(scope, t.I)
		if err != nil {
			return err
		}
		switch b := base.(type) {
		case map[string]any:
			ks, ok := key.(string)
			if !ok {
				return fmt.Errorf("object keys must be strings")
			}
			b[ks] = v
		case []any:
			n, ok := key.(float64)
			idx := int(n)
			if !ok || idx < 0 || idx >= len(b) {
				return fmt.Errorf("array index out of range")
			}
			b[idx] = v
		default:
			return fmt.Errorf("cannot index %s", typeName(base))
		}
		return nil
	}
	return fmt.Errorf("invalid assignment target")
}

func (i *interp) eval(scope *env, e script.Expr) (any, error) {
	switch v := e.(type) {
	case *script.StringLit:
		return v.Value, nil
	case *script.NumberLit:
		return v.Value, nil
	case *script.BoolLit:
		return v.Value, nil
	case *script.NullLit:
		return nil, nil
	case *script.Ident:
		if val, ok := scope.lookup(v.Name); ok {
			return val, nil
		}
		return nil, fmt.Errorf("%q is not defined", v.Name)
	case *script.ArrayLit:
		arr := make([]any, 0, len(v.Elems))
		for _, el := range v.Elems {
			ev, err := i.eval(scope, el)
			if err != nil {
				return nil, err
			}
			arr = append(arr, ev)
		}
		return arr, nil
	case *script.ObjectLit:
		obj := make(map[string]any, len(v.Props))
		for _, p := range v.Props {
			pv, err := i.eval(scope, p.Value)
			if err != nil {
				return nil, err
			}
			obj[p.Key] = pv
		}
		return obj, nil
	case *script.AwaitExpr:
		val, err := i.eval(scope, v.X)
		if err != nil {
			return nil, err
		}
		if c, ok := val.(*capInstance); ok {
			return i.invokeCapability(c)
		}
		return val, nil
	case *script.UnaryExpr:
		val, err := i.eval(scope, v.X)
		if err != nil {
			return nil, err
		}
		if v.Op == "!" {
			return !truthy(val), nil
		}
		n, ok := val.(float64)
		if !ok {
			return nil, fmt.Errorf("unary '-' requires a number, got %s", typeName(val))
		}
		return -n, nil
	case *script.BinaryExpr:
		return i.evalBinary(scope, v)
	case *script.NewExpr:
		return i.evalNew(scope, v)
	case *script.Member:
		return i.evalMember(scope, v)
	case *script.Index:
		return i.evalIndex(scope, v)
	case *script.Call:
		return i.evalCall(scope, v)
	}
	return nil, fmt.Errorf("unsupported expression")
}

func (i *interp) evalBinary(scope *env, b *script.BinaryExpr) (any, error) {
	// Logical operators short-circuit and yield the deciding operand.
	if b.Op == "&&" || b.Op == "||" {
		left, err := i.eval(scope, b.X)
		if err != nil {
			return nil, err
		}
		if b.Op == "&&" && !truthy(left) {
			return left, nil
		}
		if b.Op == "||" && truthy(left) {
			return left, nil
		}
		return i.eval(scope, b.Y)
	}

	left, err := i.eval(scope, b.X)
	if err != nil {
		return nil, err
	}
	right, err := i.eval(scope, b.Y)
	if err != nil {
		return nil, err
	}

	switch b.Op {
	case "==":
		return equals(left, right), nil
	case "!=":
		return !equals(left, right), nil
	case "+":
		if ls, ok := left.(string); ok {
			return ls + display(right), nil
		}
		if rs, ok := right.(string); ok {
			return display(left) + rs, nil
		}
	}

	ln, lok := left.(float64)
	rn, rok := right.(float64)
	if !lok || !rok {
		if ls, lsok := left.(string); lsok {
			if rs, rsok := right.(string); rsok {
				switch b.Op {
				case "<":
					return ls < rs, nil
				case "<=":
					return ls <= rs, nil
				case ">":
					return ls > rs, nil
				case ">=":
					return ls >= rs, nil
				}
			}
		}
		return nil, fmt.Errorf("operator %q requires numbers, got %s and %s", b.Op, typeName(left), typeName(right))
	}
	switch b.Op {
	case "+":
		return ln + rn, nil
	case "-":
		return ln - rn, nil
	case "*":
		return ln * rn, nil
	case "/":
		if rn == 0 {
			return math.Inf(int(math.Copysign(1, ln))), nil
		}
		return ln / rn, nil
	case "%":
		return math.Mod(ln, rn), nil
	case "<":
		return ln < rn, nil
	case "<=":
		return ln <= rn, nil
	case ">":
		return ln > rn, nil
	case ">=":
		return ln >= rn, nil
	}
	return nil, fmt.Errorf("unsupported operator %q", b.Op)
}

func (i *interp) evalNew(scope *env, ne *script.NewExpr) (any, error) {
	if desc, ok := i.classIdx[ne.Class]; ok {
		params := make(map[string]any)
		if len(ne.Args) > 0 {
			first, err := i.eval(scope, ne.Args[0])
			if err != nil {
				return nil, err
			}
			if m, ok := first.(map[string]any); ok {
				params = m
			}
		}
		return &capInstance{desc: desc, params: params}, nil
	}
	if cls, ok := i.userClasses[ne.Class]; ok {
		return i.instantiate(cls)
	}
	return nil, fmt.Errorf("unknown class %q", ne.Class)
}

func (i *interp) evalMember(scope *env, m *script.Member) (any, error) {
	base, err := i.eval(scope, m.X)
	if err != nil {
		return nil, err
	}
	switch b := base.(type) {
	case map[string]any:
		return b[m.Name], nil
	case []any:
		if m.Name == "length" {
			return float64(len(b)), nil
		}
	case string:
		if m.Name == "length" {
			return float64(len(b)), nil
		}
	case *userInstance:
		if v, ok := b.fields[m.Name]; ok {
			return v, nil
		}
		if md := classMethod(b.class, m.Name); md != nil {
			return &boundMethod{inst: b, m: md}, nil
		}
		return nil, nil
	case *capInstance:
		if m.Name == "invoke" {
			return hostFunc(func([]any) (any, error) {
				return i.invokeCapability(b)
			}), nil
		}
	case nil:
		return nil, fmt.Errorf("cannot read property %q of null", m.Name)
	}
	return nil, fmt.Errorf("property %q does not exist on %s", m.Name, typeName(base))
}

func (i *interp) evalIndex(scope *env, ix *script.Index) (any, error) {
	base, err := i.eval(scope, ix.X)
	if err != nil {
		return nil, err
	}
	key, err := i.eval(scope, ix.I)
	if err != nil {
		return nil, err
	}
	switch b := base.(type) {
	case map[string]any:
		ks, ok := key.(string)
		if !ok {
			return nil, fmt.Errorf("object keys must be strings")
		}
		return b[ks], nil
	case []any:
		n, ok := key.(float64)
		idx := int(n)
		if !ok || idx < 0 || idx >= len(b) {
			return nil, nil
		}
		return b[idx], nil
	}
	return nil, fmt.Errorf("cannot index %s", typeName(base))
}

func (i *interp) evalCall(scope *env, call *script.Call) (any, error) {
	fn, err := i.eval(scope, call.Fn)
	if err != nil {
		return nil, err
	}
	args := make([]any, 0, len(call.Args))
	for _, a := range call.Args {
		av, err := i.eval(scope, a)
		if err != nil {
			return nil, err
		}
		args = append(args, av)
	}
	switch f := fn.(type) {
	case hostFunc:
		return f(args)
	case *boundMethod:
		return i.callMethod(f.inst, f.m, args)
	}
	return nil, fmt.Errorf("%s is not callable", typeName(fn))
}

// invokeCapability runs one capability call: resolves injected credential
// references, binds the implementation, and emits stream events around it.
func (i *interp) invokeCapability(c *capInstance) (any, error) {
	if c.settled {
		return c.result, nil
	}
	if err := i.ctx.Err(); err != nil {
		// A cancelled execution issues no further capability calls.
		return nil, err
	}

	name := c.varHint
	if name == "" {
		name = c.desc.ClassName
	}

	params := make(map[string]any, len(c.params))
	for k, v := range c.params {
		if k != "credentials" {
			params[k] = v
		}
	}
	creds, err := i.resolveCredentials(c.params["credentials"])
	if err != nil {
		return nil, err
	}

	impl, ok := i.binder.Implementation(c.desc.Name)
	if !ok {
		return nil, fmt.Errorf("no implementation bound for capability %q", c.desc.Name)
	}

	i.emit("start", name, c.desc.Name)
	result, err := impl.Invoke(i.ctx, pkgcap.Invocation{
		Capability:  c.desc.Name,
		Params:      params,
		Credentials: creds,
		UserID:      i.opts.UserID,
	}, &emitBridge{i: i, invocation: name})
	if err != nil {
		i.emit("error", name, err.Error())
		return nil, fmt.Errorf("capability %q: %w", c.desc.Name, err)
	}
	i.emit("complete", name, nil)
	c.settled = true
	c.result = result
	return result, nil
}

// resolveCredentials turns an injected credentials parameter (credential
// type to "@cred:id" reference) into decrypted values. Unresolvable
// references fail here with an auth-shaped error from the store.
func (i *interp) resolveCredentials(raw any) (map[string]string, error) {
	obj, ok := raw.(map[string]any)
	if !ok || len(obj) == 0 {
		return nil, nil
	}
	creds := make(map[string]string, len(obj))
	for credType, ref := range obj {
		s, ok := ref.(string)
		if !ok {
			continue
		}
		if i.opts.Resolver == nil {
			creds[credType] = s
			continue
		}
		val, err := i.opts.Resolver.Resolve(i.ctx, s)
		if err != nil {
			return nil, fmt.Errorf("resolving credential for type %q: %w", credType, err)
		}
		creds[credType] = val
	}
	return creds, nil
}

func (i *interp) emit(kind, invocation string, data any) {
	if i.opts.Emit != nil {
		i.opts.Emit(kind, invocation, data)
	}
}

// emitBridge forwards a capability's own progress into the event stream.
type emitBridge struct {
	i          *interp
	invocation string
}

func (b *emitBridge) Progress(kind string, data any) {
	b.i.emit(kind, b.invocation, data)
}

func classMethod(cls *script.ClassDecl, name string) *script.MethodDef {
	for _, m := range cls.Methods {
		if m.Name == name {
			return m
		}
	}
	return nil
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case float64:
		return val != 0
	case string:
		return val != ""
	}
	return true
}

func equals(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case float64, string, bool:
		return a == b
	case []any, map[string]any:
		return reflect.DeepEqual(av, b)
	}
	return a == b
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	case *capInstance:
		return "capability"
	case *userInstance:
		return "object"
	case hostFunc, *boundMethod:
		return "function"
	}
	return "value"
}
