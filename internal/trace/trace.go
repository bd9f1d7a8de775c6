// Package trace extracts capability invocations from a parsed workflow
// script. Only lexically visible instantiations inside the workflow class's
// own methods are traced; anything a capability does internally is declared
// on its descriptor, not discovered here.
package trace

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/scriptflow/scriptflow/internal/capability"
	"github.com/scriptflow/scriptflow/internal/script"
)

// ErrEmptyRegistry is returned when tracing is attempted against a registry
// with no capabilities. That is a deployment problem, not a script problem.
var ErrEmptyRegistry = errors.New("trace: capability registry is empty")

// ValueType classifies a parameter value as written in the script.
type ValueType string

const (
	ValueString   ValueType = "string"
	ValueNumber   ValueType = "number"
	ValueBoolean  ValueType = "boolean"
	ValueArray    ValueType = "array"
	ValueObject   ValueType = "object"
	ValueEnv      ValueType = "env"      // dotted read rooted at process configuration
	ValueVariable ValueType = "variable" // identifier or member/index access
	ValueUnknown  ValueType = "unknown"
)

// Parameter is one extracted constructor parameter.
type Parameter struct {
	Name  string    `json:"name"`
	Value any       `json:"value"` // literal value, or source text for env/variable/unknown
	Type  ValueType `json:"type"`
}

// Invocation is one traced capability instantiation.
type Invocation struct {
	VariableID     string      `json:"variableId"`
	VarName        string      `json:"varName"`
	CapabilityName string      `json:"capabilityName"`
	ClassName      string      `json:"className"`
	Parameters     []Parameter `json:"parameters"`
	HasAwait       bool        `json:"hasAwait"`
	HasActionCall  bool        `json:"hasActionCall"`
	Line           int         `json:"line"`

	// Node is the underlying constructor expression; the injector rewrites
	// its argument list in place.
	Node *script.NewExpr `json:"-"`
}

// Result is the outcome of one trace pass.
type Result struct {
	Success bool
	Nodes   map[string]*Invocation // keyed by VarName
	Order   []string               // VarNames in source order
	Errors  []string
}

// Registry is the subset of the capability registry the tracer needs.
type Registry interface {
	ClassIndex() map[string]*capability.Descriptor
}

// Run parses src and extracts every capability invocation. A parse failure
// yields Success=false with the parser diagnostic as the sole error.
func Run(src string, reg Registry) (*Result, error) {
	prog, err := script.Parse(src)
	if err != nil {
		return &Result{Success: false, Errors: []string{err.Error()}}, nil
	}
	return Program(src, prog, reg)
}

// Program traces an already-parsed script.
func Program(src string, prog *script.Program, reg Registry) (*Result, error) {
	index := reg.ClassIndex()
	if len(index) == 0 {
		return nil, ErrEmptyRegistry
	}

	t := &tracer{
		src:     src,
		index:   index,
		anonSeq: make(map[string]int),
		res:     &Result{Success: true, Nodes: make(map[string]*Invocation)},
	}
	for _, cls := range prog.Classes {
		if cls.Extends != workflowBase {
			continue
		}
		for _, m := range cls.Methods {
			t.scope = cls.Name + "." + m.Name
			t.walkBlock(m.Body)
		}
	}
	return t.res, nil
}

const workflowBase = "Workflow"

type tracer struct {
	src     string
	index   map[string]*capability.Descriptor
	scope   string
	anonSeq map[string]int
	res     *Result
}

// walkBlock visits the statements of one method body (and nested control-flow
// blocks, which are still lexically visible call sites).
func (t *tracer) walkBlock(blk *script.BlockStmt) {
	for _, st := range blk.Stmts {
		t.walkStmt(st)
	}
}

func (t *tracer) walkStmt(st script.Stmt) {
	switch s := st.(type) {
	case *script.DeclStmt:
		if inv, ok := t.match(s.Value); ok {
			t.record(s.Name, inv)
		}
	case *script.AssignStmt:
		if inv, ok := t.match(s.Value); ok {
			if id, isIdent := s.Target.(*script.Ident); isIdent {
				t.record(id.Name, inv)
			} else {
				t.record(t.anonName(inv.ClassName), inv)
			}
		}
	case *script.ExprStmt:
		if inv, ok := t.match(s.X); ok {
			t.record(t.anonName(inv.ClassName), inv)
		}
	case *script.ReturnStmt:
		if s.Value != nil {
			if inv, ok := t.match(s.Value); ok {
				t.record(t.anonName(inv.ClassName), inv)
			}
		}
	case *script.IfStmt:
		t.walkBlock(s.Then)
		if s.Else != nil {
			t.walkStmt(s.Else)
		}
	case *script.ForOfStmt:
		t.walkBlock(s.Body)
	case *script.BlockStmt:
		t.walkBlock(s)
	}
}

// match recognizes the three invocation shapes: `new C(a)`, `await new C(a)`,
// and `new C(a).invoke()` with or without await. The constructor identifier
// must resolve in the registry's class index; otherwise the expression is an
// unrelated user class and is skipped.
func (t *tracer) match(e script.Expr) (*Invocation, bool) {
	hasAwait := false
	if aw, ok := e.(*script.AwaitExpr); ok {
		hasAwait = true
		e = aw.X
	}

	hasAction := false
	if call, ok := e.(*script.Call); ok {
		m, ok := call.Fn.(*script.Member)
		if !ok || m.Name != "invoke" {
			return nil, false
		}
		hasAction = true
		e = m.X
	}

	ne, ok := e.(*script.NewExpr)
	if !ok {
		return nil, false
	}
	desc, ok := t.index[ne.Class]
	if !ok {
		return nil, false
	}

	inv := &Invocation{
		CapabilityName: desc.Name,
		ClassName:      ne.Class,
		HasAwait:       hasAwait,
		HasActionCall:  hasAction,
		Line:           ne.Line,
		Node:           ne,
	}
	if len(ne.Args) > 0 {
		if obj, ok := ne.Args[0].(*script.ObjectLit); ok {
			for _, prop := range obj.Props {
				inv.Parameters = append(inv.Parameters, t.classify(prop))
			}
		}
	}
	return inv, true
}

func (t *tracer) classify(prop *script.ObjectProp) Parameter {
	p := Parameter{Name: prop.Key}
	switch v := prop.Value.(type) {
	case *script.StringLit:
		p.Type, p.Value = ValueString, v.Value
	case *script.NumberLit:
		p.Type, p.Value = ValueNumber, v.Value
	case *script.BoolLit:
		p.Type, p.Value = ValueBoolean, v.Value
	case *script.ArrayLit:
		p.Type, p.Value = ValueArray, t.nodeText(v)
	case *script.ObjectLit:
		p.Type, p.Value = ValueObject, t.nodeText(v)
	case *script.Ident:
		p.Type, p.Value = ValueVariable, v.Name
	case *script.Member, *script.Index:
		if isProcessRead(prop.Value) {
			p.Type = ValueEnv
		} else {
			p.Type = ValueVariable
		}
		p.Value = t.nodeText(prop.Value)
	default:
		p.Type, p.Value = ValueUnknown, t.nodeText(prop.Value)
	}
	return p
}

// isProcessRead reports whether e is a dotted or bracketed read rooted at the
// `process` identifier (process.env.X, process["env"]...).
func isProcessRead(e script.Expr) bool {
	for {
		switch v := e.(type) {
		case *script.Member:
			e = v.X
		case *script.Index:
			e = v.X
		case *script.Ident:
			return v.Name == "process"
		default:
			return false
		}
	}
}

func (t *tracer) nodeText(n script.Node) string {
	return t.src[n.Pos():n.End()]
}

func (t *tracer) anonName(class string) string {
	t.anonSeq[class]++
	return fmt.Sprintf("_anonymous_%s_%d", class, t.anonSeq[class])
}

// record assigns the stable id and stores the invocation. The id is a pure
// function of the enclosing method key and the call-site source text, so an
// unchanged script always re-extracts the same ids.
func (t *tracer) record(varName string, inv *Invocation) {
	inv.VarName = varName
	inv.VariableID = VariableID(t.scope, t.nodeText(inv.Node))
	if _, exists := t.res.Nodes[varName]; !exists {
		t.res.Order = append(t.res.Order, varName)
	}
	t.res.Nodes[varName] = inv
}

// VariableID derives the deterministic invocation id from the enclosing
// call-site key and the call-site text.
func VariableID(scope, callSite string) string {
	sum := sha256.Sum256([]byte(scope + "|" + strings.TrimSpace(callSite)))
	return hex.EncodeToString(sum[:])[:16]
}
