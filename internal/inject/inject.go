// Package inject rewrites traced capability invocations to carry resolved
// credential references. The rewrite is AST-guided and byte-precise: only the
// matched invocation's argument list changes, so re-validating the output
// extracts the same invocations modulo the credentials parameter.
package inject

import (
	"fmt"
	"sort"
	"strings"

	"github.com/scriptflow/scriptflow/internal/capability"
	"github.com/scriptflow/scriptflow/internal/credential"
	"github.com/scriptflow/scriptflow/internal/script"
	"github.com/scriptflow/scriptflow/internal/trace"
	pkgcap "github.com/scriptflow/scriptflow/pkg/capability"
)

const credentialsParam = "credentials"

// Injected reports one credential wired into an invocation.
type Injected struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Gap is a required credential type that could not be resolved. Gaps are not
// errors; execution proceeds and fails naturally inside the capability if it
// actually needs the credential.
type Gap struct {
	VarName string `json:"varName"`
	Type    string `json:"type"`
	Reason  string `json:"reason"`
}

// Result is one injection pass.
type Result struct {
	Success  bool                  `json:"success"`
	Code     string                `json:"code"`
	Injected map[string][]Injected `json:"injectedCredentials"` // keyed by invocation var name
	Gaps     []Gap                 `json:"gaps,omitempty"`
}

// Registry is the descriptor lookup the injector needs.
type Registry interface {
	Get(name string) (*capability.Descriptor, bool)
}

// Credentials resolves ids and per-type system defaults.
type Credentials interface {
	DefaultFor(credType string) (string, bool)
	Get(id string) (*credential.Profile, bool)
}

type edit struct {
	pos, end int
	text     string
}

// Inject resolves and injects credentials for every traced invocation.
// supplied maps invocation var name to a caller-chosen credential id; any
// required type it does not cover falls back to the system default for that
// type. Injection is idempotent: applying the same credential set twice
// yields byte-identical output.
func Inject(src string, invocations map[string]*trace.Invocation, supplied map[string]string, reg Registry, creds Credentials) *Result {
	res := &Result{Success: true, Code: src, Injected: make(map[string][]Injected)}

	names := make([]string, 0, len(invocations))
	for name := range invocations {
		names = append(names, name)
	}
	// Source order keeps edits and reports deterministic.
	sort.Slice(names, func(i, j int) bool {
		return invocations[names[i]].Node.Pos() < invocations[names[j]].Node.Pos()
	})

	var edits []edit
	for _, name := range names {
		inv := invocations[name]
		required := requiredTypes(inv, reg)
		if len(required) == 0 {
			continue
		}

		resolved := make(map[string]string, len(required))
		for _, credType := range required {
			id, reason := resolve(name, credType, supplied, creds)
			if id == "" {
				res.Gaps = append(res.Gaps, Gap{VarName: name, Type: credType, Reason: reason})
				continue
			}
			resolved[credType] = id
		}
		if len(resolved) == 0 {
			continue
		}

		ed, ok := buildEdit(src, inv.Node, resolved)
		if !ok {
			for credType := range resolved {
				res.Gaps = append(res.Gaps, Gap{VarName: name, Type: credType, Reason: "first constructor argument is not an object literal"})
			}
			continue
		}
		edits = append(edits, ed)
		types := make([]string, 0, len(resolved))
		for credType := range resolved {
			types = append(types, credType)
		}
		sort.Strings(types)
		for _, credType := range types {
			res.Injected[name] = append(res.Injected[name], Injected{Type: credType, ID: resolved[credType]})
		}
	}

	res.Code = apply(src, edits)
	return res
}

// requiredTypes is the invocation's declared credential requirements plus,
// for agent capabilities, the declared requirements of each attached tool.
// Tools declare their own needs on their descriptors; nothing here pattern
// matches tool names or content.
func requiredTypes(inv *trace.Invocation, reg Registry) []string {
	desc, ok := reg.Get(inv.CapabilityName)
	if !ok {
		return nil
	}
	set := make(map[string]bool)
	for _, t := range desc.RequiredCredentialTypes {
		set[t] = true
	}
	if desc.Kind == pkgcap.KindAgent {
		for _, toolName := range attachedTools(inv) {
			tool, ok := reg.Get(toolName)
			if !ok || tool.Kind != pkgcap.KindTool {
				continue
			}
			for _, t := range tool.RequiredCredentialTypes {
				set[t] = true
			}
		}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func attachedTools(inv *trace.Invocation) []string {
	if len(inv.Node.Args) == 0 {
		return nil
	}
	obj, ok := inv.Node.Args[0].(*script.ObjectLit)
	if !ok {
		return nil
	}
	for _, prop := range obj.Props {
		if prop.Key != "tools" {
			continue
		}
		arr, ok := prop.Value.(*script.ArrayLit)
		if !ok {
			return nil
		}
		var names []string
		for _, el := range arr.Elems {
			if s, ok := el.(*script.StringLit); ok {
				names = append(names, s.Value)
			}
		}
		return names
	}
	return nil
}

// resolve picks a credential id for one required type: the caller-supplied
// mapping wins when its profile covers the type, otherwise the system-wide
// default for the type.
func resolve(varName, credType string, supplied map[string]string, creds Credentials) (id, gapReason string) {
	if sup, ok := supplied[varName]; ok && sup != "" {
		if p, known := creds.Get(sup); !known || p.Type == credType {
			return sup, ""
		}
	}
	if def, ok := creds.DefaultFor(credType); ok {
		return def, ""
	}
	return "", fmt.Sprintf("no caller mapping and no system default for type %q", credType)
}

// buildEdit produces the single splice for one invocation's argument list.
func buildEdit(src string, ne *script.NewExpr, resolved map[string]string) (edit, bool) {
	entries := make([]string, 0, len(resolved))
	types := make([]string, 0, len(resolved))
	for credType := range resolved {
		types = append(types, credType)
	}
	sort.Strings(types)
	for _, credType := range types {
		entries = append(entries, fmt.Sprintf("%q: %q", credType, credential.RefPrefix+resolved[credType]))
	}

	if len(ne.Args) == 0 {
		text := fmt.Sprintf("({ %s: { %s } })", credentialsParam, strings.Join(entries, ", "))
		return edit{pos: ne.LParen, end: ne.RParen + 1, text: text}, true
	}
	obj, ok := ne.Args[0].(*script.ObjectLit)
	if !ok {
		return edit{}, false
	}

	for _, prop := range obj.Props {
		if prop.Key != credentialsParam {
			continue
		}
		// Merge: keep foreign keys, replace matching types, append the rest.
		return mergeEdit(src, prop, types, resolved), true
	}

	// Append a credentials parameter as the final property.
	inner := fmt.Sprintf("%s: { %s }", credentialsParam, strings.Join(entries, ", "))
	if len(obj.Props) > 0 {
		last := obj.Props[len(obj.Props)-1]
		return edit{pos: last.End(), end: obj.End() - 1, text: ", " + inner + " "}, true
	}
	return edit{pos: obj.Pos(), end: obj.End(), text: "{ " + inner + " }"}, true
}

// mergeEdit rewrites an existing credentials object: original key order is
// kept, values of matching types are replaced, and unresolved keys keep their
// source text untouched.
func mergeEdit(src string, prop *script.ObjectProp, types []string, resolved map[string]string) edit {
	var parts []string
	seen := make(map[string]bool)
	if existing, ok := prop.Value.(*script.ObjectLit); ok {
		for _, p := range existing.Props {
			if id, match := resolved[p.Key]; match {
				parts = append(parts, fmt.Sprintf("%q: %q", p.Key, credential.RefPrefix+id))
			} else {
				key := p.Key
				if p.Quoted {
					key = fmt.Sprintf("%q", key)
				}
				parts = append(parts, fmt.Sprintf("%s: %s", key, src[p.Value.Pos():p.Value.End()]))
			}
			seen[p.Key] = true
		}
	}
	for _, credType := range types {
		if !seen[credType] {
			parts = append(parts, fmt.Sprintf("%q: %q", credType, credential.RefPrefix+resolved[credType]))
		}
	}
	text := fmt.Sprintf("%s: { %s }", credentialsParam, strings.Join(parts, ", "))
	return edit{pos: prop.Pos(), end: prop.End(), text: text}
}

// apply splices edits back-to-front so earlier offsets stay valid.
func apply(src string, edits []edit) string {
	sort.Slice(edits, func(i, j int) bool { return edits[i].pos > edits[j].pos })
	out := src
	for _, e := range edits {
		out = out[:e.pos] + e.text + out[e.end:]
	}
	return out
}
