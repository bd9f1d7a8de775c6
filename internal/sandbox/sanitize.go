// Package sandbox executes validated workflow scripts inside an isolated
// evaluation context. The host exposes bound capability implementations and a
// minimal set of safe primitives; ambient process configuration is
// unreachable by construction, and reads of it are rejected statically before
// anything runs.
package sandbox

import (
	"fmt"
	"strings"

	"github.com/scriptflow/scriptflow/internal/script"
)

// blockedRoots are identifiers that would reach ambient process state. Any
// appearance at all is rejected: dotted reads, bracketed reads, and aliasing
// (`const p = process`) all start with the bare identifier.
var blockedRoots = map[string]bool{
	"process":    true,
	"globalThis": true,
}

// SanitizeError reports a statically rejected script.
type SanitizeError struct {
	Line int
	Name string
}

func (e *SanitizeError) Error() string {
	return fmt.Sprintf("line %d: access to %q is not available in the sandbox", e.Line, e.Name)
}

// Sanitize statically rejects any script that could read process
// configuration. It runs before every execution, on the exact (possibly
// credential-injected) source about to run.
func Sanitize(src string, prog *script.Program) error {
	var firstErr *SanitizeError
	script.Inspect(prog, func(n script.Node) {
		if firstErr != nil {
			return
		}
		id, ok := n.(*script.Ident)
		if !ok || !blockedRoots[id.Name] {
			return
		}
		firstErr = &SanitizeError{Line: lineAt(src, id.Pos()), Name: id.Name}
	})
	if firstErr != nil {
		return firstErr
	}
	return nil
}

func lineAt(src string, off int) int {
	if off > len(src) {
		off = len(src)
	}
	return 1 + strings.Count(src[:off], "\n")
}
