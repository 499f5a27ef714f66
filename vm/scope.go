package vm

import (
	"github.com/josharian/intern"

	e "github.com/loxvm/loxvm/errors"
)

// MaxLocals is the fixed capacity of the Scope Tracker's descriptor array.
const MaxLocals = 256

// Local is a {name, depth} descriptor. Depth 0 means "not in any local
// scope" — such a declaration is a global and never becomes a Local.
type Local struct {
	Name  string
	Depth int
}

// ScopeTracker exists only at compile time: it resolves an identifier to
// the absolute stack slot that will hold its runtime value, and tracks
// lexical nesting depth. Descriptors are stored in strictly
// non-decreasing depth order by index, so FindLocal's reverse scan
// returns the innermost binding first.
type ScopeTracker struct {
	locals []Local
	depth  int
}

func NewScopeTracker() *ScopeTracker { return &ScopeTracker{} }

func (s *ScopeTracker) BeginScope() { s.depth++ }
func (s *ScopeTracker) EndScope()   { s.depth-- }

func (s *ScopeTracker) Depth() int { return s.depth }

// LocalScope reports whether the tracker is currently inside a `{ }` block.
func (s *ScopeTracker) LocalScope() bool { return s.depth >= 1 }

// AddLocal appends a descriptor for name at the current depth, returning
// its slot (== its index, since every earlier slot is still live). It
// fails once 256 locals are already registered for this compilation unit.
func (s *ScopeTracker) AddLocal(name string) (slot int, err error) {
	if len(s.locals) >= MaxLocals {
		return 0, &e.CompilationError{Reason: "too many local variables in one scope"}
	}
	slot = len(s.locals)
	s.locals = append(s.locals, Local{Name: intern.String(name), Depth: s.depth})
	return slot, nil
}

// FindLocal scans descriptors in reverse order (innermost first) and
// returns the absolute stack slot of the first match, or -1 if name is
// not a live local.
func (s *ScopeTracker) FindLocal(name string) int {
	for i := len(s.locals) - 1; i >= 0; i-- {
		if s.locals[i].Name == name {
			return i
		}
	}
	return -1
}

// ExistsInCurrentScope reports whether name is already declared at the
// current depth, scanning live descriptors while their depth equals the
// current depth. Used to reject redeclaration within a single scope while
// allowing shadowing at a deeper one.
func (s *ScopeTracker) ExistsInCurrentScope(name string) bool {
	for i := len(s.locals) - 1; i >= 0; i-- {
		if s.locals[i].Depth != s.depth {
			break
		}
		if s.locals[i].Name == name {
			return true
		}
	}
	return false
}

// ShouldPopLocal reports whether the innermost descriptor belongs to the
// scope that just ended (its depth is deeper than the tracker's current
// depth, which EndScope has already decremented); if so, it is discarded
// and true is returned so the compiler can emit a matching POP.
func (s *ScopeTracker) ShouldPopLocal() bool {
	if len(s.locals) == 0 {
		return false
	}
	if s.locals[len(s.locals)-1].Depth <= s.depth {
		return false
	}
	s.locals = s.locals[:len(s.locals)-1]
	return true
}
