package rules

import "github.com/expr-lang/expr/vm"

// Filter is one rejection predicate in the target pipeline: when its
// condition evaluates true the candidate is dropped.
type Filter struct {
	Name         string      // human-readable identifier
	ConditionSrc string      // expr source
	program      *vm.Program // compiled bytecode
}
