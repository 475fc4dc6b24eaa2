package rules

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// CustomFilterName is the name given to the user-supplied filter.
const CustomFilterName = "custom"

// DefaultFilters returns the built-in rejection rules in evaluation order.
func DefaultFilters() []*Filter {
	return []*Filter{
		// Negative ids are reserved map features (invite slots, resource
		// deposits, second-village placeholders), not villages.
		{Name: "reserved-id", ConditionSrc: `ID < 0`},
		{Name: "own-village", ConditionSrc: `Owned() && OwnerID == PlayerID`},
		{Name: "attack-protection", ConditionSrc: `Protected`},
		{Name: "owned-not-included", ConditionSrc: `Owned() && !Included`},
		{Name: "points-range", ConditionSrc: `Points < MinPoints || Points > MaxPoints`},
		{Name: "distance-range", ConditionSrc: `Distance < MinDistance || Distance > MaxDistance`},
	}
}

// Pipeline evaluates compiled filters against candidate targets, first
// match wins.
type Pipeline struct {
	filters []*Filter
}

// NewPipeline compiles every filter condition into expr bytecode.
func NewPipeline(filters []*Filter) (*Pipeline, error) {
	compiled, err := compileFilters(filters)
	if err != nil {
		return nil, err
	}
	return &Pipeline{filters: compiled}, nil
}

// WithCustom returns a pipeline that also rejects targets matching src.
// An empty src returns the receiver unchanged.
func (p *Pipeline) WithCustom(src string) (*Pipeline, error) {
	if strings.TrimSpace(src) == "" {
		return p, nil
	}
	custom := &Filter{Name: CustomFilterName, ConditionSrc: src}
	if err := compileFilter(custom); err != nil {
		return nil, err
	}
	filters := make([]*Filter, 0, len(p.filters)+1)
	filters = append(filters, p.filters...)
	filters = append(filters, custom)
	return &Pipeline{filters: filters}, nil
}

// Reject returns the name of the first filter that matches env, or "" when
// the target passes. A filter that fails at runtime is logged and skipped.
func (p *Pipeline) Reject(env FilterEnv) string {
	for _, f := range p.filters {
		result, err := vm.Run(f.program, env)
		if err != nil {
			slog.Warn("filter condition error", "filter", f.Name, "target", env.ID, "error", err)
			continue
		}
		if match, ok := result.(bool); ok && match {
			return f.Name
		}
	}
	return ""
}

// Names lists the filters in evaluation order.
func (p *Pipeline) Names() []string {
	names := make([]string, len(p.filters))
	for i, f := range p.filters {
		names[i] = f.Name
	}
	return names
}

// Validate checks that src compiles as a boolean filter expression.
func Validate(src string) error {
	if strings.TrimSpace(src) == "" {
		return nil
	}
	return compileFilter(&Filter{Name: CustomFilterName, ConditionSrc: src})
}

func compileFilters(filters []*Filter) ([]*Filter, error) {
	for _, f := range filters {
		if err := compileFilter(f); err != nil {
			return nil, err
		}
	}
	return filters, nil
}

func compileFilter(f *Filter) error {
	prog, err := expr.Compile(f.ConditionSrc, expr.Env(FilterEnv{}), expr.AsBool())
	if err != nil {
		return fmt.Errorf("compile filter %q: %w", f.Name, err)
	}
	f.program = prog
	return nil
}
