package rules

import (
	"testing"

	"github.com/nstehr/vimy/vimy-farm/model"
)

func TestNewFilterEnv(t *testing.T) {
	origin := model.Position{X: 500, Y: 500}
	target := model.RawTarget{ID: 3, Name: "Barbarian village", X: 503, Y: 500, Points: 90, AttackProtection: true}

	env := NewFilterEnv(origin, target, true, testLimits)
	if env.Distance != 3 {
		t.Fatalf("Distance = %v, want 3", env.Distance)
	}
	if !env.Protected || !env.Included || env.PlayerID != testLimits.PlayerID {
		t.Fatalf("env = %+v", env)
	}
	if env.Owned() || !env.Barbarian() {
		t.Fatalf("ownerless target should be barbarian")
	}
}

func TestCustomExpressionsSeeHelpers(t *testing.T) {
	p, err := defaultPipeline(t).WithCustom(`Barbarian() && Name contains "Bonus"`)
	if err != nil {
		t.Fatalf("WithCustom: %v", err)
	}
	origin := model.Position{X: 0, Y: 0}

	bonus := NewFilterEnv(origin, model.RawTarget{ID: 1, Name: "Bonus village", X: 1, Y: 1, Points: 10}, false, testLimits)
	if got := p.Reject(bonus); got != CustomFilterName {
		t.Fatalf("bonus village rejected by %q, want %q", got, CustomFilterName)
	}
	plain := NewFilterEnv(origin, model.RawTarget{ID: 2, Name: "Plain", X: 1, Y: 1, Points: 10}, false, testLimits)
	if got := p.Reject(plain); got != "" {
		t.Fatalf("plain village rejected by %q", got)
	}
}
