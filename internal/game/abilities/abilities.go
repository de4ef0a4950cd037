// Package abilities resolves the once-per-round special actions of units and
// turns them into commands.
package abilities

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/queuefight/queuefight-server/internal/game/commands"
	"github.com/queuefight/queuefight-server/internal/game/dice"
	"github.com/queuefight/queuefight-server/internal/game/narration"
	"github.com/queuefight/queuefight-server/internal/game/units"
)

// Executor runs and records a command.
type Executor interface {
	Execute(cmd commands.Command)
}

// Context carries what a special needs to pick targets and act.
type Context struct {
	Own     *units.Team
	Enemy   *units.Team
	Rand    dice.Source
	Log     narration.Narrator
	Exec    Executor
	Factory *units.Factory
	Logger  *zap.Logger
}

func (c Context) narrator() narration.Narrator {
	if c.Log == nil {
		return narration.Discard
	}
	return c.Log
}

func (c Context) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

// ResolveTeam runs the special of every living unit of ctx.Own in roster
// order. Units added while resolving wait for the next round. A failing or
// panicking special is narrated and skipped.
func ResolveTeam(ctx Context) {
	for _, u := range ctx.Own.LivingFighters() {
		if err := safeResolve(u, ctx); err != nil {
			ctx.narrator().Logf("%s's special failed: %v", u.Name, err)
			ctx.logger().Warn("special failed",
				zap.Int("unit_id", u.ID),
				zap.String("archetype", string(u.Archetype)),
				zap.Error(err))
		}
	}
}

func safeResolve(u *units.Unit, ctx Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return Resolve(u, ctx)
}

// Resolve rolls and performs the special of u. Each unit resolves at most once
// per round; the UsedSpecial flag is set whether or not the roll succeeded.
func Resolve(u *units.Unit, ctx Context) error {
	if u.UsedSpecial || !u.Alive() || u.Special == units.SpecialNone {
		return nil
	}
	if u.Special == units.SpecialBuff && u.BuffApplied {
		return nil
	}
	u.UsedSpecial = true

	if !dice.Percent(ctx.Rand, u.SpecialChance) {
		return nil
	}

	switch u.Special {
	case units.SpecialBuff:
		return buff(u, ctx)
	case units.SpecialHeal:
		return heal(u, ctx)
	case units.SpecialVolley:
		return volley(u, ctx)
	case units.SpecialClone:
		return clone(u, ctx)
	default:
		return fmt.Errorf("unsupported special %q", u.Special)
	}
}

func buff(u *units.Unit, ctx Context) error {
	target := nearest(ctx.Own, u, u.Range, func(v *units.Unit) bool {
		return v.Alive() && v.Has(units.CapBuffable)
	})
	if target == nil {
		ctx.narrator().Logf("%s finds no one to buff", u.Name)
		return nil
	}
	ctx.Exec.Execute(commands.NewApplyBuff(u, target, ctx.Rand, ctx.Log))
	return nil
}

func heal(u *units.Unit, ctx Context) error {
	var target *units.Unit
	for _, v := range inRange(ctx.Own, u, u.Range) {
		if !v.Alive() || !v.Has(units.CapHealable) || v.Health >= v.MaxHealth {
			continue
		}
		if target == nil || v.Health < target.Health {
			target = v
		}
	}
	if target == nil {
		ctx.narrator().Logf("%s finds no one to heal", u.Name)
		return nil
	}
	ctx.Exec.Execute(commands.NewHeal(u, target, ctx.Rand, ctx.Log))
	return nil
}

func volley(u *units.Unit, ctx Context) error {
	targets := ctx.Enemy.LivingFighters()
	if len(targets) == 0 {
		ctx.narrator().Logf("%s has nothing to shoot at", u.Name)
		return nil
	}
	target := targets[ctx.Rand.Intn(len(targets))]
	ctx.Exec.Execute(commands.NewRanged(u, target, ctx.Rand, ctx.Log))
	return nil
}

func clone(u *units.Unit, ctx Context) error {
	var candidates []*units.Unit
	for _, v := range inRange(ctx.Own, u, u.Range) {
		if v.Alive() && v.Has(units.CapClonable) {
			candidates = append(candidates, v)
		}
	}
	if len(candidates) == 0 {
		ctx.narrator().Logf("%s finds no one to clone", u.Name)
		return nil
	}
	if ctx.Factory == nil {
		return fmt.Errorf("clone: no unit factory")
	}
	source := candidates[ctx.Rand.Intn(len(candidates))]
	cmd, err := commands.NewClone(u, source, ctx.Factory, ctx.Log)
	if err != nil {
		return err
	}
	ctx.Exec.Execute(cmd)
	return nil
}

// inRange returns the allies of u within index distance r, excluding u, in
// roster order.
func inRange(team *units.Team, u *units.Unit, r int) []*units.Unit {
	pos := team.IndexOf(u)
	if pos < 0 || r <= 0 {
		return nil
	}
	var out []*units.Unit
	for i, v := range team.Fighters() {
		if i == pos {
			continue
		}
		if d := abs(i - pos); d <= r {
			out = append(out, v)
		}
	}
	return out
}

// nearest returns the closest ally matching ok. Ties go to the lower index.
func nearest(team *units.Team, u *units.Unit, r int, ok func(*units.Unit) bool) *units.Unit {
	pos := team.IndexOf(u)
	var best *units.Unit
	bestDist := 0
	for _, v := range inRange(team, u, r) {
		if !ok(v) {
			continue
		}
		d := abs(team.IndexOf(v) - pos)
		if best == nil || d < bestDist {
			best, bestDist = v, d
		}
	}
	return best
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
