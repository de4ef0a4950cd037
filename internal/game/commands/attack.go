package commands

import (
	"fmt"

	"github.com/queuefight/queuefight-server/internal/game/dice"
	"github.com/queuefight/queuefight-server/internal/game/narration"
	"github.com/queuefight/queuefight-server/internal/game/units"
)

// ArcherHitChance is the percent chance that a volley lands.
const ArcherHitChance = 70

// Attack is the front-line melee exchange.
type Attack struct {
	pre [2]unitState
	log narration.Narrator

	// Dealt is the damage of the last execution.
	Dealt float64
}

// NewAttack captures attacker and target.
func NewAttack(attacker, target *units.Unit, log narration.Narrator) *Attack {
	if log == nil {
		log = narration.Discard
	}
	return &Attack{
		pre: [2]unitState{capture(attacker), capture(target)},
		log: log,
	}
}

func (c *Attack) attackerUnit() *units.Unit { return c.pre[0].unit }
func (c *Attack) targetUnit() *units.Unit   { return c.pre[1].unit }

// Execute deals melee damage and consumes a single-use buff of the attacker.
func (c *Attack) Execute() {
	c.pre[0].restore()
	c.pre[1].restore()

	a, t := c.attackerUnit(), c.targetUnit()
	c.Dealt = t.TakeDamage(units.MeleeDamage(a, t))
	c.log.Logf("%s attacks %s for %.1f damage, %s has %.1f health left", a.Name, t.Name, c.Dealt, t.Name, t.Health)

	if b := a.Buff(); b.SingleUse() && c.Dealt > 0 {
		a.RemoveBuff()
		c.log.Logf("%s used up the %s", a.Name, b.Kind)
	}
}

// Undo restores both units.
func (c *Attack) Undo() {
	c.pre[0].restore()
	c.pre[1].restore()
	c.log.Logf("undo: %s", c.Describe())
}

func (c *Attack) Describe() string {
	return fmt.Sprintf("%s attacks %s", c.attackerUnit().Name, c.targetUnit().Name)
}

// Ranged is an archer volley against one enemy.
type Ranged struct {
	archer *units.Unit
	target unitState
	rng    dice.Source
	log    narration.Narrator

	Hit   bool
	Dealt float64
}

// NewRanged captures the target of a volley.
func NewRanged(archer, target *units.Unit, rng dice.Source, log narration.Narrator) *Ranged {
	if log == nil {
		log = narration.Discard
	}
	return &Ranged{archer: archer, target: capture(target), rng: rng, log: log}
}

// Execute rolls the hit and applies ranged damage.
func (c *Ranged) Execute() {
	c.target.restore()
	t := c.target.unit

	c.Hit = dice.Percent(c.rng, ArcherHitChance)
	if !c.Hit {
		c.Dealt = 0
		c.log.Logf("%s shoots at %s and misses", c.archer.Name, t.Name)
		return
	}
	c.Dealt = t.TakeDamage(units.RangedDamage(c.archer, t))
	c.log.Logf("%s shoots %s for %.1f damage, %s has %.1f health left", c.archer.Name, t.Name, c.Dealt, t.Name, t.Health)
}

// Undo restores the target.
func (c *Ranged) Undo() {
	c.target.restore()
	c.log.Logf("undo: %s", c.Describe())
}

func (c *Ranged) Describe() string {
	return fmt.Sprintf("%s shoots at %s", c.archer.Name, c.target.unit.Name)
}
