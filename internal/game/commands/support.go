package commands

import (
	"errors"
	"fmt"

	"github.com/queuefight/queuefight-server/internal/game/dice"
	"github.com/queuefight/queuefight-server/internal/game/narration"
	"github.com/queuefight/queuefight-server/internal/game/units"
)

// Heal restores a random amount in [0, power] to one ally.
type Heal struct {
	healer *units.Unit
	target unitState
	rng    dice.Source
	log    narration.Narrator

	Restored float64
}

func NewHeal(healer, target *units.Unit, rng dice.Source, log narration.Narrator) *Heal {
	if log == nil {
		log = narration.Discard
	}
	return &Heal{healer: healer, target: capture(target), rng: rng, log: log}
}

func (c *Heal) Execute() {
	c.target.restore()
	t := c.target.unit
	amount := c.rng.Intn(c.healer.Power + 1)
	c.Restored = t.Heal(float64(amount))
	c.log.Logf("%s heals %s for %.1f, %s has %.1f health", c.healer.Name, t.Name, c.Restored, t.Name, t.Health)
}

func (c *Heal) Undo() {
	c.target.restore()
	c.log.Logf("undo: %s", c.Describe())
}

func (c *Heal) Describe() string {
	return fmt.Sprintf("%s heals %s", c.healer.Name, c.target.unit.Name)
}

// ApplyBuff hands a random buff kind from a buffer to a buffable ally.
type ApplyBuff struct {
	giver  unitState
	target unitState
	rng    dice.Source
	log    narration.Narrator

	Kind    units.BuffKind
	Applied bool
}

func NewApplyBuff(giver, target *units.Unit, rng dice.Source, log narration.Narrator) *ApplyBuff {
	if log == nil {
		log = narration.Discard
	}
	return &ApplyBuff{giver: capture(giver), target: capture(target), rng: rng, log: log}
}

// Execute draws a buff kind and attaches it. A target that already carries a
// buff keeps it and the giver stays armed.
func (c *ApplyBuff) Execute() {
	c.giver.restore()
	c.target.restore()
	g, t := c.giver.unit, c.target.unit

	c.Kind = units.BuffKinds[c.rng.Intn(len(units.BuffKinds))]
	err := t.ApplyBuff(units.Buff{Kind: c.Kind, GiverID: g.ID})
	switch {
	case errors.Is(err, units.ErrAlreadyBuffed):
		c.Applied = false
		c.log.Logf("%s already carries a %s, %s keeps the %s", t.Name, t.Buff().Kind, g.Name, c.Kind)
		return
	case err != nil:
		c.Applied = false
		c.log.Logf("%s cannot buff %s: %v", g.Name, t.Name, err)
		return
	}
	c.Applied = true
	g.BuffApplied = true
	c.log.Logf("%s gives %s a %s", g.Name, t.Name, c.Kind)
}

// Undo removes the buff and re-arms the giver.
func (c *ApplyBuff) Undo() {
	c.giver.restore()
	c.target.restore()
	c.log.Logf("undo: %s", c.Describe())
}

func (c *ApplyBuff) Describe() string {
	return fmt.Sprintf("%s buffs %s", c.giver.unit.Name, c.target.unit.Name)
}

// Clone inserts a copy of an ally right after the caster. The copy is made at
// construction so redo reinserts the same unit.
type Clone struct {
	caster *units.Unit
	source *units.Unit
	team   *units.Team
	clone  *units.Unit
	log    narration.Narrator
}

// NewClone prepares the copy of source. The caster must be in a team.
func NewClone(caster, source *units.Unit, factory *units.Factory, log narration.Narrator) (*Clone, error) {
	if caster.Team() == nil {
		return nil, fmt.Errorf("clone: %s has no team", caster.Name)
	}
	if !source.Has(units.CapClonable) {
		return nil, fmt.Errorf("clone: %s is not clonable", source.Name)
	}
	if log == nil {
		log = narration.Discard
	}
	return &Clone{
		caster: caster,
		source: source,
		team:   caster.Team(),
		clone:  factory.Clone(source),
		log:    log,
	}, nil
}

// Unit returns the clone.
func (c *Clone) Unit() *units.Unit {
	return c.clone
}

func (c *Clone) Execute() {
	c.team.RemoveFighter(c.clone)
	c.clone.Reset()
	c.team.AddFighterAt(c.team.IndexOf(c.caster)+1, c.clone)
	c.log.Logf("%s conjures %s", c.caster.Name, c.clone.Name)
}

func (c *Clone) Undo() {
	c.team.RemoveFighter(c.clone)
	c.log.Logf("undo: %s", c.Describe())
}

func (c *Clone) Describe() string {
	return fmt.Sprintf("%s clones %s", c.caster.Name, c.source.Name)
}
