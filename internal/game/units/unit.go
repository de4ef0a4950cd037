// Package units holds the battle data model: archetype catalog, units, buffs
// and team rosters.
package units

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrAlreadyBuffed is returned when a unit already carries a buff.
	ErrAlreadyBuffed = errors.New("unit already carries a buff")
	// ErrNotBuffable is returned when the unit lacks CapBuffable.
	ErrNotBuffable = errors.New("unit cannot carry buffs")
)

// Unit is a single combatant or obstacle.
type Unit struct {
	ID          int
	Name        string
	Archetype   Archetype
	Health      float64
	MaxHealth   float64
	Protection  float64
	Damage      float64
	Cost        float64
	Icon        string
	Description string

	// Range is the index distance used by buff, heal and clone specials.
	Range int
	// Power is the heal amount ceiling or ranged damage.
	Power         int
	SpecialChance int
	Special       SpecialKind

	// UsedSpecial is set once the unit resolved its special in the current round.
	UsedSpecial bool
	// BuffApplied is set on buffers after they handed out a buff.
	BuffApplied bool

	caps Capability
	buff Buff
	team *Team
}

func newUnit(id int, name string, stats Stats) *Unit {
	return &Unit{
		ID:            id,
		Name:          name,
		Archetype:     stats.Archetype,
		Health:        stats.Health,
		MaxHealth:     stats.Health,
		Protection:    stats.Protection,
		Damage:        stats.Damage,
		Cost:          stats.Cost,
		Icon:          stats.Icon,
		Description:   stats.Description,
		Range:         stats.Range,
		Power:         stats.Power,
		SpecialChance: stats.SpecialChance,
		Special:       stats.Special,
		caps:          stats.Capabilities,
	}
}

// Team returns the roster currently holding the unit, or nil.
func (u *Unit) Team() *Team {
	return u.team
}

// Alive reports whether the unit has health left.
func (u *Unit) Alive() bool {
	return u.Health > 0
}

// Has reports whether the unit carries every capability in c.
func (u *Unit) Has(c Capability) bool {
	return u.caps&c == c
}

// Capabilities returns the capability set.
func (u *Unit) Capabilities() Capability {
	return u.caps
}

// Buff returns the active buff (BuffNone when empty).
func (u *Unit) Buff() Buff {
	return u.buff
}

// ApplyBuff attaches b. A unit holds at most one buff.
func (u *Unit) ApplyBuff(b Buff) error {
	if !u.Has(CapBuffable) {
		return ErrNotBuffable
	}
	if u.buff.Active() {
		return ErrAlreadyBuffed
	}
	u.buff = b
	return nil
}

// RemoveBuff clears the buff and returns what was removed.
func (u *Unit) RemoveBuff() Buff {
	prev := u.buff
	u.buff = Buff{}
	return prev
}

// SetBuff overwrites the buff slot. Only state restoration uses this.
func (u *Unit) SetBuff(b Buff) {
	u.buff = b
}

// DamageMultiplier is the multiplier of the active buff.
func (u *Unit) DamageMultiplier() float64 {
	return u.buff.Multiplier()
}

// EffectiveProtection is the protection against the given attacker.
func (u *Unit) EffectiveProtection(attacker *Unit) float64 {
	return u.buff.Protection(u.Protection, attacker)
}

// TakeDamage subtracts amount from health, clamping at zero, and returns the
// damage actually dealt.
func (u *Unit) TakeDamage(amount float64) float64 {
	if amount <= 0 {
		return 0
	}
	before := u.Health
	u.Health = math.Max(0, u.Health-amount)
	return before - u.Health
}

// Heal adds amount up to MaxHealth and returns the health restored.
func (u *Unit) Heal(amount float64) float64 {
	if amount <= 0 {
		return 0
	}
	before := u.Health
	u.Health = math.Min(u.MaxHealth, u.Health+amount)
	return u.Health - before
}

// SetHealth assigns health directly, clamped to [0, MaxHealth].
func (u *Unit) SetHealth(h float64) {
	u.Health = math.Max(0, math.Min(u.MaxHealth, h))
}

// Reset restores a unit for a fresh battle.
func (u *Unit) Reset() {
	u.Health = u.MaxHealth
	u.buff = Buff{}
	u.BuffApplied = false
	u.UsedSpecial = false
}

func (u *Unit) String() string {
	return fmt.Sprintf("%s#%d", u.Name, u.ID)
}

// MeleeDamage computes the front-line attack damage. The result is never
// below 1.
func MeleeDamage(attacker, target *Unit) float64 {
	raw := attacker.Damage * attacker.DamageMultiplier() * (1 - target.EffectiveProtection(attacker))
	return math.Max(1, raw)
}

// RangedDamage computes a volley hit. Buff multipliers do not apply.
func RangedDamage(attacker, target *Unit) float64 {
	raw := float64(attacker.Power) * (1 - target.EffectiveProtection(attacker))
	return math.Max(1, raw)
}
