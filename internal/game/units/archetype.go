package units

import (
	"fmt"
	"strings"
)

// Archetype names a fixed unit template.
type Archetype string

const (
	ArchetypeWeakFighter   Archetype = "WeakFighter"
	ArchetypeStrongFighter Archetype = "StrongFighter"
	ArchetypeHealer        Archetype = "Healer"
	ArchetypeArcher        Archetype = "Archer"
	ArchetypeMage          Archetype = "Mage"
	ArchetypeWall          Archetype = "Wall"
)

// Capability is a bit set describing what can be done to or by a unit.
// Special resolution and combat switch on capabilities, never on archetype.
type Capability uint8

const (
	// CapHealable units can be targeted by healers.
	CapHealable Capability = 1 << iota
	// CapClonable units can be duplicated by mages.
	CapClonable
	// CapBuffable units can carry a buff.
	CapBuffable
	// CapRanged units attack from range; helmet buffs react to them.
	CapRanged
	// CapAttacker units can perform the front-line melee attack.
	CapAttacker
)

var capabilityNames = map[string]Capability{
	"healable": CapHealable,
	"clonable": CapClonable,
	"buffable": CapBuffable,
	"ranged":   CapRanged,
	"attacker": CapAttacker,
}

func parseCapabilities(names []string) (Capability, error) {
	var caps Capability
	for _, name := range names {
		c, ok := capabilityNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return 0, fmt.Errorf("unknown capability %q", name)
		}
		caps |= c
	}
	return caps, nil
}

func (c Capability) String() string {
	parts := make([]string, 0, 5)
	for _, name := range []string{"healable", "clonable", "buffable", "ranged", "attacker"} {
		if c&capabilityNames[name] != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "|")
}

// SpecialKind selects the once-per-round special action of a unit.
type SpecialKind string

const (
	SpecialNone   SpecialKind = "none"
	SpecialBuff   SpecialKind = "buff"
	SpecialHeal   SpecialKind = "heal"
	SpecialVolley SpecialKind = "volley"
	SpecialClone  SpecialKind = "clone"
)

func parseSpecial(name string) (SpecialKind, error) {
	switch kind := SpecialKind(strings.ToLower(strings.TrimSpace(name))); kind {
	case "":
		return SpecialNone, nil
	case SpecialNone, SpecialBuff, SpecialHeal, SpecialVolley, SpecialClone:
		return kind, nil
	default:
		return "", fmt.Errorf("unknown special %q", name)
	}
}

// Stats is the stat block of an archetype.
type Stats struct {
	Archetype     Archetype
	DisplayName   string
	Description   string
	Icon          string
	Health        float64
	Protection    float64
	Damage        float64
	Cost          float64
	Range         int
	Power         int
	SpecialChance int
	Special       SpecialKind
	Capabilities  Capability
}
