package units

import (
	"fmt"
	"strings"
)

// BuffKind is the closed set of buff variants.
type BuffKind int

const (
	BuffNone BuffKind = iota
	BuffSpear
	BuffHorse
	BuffShield
	BuffHelmet
)

// BuffKinds lists the kinds a buffer can hand out.
var BuffKinds = []BuffKind{BuffSpear, BuffHorse, BuffShield, BuffHelmet}

const (
	minBuffedProtection = 0.1
	maxBuffedProtection = 0.95
)

func (k BuffKind) String() string {
	switch k {
	case BuffSpear:
		return "Spear"
	case BuffHorse:
		return "Horse"
	case BuffShield:
		return "Shield"
	case BuffHelmet:
		return "Helmet"
	default:
		return "None"
	}
}

// ParseBuffKind maps a name back to its kind. Unknown names map to BuffNone.
func ParseBuffKind(name string) BuffKind {
	for _, k := range BuffKinds {
		if strings.EqualFold(k.String(), name) {
			return k
		}
	}
	return BuffNone
}

// Buff is attached to a unit by value. GiverID links back to the unit that
// applied it so the buffer can be re-armed when the buff is undone.
type Buff struct {
	Kind    BuffKind
	GiverID int
}

// Active reports whether the buff is anything but BuffNone.
func (b Buff) Active() bool {
	return b.Kind != BuffNone
}

// Multiplier is the damage multiplier granted to the bearer.
func (b Buff) Multiplier() float64 {
	switch b.Kind {
	case BuffSpear:
		return 1.5
	case BuffHorse:
		return 1.2
	default:
		return 1.0
	}
}

// SingleUse buffs are consumed by the first damaging attack of the bearer.
func (b Buff) SingleUse() bool {
	return b.Kind == BuffSpear || b.Kind == BuffHorse
}

// Protection returns the bearer's protection against attacker given its base
// protection. Modified values are clamped to [0.1, 0.95].
func (b Buff) Protection(base float64, attacker *Unit) float64 {
	var delta float64
	switch b.Kind {
	case BuffHorse:
		delta = 0.2
	case BuffShield:
		delta = 0.3
	case BuffHelmet:
		if attacker == nil || !attacker.Has(CapRanged) {
			return base
		}
		delta = 0.4
	default:
		return base
	}
	p := base + delta
	if p < minBuffedProtection {
		p = minBuffedProtection
	}
	if p > maxBuffedProtection {
		p = maxBuffedProtection
	}
	return p
}

func (b Buff) String() string {
	if !b.Active() {
		return "None"
	}
	return fmt.Sprintf("%s (x%.1f)", b.Kind, b.Multiplier())
}
