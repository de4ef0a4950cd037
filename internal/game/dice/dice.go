// Package dice provides the randomness abstraction used by the battle engine.
//
// Every probabilistic decision (special-ability rolls, target picks, hit rolls,
// heal amounts, buff kinds, the opening attacker) goes through a Source so that
// callers can inject a seeded generator or a scripted sequence.
package dice

import (
	"math/rand"
)

// Source is the randomness provider.
type Source interface {
	// Intn returns a non-negative random int in [0, n).
	//
	// Precondition: n > 0.
	Intn(n int) int
}

// New returns a seeded pseudo-random source. Seed 0 is mapped to 1 so that a
// zero-valued config still produces a usable generator.
func New(seed int64) Source {
	if seed == 0 {
		seed = 1
	}
	return rand.New(rand.NewSource(seed))
}

// Percent rolls a d100 and reports whether it landed under chance.
func Percent(src Source, chance int) bool {
	if chance <= 0 {
		return false
	}
	if chance >= 100 {
		// Still consume a roll so the stream position does not depend on the table.
		src.Intn(100)
		return true
	}
	return src.Intn(100) < chance
}

// Sequence is a scripted Source that replays fixed values in order and wraps
// around when exhausted. Each value is reduced modulo n.
type Sequence struct {
	values []int
	pos    int
}

// NewSequence creates a scripted source.
func NewSequence(values ...int) *Sequence {
	if len(values) == 0 {
		values = []int{0}
	}
	return &Sequence{values: values}
}

// Intn returns the next scripted value modulo n.
func (s *Sequence) Intn(n int) int {
	v := s.values[s.pos%len(s.values)]
	s.pos++
	if v < 0 {
		v = -v
	}
	return v % n
}

// Calls reports how many values have been drawn.
func (s *Sequence) Calls() int {
	return s.pos
}
