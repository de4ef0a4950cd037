package units

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/queuefight/queuefight-server/internal/game/dice"
)

const maxRandomAttempts = 50

// IDAllocator hands out monotonically increasing unit ids. It is safe for
// concurrent use so several battles can share one allocator.
type IDAllocator struct {
	last atomic.Int64
}

// NewIDAllocator returns an allocator whose first id is 1.
func NewIDAllocator() *IDAllocator {
	return &IDAllocator{}
}

// Next returns a fresh id.
func (a *IDAllocator) Next() int {
	return int(a.last.Add(1))
}

// Reserve guarantees that every later Next returns a value above id.
func (a *IDAllocator) Reserve(id int) {
	for {
		cur := a.last.Load()
		if int64(id) <= cur {
			return
		}
		if a.last.CompareAndSwap(cur, int64(id)) {
			return
		}
	}
}

// Last returns the most recently issued or reserved id.
func (a *IDAllocator) Last() int {
	return int(a.last.Load())
}

// Factory builds units from a catalog.
type Factory struct {
	catalog *Catalog
	ids     *IDAllocator
}

// NewFactory wires a catalog with an id allocator. A nil allocator gets a
// private one.
func NewFactory(catalog *Catalog, ids *IDAllocator) *Factory {
	if ids == nil {
		ids = NewIDAllocator()
	}
	return &Factory{catalog: catalog, ids: ids}
}

// Catalog returns the catalog backing the factory.
func (f *Factory) Catalog() *Catalog {
	return f.catalog
}

// IDs returns the allocator.
func (f *Factory) IDs() *IDAllocator {
	return f.ids
}

// Create builds a full-health unit of the named archetype.
func (f *Factory) Create(archetype string) (*Unit, error) {
	stats, err := f.catalog.Lookup(archetype)
	if err != nil {
		return nil, err
	}
	return newUnit(f.ids.Next(), stats.DisplayName, stats), nil
}

// CheckRestore reports whether Restore would accept archetype and id. It
// reserves nothing.
func (f *Factory) CheckRestore(archetype string, id int) error {
	if id <= 0 {
		return fmt.Errorf("restore %s: invalid id %d", archetype, id)
	}
	_, err := f.catalog.Lookup(archetype)
	return err
}

// Restore rebuilds a unit with a known id and name, as read from a save.
func (f *Factory) Restore(archetype string, id int, name string) (*Unit, error) {
	if err := f.CheckRestore(archetype, id); err != nil {
		return nil, err
	}
	stats, err := f.catalog.Lookup(archetype)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = stats.DisplayName
	}
	f.ids.Reserve(id)
	return newUnit(id, name, stats), nil
}

// Clone copies src under a fresh id. The clone has full health, no buff and
// clear per-round flags. It is not attached to any team.
func (f *Factory) Clone(src *Unit) *Unit {
	c := *src
	c.ID = f.ids.Next()
	c.Name = src.Name + "_clone"
	c.Health = c.MaxHealth
	c.buff = Buff{}
	c.BuffApplied = false
	c.UsedSpecial = false
	c.team = nil
	return &c
}

// RandomRoster fills team with random affordable archetypes. When no random
// pick fits, the cheapest archetype is bought instead.
func RandomRoster(f *Factory, rng dice.Source, team *Team) error {
	pool := f.catalog.Purchasable()
	if len(pool) == 0 {
		return errors.New("catalog has no purchasable archetypes")
	}
	cheapest := pool[0]

	for attempt := 0; attempt < maxRandomAttempts && team.CanAfford(cheapest.Cost); attempt++ {
		stats := pool[rng.Intn(len(pool))]
		if !team.CanAfford(stats.Cost) {
			continue
		}
		team.AddFighter(newUnit(f.ids.Next(), stats.DisplayName, stats))
	}

	if team.Len() == 0 {
		if !team.CanAfford(cheapest.Cost) {
			return fmt.Errorf("budget %.0f cannot buy the cheapest archetype %s", team.Budget(), cheapest.Archetype)
		}
		team.AddFighter(newUnit(f.ids.Next(), cheapest.DisplayName, cheapest))
	}
	return nil
}
