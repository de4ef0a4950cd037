package units

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queuefight/queuefight-server/internal/game/dice"
	"github.com/queuefight/queuefight-server/internal/game/narration"
)

func newTestFactory(t *testing.T) *Factory {
	t.Helper()
	cat, err := DefaultCatalog()
	require.NoError(t, err)
	return NewFactory(cat, NewIDAllocator())
}

func TestDefaultCatalogStats(t *testing.T) {
	cat, err := DefaultCatalog()
	require.NoError(t, err)

	tests := []struct {
		name   string
		hp     float64
		prot   float64
		damage float64
		cost   float64
		caps   Capability
	}{
		{"WeakFighter", 80, 0.2, 25, 15, CapHealable | CapClonable | CapAttacker},
		{"StrongFighter", 100, 0.5, 60, 30, CapHealable | CapBuffable | CapAttacker},
		{"Healer", 70, 0.1, 10, 20, CapHealable | CapClonable | CapAttacker},
		{"Archer", 75, 0.2, 15, 25, CapHealable | CapClonable | CapRanged | CapAttacker},
		{"Mage", 80, 0.3, 20, 25, CapHealable | CapAttacker},
		{"Wall", 200, 0.3, 0, 20, CapHealable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats, err := cat.Lookup(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.hp, stats.Health)
			assert.Equal(t, tt.prot, stats.Protection)
			assert.Equal(t, tt.damage, stats.Damage)
			assert.Equal(t, tt.cost, stats.Cost)
			assert.Equal(t, tt.caps, stats.Capabilities)
		})
	}
}

func TestCatalogLookupIsCaseInsensitive(t *testing.T) {
	cat, err := DefaultCatalog()
	require.NoError(t, err)

	stats, err := cat.Lookup("  strongfighter ")
	require.NoError(t, err)
	assert.Equal(t, ArchetypeStrongFighter, stats.Archetype)

	_, err = cat.Lookup("Dragon")
	assert.ErrorIs(t, err, ErrUnknownArchetype)
}

func TestParseCatalogRejectsBadEntries(t *testing.T) {
	_, err := ParseCatalog([]byte("archetypes: []"))
	assert.Error(t, err)

	_, err = ParseCatalog([]byte(`
archetypes:
  - name: Glass
    health: 10
    protection: 1.0
`))
	assert.ErrorContains(t, err, "protection")

	_, err = ParseCatalog([]byte(`
archetypes:
  - name: Odd
    health: 10
    special: teleport
`))
	assert.ErrorContains(t, err, "teleport")

	_, err = ParseCatalog([]byte(`
archetypes:
  - name: A
    health: 10
  - name: a
    health: 10
`))
	assert.ErrorContains(t, err, "duplicate")
}

func TestCheapestSkipsObstacles(t *testing.T) {
	cat, err := DefaultCatalog()
	require.NoError(t, err)

	cheapest, ok := cat.Cheapest()
	require.True(t, ok)
	assert.Equal(t, ArchetypeWeakFighter, cheapest.Archetype)
	for _, s := range cat.Purchasable() {
		assert.NotEqual(t, ArchetypeWall, s.Archetype)
	}
}

func TestFactoryCreateAssignsIncreasingIDs(t *testing.T) {
	f := newTestFactory(t)

	a, err := f.Create("Archer")
	require.NoError(t, err)
	b, err := f.Create("Healer")
	require.NoError(t, err)

	assert.Equal(t, 1, a.ID)
	assert.Equal(t, 2, b.ID)
	assert.Equal(t, a.MaxHealth, a.Health)
	assert.Nil(t, a.Team())

	_, err = f.Create("Dragon")
	assert.ErrorIs(t, err, ErrUnknownArchetype)
}

func TestFactoryRestoreAdvancesAllocator(t *testing.T) {
	f := newTestFactory(t)

	u, err := f.Restore("Mage", 41, "Merlin")
	require.NoError(t, err)
	assert.Equal(t, 41, u.ID)
	assert.Equal(t, "Merlin", u.Name)

	next, err := f.Create("Mage")
	require.NoError(t, err)
	assert.Equal(t, 42, next.ID)

	_, err = f.Restore("Mage", 0, "")
	assert.Error(t, err)
}

func TestFactoryClone(t *testing.T) {
	f := newTestFactory(t)
	team := NewTeam("Red", 100, nil)

	src, err := f.Create("WeakFighter")
	require.NoError(t, err)
	require.True(t, team.AddFighter(src))
	src.Health = 12
	src.BuffApplied = true
	src.UsedSpecial = true

	clone := f.Clone(src)
	assert.NotEqual(t, src.ID, clone.ID)
	assert.Equal(t, src.Name+"_clone", clone.Name)
	assert.Equal(t, clone.MaxHealth, clone.Health)
	assert.False(t, clone.BuffApplied)
	assert.False(t, clone.UsedSpecial)
	assert.Nil(t, clone.Team())
	assert.True(t, clone.Has(CapClonable))
}

func TestIDAllocatorReserveNeverMovesBackwards(t *testing.T) {
	ids := NewIDAllocator()
	ids.Reserve(10)
	ids.Reserve(3)
	assert.Equal(t, 11, ids.Next())
	assert.Equal(t, 11, ids.Last())
}

func TestBuffProtectionRules(t *testing.T) {
	f := newTestFactory(t)
	archer, err := f.Create("Archer")
	require.NoError(t, err)
	knight, err := f.Create("StrongFighter")
	require.NoError(t, err)

	assert.Equal(t, 0.5, Buff{Kind: BuffSpear}.Protection(0.5, knight))
	assert.InDelta(t, 0.7, Buff{Kind: BuffHorse}.Protection(0.5, knight), 1e-9)
	assert.InDelta(t, 0.8, Buff{Kind: BuffShield}.Protection(0.5, knight), 1e-9)
	assert.Equal(t, 0.5, Buff{Kind: BuffHelmet}.Protection(0.5, knight))
	assert.InDelta(t, 0.9, Buff{Kind: BuffHelmet}.Protection(0.5, archer), 1e-9)

	// clamp to [0.1, 0.95]
	assert.InDelta(t, 0.95, Buff{Kind: BuffHelmet}.Protection(0.9, archer), 1e-9)
	assert.InDelta(t, 0.1, Buff{Kind: BuffShield}.Protection(-0.5, knight), 1e-9)

	assert.Equal(t, 1.5, Buff{Kind: BuffSpear}.Multiplier())
	assert.Equal(t, 1.2, Buff{Kind: BuffHorse}.Multiplier())
	assert.True(t, Buff{Kind: BuffHorse}.SingleUse())
	assert.False(t, Buff{Kind: BuffShield}.SingleUse())
	assert.Equal(t, BuffHelmet, ParseBuffKind("helmet"))
	assert.Equal(t, BuffNone, ParseBuffKind("cape"))
}

func TestApplyBuffHoldsAtMostOne(t *testing.T) {
	f := newTestFactory(t)
	knight, err := f.Create("StrongFighter")
	require.NoError(t, err)
	archer, err := f.Create("Archer")
	require.NoError(t, err)

	require.NoError(t, knight.ApplyBuff(Buff{Kind: BuffSpear, GiverID: 7}))
	assert.ErrorIs(t, knight.ApplyBuff(Buff{Kind: BuffHorse}), ErrAlreadyBuffed)
	assert.Equal(t, 1.5, knight.DamageMultiplier())
	assert.ErrorIs(t, archer.ApplyBuff(Buff{Kind: BuffShield}), ErrNotBuffable)

	removed := knight.RemoveBuff()
	assert.Equal(t, 7, removed.GiverID)
	assert.False(t, knight.Buff().Active())
	assert.Equal(t, 1.0, knight.DamageMultiplier())
}

func TestMeleeDamage(t *testing.T) {
	f := newTestFactory(t)
	a, err := f.Create("StrongFighter")
	require.NoError(t, err)
	d, err := f.Create("StrongFighter")
	require.NoError(t, err)

	assert.Equal(t, 30.0, MeleeDamage(a, d))

	wall, err := f.Create("Wall")
	require.NoError(t, err)
	// zero base damage still deals the floor
	assert.Equal(t, 1.0, MeleeDamage(wall, d))

	require.NoError(t, a.ApplyBuff(Buff{Kind: BuffSpear}))
	assert.Equal(t, 45.0, MeleeDamage(a, d))
}

func TestHealthClamps(t *testing.T) {
	f := newTestFactory(t)
	u, err := f.Create("Healer")
	require.NoError(t, err)

	assert.Equal(t, 70.0, u.TakeDamage(500))
	assert.Equal(t, 0.0, u.Health)
	assert.False(t, u.Alive())

	u.SetHealth(65)
	assert.Equal(t, 5.0, u.Heal(50))
	assert.Equal(t, u.MaxHealth, u.Health)
}

func TestTeamBudget(t *testing.T) {
	f := newTestFactory(t)
	log := narration.New(nil)
	team := NewTeam("Blue", 45, log)

	knight, _ := f.Create("StrongFighter")
	squire, _ := f.Create("WeakFighter")
	archer, _ := f.Create("Archer")

	assert.True(t, team.AddFighter(knight))
	assert.True(t, team.AddFighter(squire)) // exactly affordable
	assert.Equal(t, 0.0, team.Budget())
	assert.False(t, team.AddFighter(archer))
	assert.Equal(t, 2, team.Len())
	assert.Contains(t, log.Lines()[0], "cannot afford")

	assert.True(t, team.Dismiss(squire))
	assert.Equal(t, 15.0, team.Budget())
	assert.Nil(t, squire.Team())
}

func TestTeamInsertionPreservesOrder(t *testing.T) {
	f := newTestFactory(t)
	team := NewTeam("Blue", 1000, nil)
	var roster []*Unit
	for i := 0; i < 3; i++ {
		u, _ := f.Create("WeakFighter")
		require.True(t, team.AddFighter(u))
		roster = append(roster, u)
	}

	extra, _ := f.Create("Mage")
	team.AddFighterAt(1, extra)
	assert.Equal(t, []*Unit{roster[0], extra, roster[1], roster[2]}, team.Fighters())
	assert.Equal(t, team, extra.Team())

	tail, _ := f.Create("Mage")
	team.AddFighterAt(99, tail)
	assert.Equal(t, tail, team.At(team.Len()-1))

	head, _ := f.Create("Mage")
	team.AddFighterAt(-3, head)
	assert.Equal(t, head, team.NextFighter())

	assert.Equal(t, 2, team.RemoveFighter(extra))
	assert.Equal(t, -1, team.RemoveFighter(extra))
	assert.Equal(t, []*Unit{head, roster[0], roster[1], roster[2], tail}, team.Fighters())
}

func TestTeamLivingAndReset(t *testing.T) {
	f := newTestFactory(t)
	team := NewTeam("Blue", 1000, nil)
	knight, _ := f.Create("StrongFighter")
	squire, _ := f.Create("WeakFighter")
	team.AddFighter(knight)
	team.AddFighter(squire)

	squire.Health = 0
	squire.BuffApplied = true
	knight.UsedSpecial = true
	require.NoError(t, knight.ApplyBuff(Buff{Kind: BuffShield}))

	assert.Equal(t, []*Unit{knight}, team.LivingFighters())

	team.ResetForNewBattle()
	assert.Len(t, team.LivingFighters(), 2)
	assert.False(t, squire.BuffApplied)
	assert.False(t, knight.UsedSpecial)
	assert.False(t, knight.Buff().Active())

	empty := NewTeam("Nobody", 0, nil)
	assert.Nil(t, empty.NextFighter())
	assert.False(t, empty.HasFighters())
}

func TestRandomRosterStaysInBudget(t *testing.T) {
	f := newTestFactory(t)
	for seed := int64(1); seed <= 20; seed++ {
		team := NewTeam("Random", 100, nil)
		require.NoError(t, RandomRoster(f, dice.New(seed), team))
		assert.True(t, team.HasFighters())
		assert.GreaterOrEqual(t, team.Budget(), 0.0)
		for _, u := range team.Fighters() {
			assert.NotEqual(t, ArchetypeWall, u.Archetype)
		}
	}
}

func TestRandomRosterFallbackAndFailure(t *testing.T) {
	f := newTestFactory(t)

	// Only the squire fits a budget of 15.
	team := NewTeam("Poor", 15, nil)
	require.NoError(t, RandomRoster(f, dice.NewSequence(4), team))
	require.Equal(t, 1, team.Len())
	assert.Equal(t, ArchetypeWeakFighter, team.NextFighter().Archetype)

	broke := NewTeam("Broke", 5, nil)
	assert.Error(t, RandomRoster(f, dice.New(1), broke))
}
