package abilities

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/queuefight/queuefight-server/internal/game/commands"
	"github.com/queuefight/queuefight-server/internal/game/dice"
	"github.com/queuefight/queuefight-server/internal/game/narration"
	"github.com/queuefight/queuefight-server/internal/game/units"
)

type recorder struct {
	cmds []commands.Command
}

func (r *recorder) Execute(cmd commands.Command) {
	cmd.Execute()
	r.cmds = append(r.cmds, cmd)
}

type panicker struct{}

func (panicker) Execute(commands.Command) { panic("boom") }

type board struct {
	factory *units.Factory
	own     *units.Team
	enemy   *units.Team
	log     *narration.Log
	rec     *recorder
}

func newBoard(t *testing.T) *board {
	cat, err := units.DefaultCatalog()
	require.NoError(t, err)
	log := narration.New(nil)
	return &board{
		factory: units.NewFactory(cat, nil),
		own:     units.NewTeam("Own", 10000, log),
		enemy:   units.NewTeam("Enemy", 10000, log),
		log:     log,
		rec:     &recorder{},
	}
}

func (b *board) add(t *testing.T, team *units.Team, archetype string) *units.Unit {
	u, err := b.factory.Create(archetype)
	require.NoError(t, err)
	require.True(t, team.AddFighter(u))
	return u
}

func (b *board) ctx(t *testing.T, rng dice.Source) Context {
	return Context{
		Own:     b.own,
		Enemy:   b.enemy,
		Rand:    rng,
		Log:     b.log,
		Exec:    b.rec,
		Factory: b.factory,
		Logger:  zaptest.NewLogger(t),
	}
}

func TestBuffTargetsNearestBuffableLowerIndexFirst(t *testing.T) {
	b := newBoard(t)
	left := b.add(t, b.own, "StrongFighter")
	squire := b.add(t, b.own, "WeakFighter")
	right := b.add(t, b.own, "StrongFighter")

	require.NoError(t, Resolve(squire, b.ctx(t, dice.NewSequence(0))))
	require.Len(t, b.rec.cmds, 1)
	assert.Equal(t, units.BuffSpear, left.Buff().Kind)
	assert.False(t, right.Buff().Active())
	assert.True(t, squire.BuffApplied)
	assert.True(t, squire.UsedSpecial)
}

func TestBuffOutOfRange(t *testing.T) {
	b := newBoard(t)
	squire := b.add(t, b.own, "WeakFighter")
	b.add(t, b.own, "Healer")
	b.add(t, b.own, "StrongFighter")

	require.NoError(t, Resolve(squire, b.ctx(t, dice.NewSequence(0))))
	assert.Empty(t, b.rec.cmds)
	assert.Contains(t, b.log.Lines(), squire.Name+" finds no one to buff")
}

func TestArmedBufferDoesNotRoll(t *testing.T) {
	b := newBoard(t)
	squire := b.add(t, b.own, "WeakFighter")
	b.add(t, b.own, "StrongFighter")
	squire.BuffApplied = true

	seq := dice.NewSequence(0)
	require.NoError(t, Resolve(squire, b.ctx(t, seq)))
	assert.Empty(t, b.rec.cmds)
	assert.Equal(t, 0, seq.Calls())
}

func TestSpecialResolvesOncePerRound(t *testing.T) {
	b := newBoard(t)
	archer := b.add(t, b.own, "Archer")
	b.add(t, b.enemy, "StrongFighter")

	ctx := b.ctx(t, dice.NewSequence(0))
	require.NoError(t, Resolve(archer, ctx))
	require.NoError(t, Resolve(archer, ctx))
	assert.Len(t, b.rec.cmds, 1)
}

func TestFailedRollStillConsumesSpecial(t *testing.T) {
	b := newBoard(t)
	healer := b.add(t, b.own, "Healer")
	ally := b.add(t, b.own, "StrongFighter")
	ally.Health = 10

	require.NoError(t, Resolve(healer, b.ctx(t, dice.NewSequence(40))))
	assert.Empty(t, b.rec.cmds)
	assert.True(t, healer.UsedSpecial)
}

func TestHealPicksLowestWoundedNeighbour(t *testing.T) {
	b := newBoard(t)
	left := b.add(t, b.own, "StrongFighter")
	healer := b.add(t, b.own, "Healer")
	right := b.add(t, b.own, "Archer")
	far := b.add(t, b.own, "Archer")
	left.Health = 50
	right.Health = 30
	far.Health = 1
	healer.Health = 5

	// roll 0 passes the 40% check, then heal 10
	require.NoError(t, Resolve(healer, b.ctx(t, dice.NewSequence(0, 10))))
	require.Len(t, b.rec.cmds, 1)
	assert.Equal(t, 40.0, right.Health)
	assert.Equal(t, 50.0, left.Health)
	assert.Equal(t, 5.0, healer.Health)
	assert.Equal(t, 1.0, far.Health)
}

func TestHealSkipsFullHealth(t *testing.T) {
	b := newBoard(t)
	healer := b.add(t, b.own, "Healer")
	b.add(t, b.own, "StrongFighter")

	require.NoError(t, Resolve(healer, b.ctx(t, dice.NewSequence(0))))
	assert.Empty(t, b.rec.cmds)
	assert.Contains(t, b.log.Lines(), healer.Name+" finds no one to heal")
}

func TestVolleyPicksRandomLivingEnemy(t *testing.T) {
	b := newBoard(t)
	archer := b.add(t, b.own, "Archer")
	b.add(t, b.enemy, "StrongFighter")
	second := b.add(t, b.enemy, "Healer")

	// special roll, target index 1, hit roll
	require.NoError(t, Resolve(archer, b.ctx(t, dice.NewSequence(0, 1, 0))))
	require.Len(t, b.rec.cmds, 1)
	// 15 * (1 - 0.1)
	assert.InDelta(t, 70-13.5, second.Health, 1e-9)
}

func TestArcherHitRate(t *testing.T) {
	b := newBoard(t)
	archer := b.add(t, b.own, "Archer")
	target := b.add(t, b.enemy, "Wall")
	rng := dice.New(20240611)

	const trials = 20000
	hits := 0
	for i := 0; i < trials; i++ {
		cmd := commands.NewRanged(archer, target, rng, nil)
		cmd.Execute()
		if cmd.Hit {
			hits++
		}
		cmd.Undo()
	}
	rate := float64(hits) / trials
	assert.InDelta(t, 0.70, rate, 0.015)
}

func TestCloneCopiesAdjacentClonable(t *testing.T) {
	b := newBoard(t)
	knight := b.add(t, b.own, "StrongFighter")
	mage := b.add(t, b.own, "Mage")
	archer := b.add(t, b.own, "Archer")

	require.NoError(t, Resolve(mage, b.ctx(t, dice.NewSequence(0, 0))))
	require.Len(t, b.rec.cmds, 1)
	fighters := b.own.Fighters()
	require.Len(t, fighters, 4)
	assert.Equal(t, knight, fighters[0])
	assert.Equal(t, mage, fighters[1])
	assert.Equal(t, archer.Name+"_clone", fighters[2].Name)
	assert.Equal(t, archer, fighters[3])
}

func TestCloneWithoutCandidates(t *testing.T) {
	b := newBoard(t)
	mage := b.add(t, b.own, "Mage")
	b.add(t, b.own, "StrongFighter")

	require.NoError(t, Resolve(mage, b.ctx(t, dice.NewSequence(0))))
	assert.Empty(t, b.rec.cmds)
	assert.Equal(t, 2, b.own.Len())
}

func TestResolveTeamRecoversFromPanics(t *testing.T) {
	b := newBoard(t)
	first := b.add(t, b.own, "Archer")
	second := b.add(t, b.own, "Archer")
	b.add(t, b.enemy, "StrongFighter")

	ctx := b.ctx(t, dice.NewSequence(0))
	ctx.Exec = panicker{}
	ResolveTeam(ctx)

	assert.True(t, first.UsedSpecial)
	assert.True(t, second.UsedSpecial)
	failures := 0
	for _, line := range b.log.Lines() {
		if line == first.Name+"'s special failed: panic: boom" {
			failures++
		}
	}
	assert.Equal(t, 2, failures)
}

func TestResolveTeamSkipsNewClones(t *testing.T) {
	b := newBoard(t)
	mage := b.add(t, b.own, "Mage")
	b.add(t, b.own, "WeakFighter")

	ResolveTeam(b.ctx(t, dice.NewSequence(0)))
	require.Equal(t, 3, b.own.Len())
	clone := b.own.At(1)
	assert.True(t, mage.UsedSpecial)
	assert.False(t, clone.UsedSpecial)
}
