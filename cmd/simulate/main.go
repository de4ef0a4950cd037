// Command simulate plays one battle headlessly and prints its narration.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/queuefight/queuefight-server/internal/config"
	"github.com/queuefight/queuefight-server/internal/game"
	"github.com/queuefight/queuefight-server/internal/game/units"
	"github.com/queuefight/queuefight-server/internal/logging"
	"github.com/queuefight/queuefight-server/internal/repository"
)

var (
	configPath = flag.String("config", "config/config.yaml", "path to configuration file")
	seed       = flag.Int64("seed", 0, "random seed; overrides battle.seed when non-zero")
	firstUnits = flag.String("first", "random", "comma separated archetypes for the first team, or random")
	secondUnit = flag.String("second", "random", "comma separated archetypes for the second team, or random")
	maxRounds  = flag.Int("max-rounds", 500, "stop after this many rounds")
	saveSlot   = flag.String("save", "", "save the final battle to this slot")
)

func main() {
	flag.Parse()
	if err := run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "simulate: %v\n", err)
		os.Exit(1)
	}
}

func teamSpec(name, list string) game.TeamSpec {
	spec := game.TeamSpec{Name: name}
	if strings.EqualFold(strings.TrimSpace(list), "random") {
		spec.Random = true
		return spec
	}
	for _, a := range strings.Split(list, ",") {
		if a = strings.TrimSpace(a); a != "" {
			spec.Units = append(spec.Units, a)
		}
	}
	spec.Random = len(spec.Units) == 0
	return spec
}

func run(ctx context.Context) error {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()

	catalog, err := units.LoadCatalog(cfg.Battle.CatalogFile)
	if err != nil {
		return err
	}

	var store repository.Store
	if *saveSlot != "" {
		store, err = repository.Open(ctx, cfg.Storage, logger)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	battleSeed := cfg.Battle.Seed
	if *seed != 0 {
		battleSeed = *seed
	}
	var saves game.SaveStore
	if store != nil {
		saves = store
	}
	manager := game.NewManager(logger, units.NewFactory(catalog, nil), saves, nil, game.ManagerConfig{
		Budget:       cfg.Battle.Budget,
		MaxUndoDepth: cfg.Battle.MaxUndoDepth,
		Seed:         battleSeed,
	})

	view, err := manager.Create(ctx, teamSpec("Red", *firstUnits), teamSpec("Blue", *secondUnit))
	if err != nil {
		return err
	}
	printed := printLog(view, 0)

	for view.State != game.StateGameOver.String() && view.Round < *maxRounds {
		view, err = manager.Dispatch(ctx, view.BattleID, game.Intent{Type: game.IntentNextRound})
		if err != nil {
			return err
		}
		printed = printLog(view, printed)
	}

	if *saveSlot != "" {
		view, err = manager.Dispatch(ctx, view.BattleID, game.Intent{Type: game.IntentSave, Slot: *saveSlot})
		if err != nil {
			return err
		}
		printLog(view, printed)
	}

	logger.Info("simulation finished",
		zap.String("battle_id", view.BattleID),
		zap.Int("rounds", view.Round),
		zap.String("state", view.State),
		zap.String("winner", view.Winner),
		zap.Bool("draw", view.Draw),
	)
	return nil
}

// printLog writes the lines past from and returns the new count.
func printLog(view *game.BattleView, from int) int {
	for _, line := range view.Log[min(from, len(view.Log)):] {
		fmt.Println(line)
	}
	return len(view.Log)
}
