package scan

import (
	"context"
	"fmt"
	"log/slog"
)

const killNonItems = "kill @e[type=!player,type=!item,type=!item_display,type=!text_display]"

// leanCommands quiet a world for scanning: no spawning, weather, daylight,
// random ticks or fire spread.
var leanCommands = []string{
	"gamerule doMobSpawning false",
	"gamerule doWeatherCycle false",
	"gamerule doDaylightCycle false",
	"gamerule randomTickSpeed 0",
	"gamerule doFireTick false",
	"gamerule doPatrolSpawning false",
	"gamerule doTraderSpawning false",
	"gamerule doInsomnia false",
	"gamerule disableRaids true",
	"gamerule doWardenSpawning false",
	"gamerule spectatorsGenerateChunks false",
	"gamerule announceAdvancements false",
	"time set day",
	"weather clear 1000000",
	killNonItems,
}

// ApplyLeanProfile applies the lean runtime profile to each space.
// Commands the server does not know (gamerules missing from its version)
// are skipped. Transport errors are returned.
func ApplyLeanProfile(ctx context.Context, exec Executor, spaces []string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if len(spaces) == 0 {
		spaces = []string{DefaultSpace}
	}

	for _, cmd := range []string{"difficulty peaceful", killNonItems} {
		if _, err := exec.Execute(ctx, cmd); err != nil {
			return fmt.Errorf("lean profile: %w", err)
		}
	}

	seen := make(map[string]bool)
	skipped := 0
	for _, space := range spaces {
		if seen[space] {
			continue
		}
		seen[space] = true
		for _, cmd := range leanCommands {
			resp, err := exec.Execute(ctx, "execute in "+space+" run "+cmd)
			if err != nil {
				return fmt.Errorf("lean profile %s: %w", space, err)
			}
			if LooksUnknown(resp) {
				skipped++
			}
		}
	}
	logger.Info("lean profile applied", "spaces", len(seen), "skipped", skipped)
	return nil
}
