package world

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/jackzampolin/lootscan/internal/jobs"
)

// locateSearchRadius is the region radius of a vanilla locate.
const locateSearchRadius = 100

// HandleCommand answers the vanilla commands the scanner issues: positioned
// locate, the lean-profile gamerules and a few no-op world commands.
func (s *Sim) HandleCommand(_ context.Context, line string) string {
	fields := strings.Fields(strings.TrimPrefix(strings.TrimSpace(line), "/"))
	if len(fields) == 0 {
		return ""
	}

	switch fields[0] {
	case "execute":
		return s.execute(fields[1:])
	case "locate":
		if len(fields) == 3 && fields[1] == "structure" {
			return s.locate(Overworld, fields[2], 0, 0)
		}
	case "gamerule":
		if len(fields) == 3 {
			return fmt.Sprintf("Gamerule %s is now set to: %s", fields[1], fields[2])
		}
	case "difficulty":
		if len(fields) == 2 {
			return "The difficulty has been set to " + fields[1]
		}
	case "kill":
		return "No entity was found"
	case "time", "weather", "setworldspawn", "save-off", "save-on", "save-all":
		return "Done"
	case "list":
		return "There are 0 of a max of 20 players online:"
	}
	return "Unknown or incomplete command, see below for error"
}

// execute handles "in <space> positioned <x> <y> <z> run <command...>".
func (s *Sim) execute(args []string) string {
	space := Overworld
	x, z := 0, 0
	for len(args) > 0 {
		switch args[0] {
		case "in":
			if len(args) < 2 {
				return "Unknown or incomplete command, see below for error"
			}
			space = args[1]
			args = args[2:]
		case "positioned":
			if len(args) < 4 {
				return "Unknown or incomplete command, see below for error"
			}
			px, errX := strconv.Atoi(args[1])
			pz, errZ := strconv.Atoi(args[3])
			if errX != nil || errZ != nil {
				return "Invalid position"
			}
			x, z = px, pz
			args = args[4:]
		case "run":
			rest := args[1:]
			if len(rest) == 3 && rest[0] == "locate" && rest[1] == "structure" {
				return s.locate(space, rest[2], x, z)
			}
			return s.HandleCommand(context.Background(), strings.Join(rest, " "))
		default:
			return "Unknown or incomplete command, see below for error"
		}
	}
	return "Unknown or incomplete command, see below for error"
}

func (s *Sim) locate(space, id string, x, z int) string {
	if _, ok := s.structures[space]; !ok {
		return "Unknown dimension '" + space + "'"
	}
	if s.Variants(id) == nil || id == VillageID {
		return fmt.Sprintf("There is no structure with type \"%s\"", id)
	}
	pos, ok := s.LocateNearest(space, id, x, z, locateSearchRadius)
	if !ok {
		return fmt.Sprintf("Could not find a structure of type \"%s\" nearby", id)
	}
	dist := int(math.Round(math.Hypot(float64(pos.X-x), float64(pos.Z-z))))
	return fmt.Sprintf("The nearest %s is at [%d, ~, %d] (%d blocks away)", id, pos.X, pos.Z, dist)
}

var _ jobs.Locator = (*Sim)(nil)
