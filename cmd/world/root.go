package world

import (
	"os"

	"github.com/ValentinKolb/sectorkv/cmd/util"
	"github.com/ValentinKolb/sectorkv/lib/world"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

var (
	// WorldCommands represents the world command group
	WorldCommands = &cobra.Command{
		Use:               "world",
		Short:             "Create, generate and inspect world files",
		PersistentPreRunE: setupWorldConfig,
	}
)

func init() {
	// add the storage flags to all world commands
	util.SetupWorldFlags(WorldCommands)

	// add subcommands
	WorldCommands.AddCommand(createCmd)
	WorldCommands.AddCommand(infoCmd)
	WorldCommands.AddCommand(generateCmd)
	WorldCommands.AddCommand(simulateCmd)
	WorldCommands.AddCommand(findCmd)
	WorldCommands.AddCommand(dumpCmd)
	WorldCommands.AddCommand(exportCmd)
	WorldCommands.AddCommand(importCmd)
}

// setupWorldConfig binds the flags of the executed command to viper
func setupWorldConfig(cmd *cobra.Command, _ []string) error {
	return util.BindCommandFlags(cmd)
}

// demoOptions returns the configured options wired to a fresh demo generator
func demoOptions() (*world.Options, *demoGenerator) {
	gen := newDemoGenerator()
	opts := util.GetWorldOptions()
	opts.Generator = gen
	opts.Factory = demoFactory{}
	opts.Validator = knownTiles{}
	opts.Fallbacks = world.TileFallbacks{Material: materialStone, Mod: 0, Liquid: liquidNone}
	return opts, gen
}

// openWorld opens the configured world file with the demo generator
func openWorld() (*world.Storage, *os.File, error) {
	path := util.GetWorldFile()
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open world file %s", path)
	}

	opts, gen := demoOptions()
	s, err := world.OpenExisting(f, opts)
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	gen.bind(s)
	return s, f, nil
}

// closeWorld closes storage and file, returning the first error
func closeWorld(s *world.Storage, f *os.File) error {
	err := s.Close()
	if ferr := f.Close(); err == nil {
		err = ferr
	}
	return err
}
