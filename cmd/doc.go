// Package cmd implements the command-line interface of sectorkv. It provides
// commands to create world files and to generate, simulate and inspect them
// with a built-in demo generator.
//
// The package is organized into several subpackages:
//
//   - world: Commands operating on a world file (create, info, generate, simulate,
//     find, dump, export, import)
//   - util: Shared utilities for flags, configuration and logging (internal use)
//
// Every flag can also be set through an environment variable SECTORKV_<FLAG>
// (e.g. SECTORKV_LOG_LEVEL=debug), optionally read from .env or .env.local.
//
// See sectorkv -help for a list of all commands.
package cmd
