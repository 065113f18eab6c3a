package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/sectorkv/cmd/util"
	"github.com/ValentinKolb/sectorkv/cmd/world"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "sectorkv",
		Short: "sector chunked world storage",
		Long: fmt.Sprintf(`sectorkv (v%s)

A storage engine for large tile worlds written in Go. Worlds are split into
sectors that are loaded, generated and evicted on demand and persisted in a
single key-value file.`, Version),
		SilenceUsage:      true,
		PersistentPreRunE: setupLogging,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of sectorkv",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("sectorkv v%s\n", Version)
		},
	}
)

func init() {
	// run the persistent hooks of every parent, not only the nearest one
	cobra.EnableTraverseRunHooks = true

	// initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(world.WorldCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "log-level"
	RootCmd.PersistentFlags().String(key, "info", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// setupLogging installs the loggers before any command runs
func setupLogging(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlag("log-level", cmd.Flags().Lookup("log-level")); err != nil {
		return err
	}
	return util.InitLoggers(viper.GetString("log-level"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
