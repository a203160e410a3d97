package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/kilianp07/evsim/config"
)

var (
	cfgPath  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "evsim",
	Short: "EV fleet charging simulator",
	Long: `evsim simulates a fleet of electric cars sharing a pool of charging plugs.
Travels are dispatched from an hourly demand profile served by a gateway or
read from the configuration.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if logLevel != "" {
			return os.Setenv(config.EnvPrefix+"LOGGING__LEVEL", logLevel)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "configuration file (yaml or json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level")
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }
