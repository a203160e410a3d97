package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/evsim/app"
	"github.com/kilianp07/evsim/config"
	"github.com/kilianp07/evsim/infra/logger"
)

var affluenceCmd = &cobra.Command{
	Use:   "affluence <hour>",
	Short: "Query the demand oracle for an hour of day",
	Args:  cobra.ExactArgs(1),
	RunE:  runAffluence,
}

func init() {
	rootCmd.AddCommand(affluenceCmd)
}

func runAffluence(cmd *cobra.Command, args []string) error {
	hour, err := strconv.Atoi(args[0])
	if err != nil || hour < 0 || hour > 23 {
		return fmt.Errorf("hour must be an integer in [0, 23], got %q", args[0])
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	oracle, err := app.NewOracle(cfg, logger.NewZerologLogger("gateway", logger.Options{Level: cfg.Logging.Level}))
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()
	n, err := oracle.Affluence(ctx, hour)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%02d:00 %d\n", hour, n)
	return err
}
