package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/evsim/config"
	"github.com/kilianp07/evsim/infra/history"
	"github.com/kilianp07/evsim/pkg/export"
)

var (
	historyRunID  string
	historyCarID  int
	historyFormat string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Export persisted run history",
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyRunID, "run-id", "", "only this run")
	historyCmd.Flags().IntVar(&historyCarID, "car-id", 0, "only this car")
	historyCmd.Flags().StringVarP(&historyFormat, "format", "f", export.FormatJSON, "json or csv")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store, err := history.NewStore(cfg.History)
	if err != nil {
		return err
	}
	if store == nil {
		return fmt.Errorf("history backend disabled in %s", cfgPath)
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	recs, err := store.Query(ctx, history.Query{RunID: historyRunID, CarID: historyCarID})
	if err != nil {
		return err
	}
	return export.Write(cmd.OutOrStdout(), historyFormat, recs)
}
