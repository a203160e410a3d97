package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/evsim/app"
	"github.com/kilianp07/evsim/config"
	"github.com/kilianp07/evsim/infra/logger"
	"github.com/kilianp07/evsim/pkg/report"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one simulation to completion",
	RunE:  runSimulation,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the simulation HTTP API, websocket and metrics",
	RunE:  serve,
}

var reportPath string

func init() {
	runCmd.Flags().StringVar(&reportPath, "report", "", "write an HTML chart report of the run to this file")
	rootCmd.AddCommand(runCmd, serveCmd)
}

func newService(opts ...app.Option) (*app.Service, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return app.New(cfg, opts...)
}

func closeService(svc *app.Service) {
	if err := svc.Close(); err != nil {
		logger.New("main").Errorf("service close: %v", err)
	}
}

func runSimulation(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []app.Option
	var rep *report.Report
	if reportPath != "" {
		rep = report.New()
		opts = append(opts, app.WithStepSink(rep))
	}
	svc, err := newService(opts...)
	if err != nil {
		return err
	}
	defer closeService(svc)
	if err := svc.RunOnce(ctx); err != nil {
		return err
	}
	if rep != nil {
		if err := rep.WriteFile(reportPath); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	snap, err := svc.Sim.Snapshot()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "run %s finished after %d steps, %.2f kWh delivered\n",
		snap.RunID, snap.Step, snap.CumulativeKWh)
	return err
}

func serve(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := newService()
	if err != nil {
		return err
	}
	defer closeService(svc)
	return svc.Serve(ctx)
}
