package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexkeeper/pkg/keeper"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Open all indexes and serve until interrupted",
		Long: `Open every index under the data directory, recovering or resetting any
left in an inconsistent state, then keep them live with background
lifecycle sweeps until SIGINT or SIGTERM.`,
		Example: `  # Serve the default data directory
  indexkeeper run

  # Serve a specific data directory
  indexkeeper run --data-dir /var/lib/indexkeeper`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd)
		},
	}
	return cmd
}

func runServe(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	k, err := keeper.New(cfg, nil)
	if err != nil {
		return err
	}

	failures, err := k.Start(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	for name, ferr := range failures {
		fmt.Fprintf(cmd.ErrOrStderr(), "index %s failed to open: %v\n", name, ferr)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "indexkeeper serving %d indexes from %s\n",
		k.Registry().Len(), cfg.Storage.DataDir)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", slog.String("signal", sig.String()))
	case <-cmd.Context().Done():
	}

	return k.Close()
}
