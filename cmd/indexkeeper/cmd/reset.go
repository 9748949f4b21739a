package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexkeeper/internal/engine"
	kerrors "github.com/Aman-CERP/indexkeeper/internal/errors"
)

func newResetCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "reset <name>",
		Short: "Delete an index's data so it is rebuilt on next startup",
		Long: `Remove the named index's on-disk data, including its commit points and
suggestion extensions. The index is rebuilt from scratch next time it is
opened. Refuses to touch a live index unless --force is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			name := args[0]

			e := engine.New(cfg.Storage.DataDir, false)
			if !e.Exists(name) {
				return kerrors.NotFound(name)
			}

			stale, err := engine.DetectStaleWriteLock(e.IndexPath(name))
			if err != nil {
				return err
			}
			if !stale && !force {
				locked, lerr := engine.HasWriteLock(e.IndexPath(name))
				if lerr != nil {
					return lerr
				}
				if locked {
					return fmt.Errorf("index %q appears to be open in another process, use --force to reset anyway", name)
				}
			}

			if err := e.DeleteAll(name); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "index %q reset, it will be rebuilt on next startup\n", name)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Reset even if the index appears to be in use")
	return cmd
}
