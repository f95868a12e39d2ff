package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/plantops/plantsync/internal/backend"
	"github.com/plantops/plantsync/internal/gateway"
	"github.com/plantops/plantsync/internal/runtime"
	"github.com/plantops/plantsync/internal/store"
	"github.com/plantops/plantsync/internal/ui"
)

var clearForce bool

var clearRemoteCmd = &cobra.Command{
	Use:   "clear-remote",
	Short: "Wipe the hosted database",
	Long: `Delete every record from the hosted database, children before
the equipments that own them. Only available in backend mode; a local
instance has no remote state to clear and refuses the operation
instead of silently succeeding.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := detectMode()
		if err != nil {
			return err
		}

		cfg := gateway.Config{
			Mode:   mode,
			Logger: componentLogger("gateway"),
		}
		switch mode {
		case runtime.ModeBackend:
			cfg.Remote = backend.New(viper.GetString("backend.url"))
		case runtime.ModeLocal:
			stores := store.NewConnector(runtime.ModeLocal, dataDir)
			defer func() { _ = stores.Close() }()
			cfg.Local = func(ctx context.Context) (gateway.LocalStore, error) {
				s, err := stores.Get(ctx)
				if err != nil {
					return nil, err
				}
				return s, nil
			}
		}

		gw, err := gateway.New(cfg)
		if err != nil {
			return err
		}

		if mode == runtime.ModeBackend && !clearForce {
			return fmt.Errorf("refusing to wipe the hosted database without --force")
		}

		err = gw.ClearRemote(context.Background())
		if errors.Is(err, gateway.ErrUnavailableInMode) {
			fmt.Printf("%s Operation unavailable in this environment\n", ui.Warn("⚠"))
			fmt.Println(ui.Faint("  This instance runs in local mode; there is no remote state to clear."))
			return nil
		}
		if err != nil {
			return err
		}

		fmt.Printf("%s Hosted database cleared\n", ui.OK("✓"))
		return nil
	},
}

func init() {
	clearRemoteCmd.Flags().BoolVar(&clearForce, "force", false, "Skip the confirmation guard")
}
