package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/plantops/plantsync/internal/daemon"
	"github.com/plantops/plantsync/internal/gateway"
	"github.com/plantops/plantsync/internal/runtime"
	"github.com/plantops/plantsync/internal/store"
	"github.com/plantops/plantsync/internal/ui"
)

var importCmd = &cobra.Command{
	Use:   "import [dir]",
	Short: "Import master-data JSON into the local store",
	Long: `One-shot import of the bundled master dataset (equipment,
components, alarms, procedures) into the embedded database. Defaults
to the master-data directory under the data dir.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := detectMode()
		if err != nil {
			return err
		}
		if mode != runtime.ModeLocal {
			return fmt.Errorf("import writes the embedded database and requires local mode")
		}

		masterDir := filepath.Join(dataDir, "master-data")
		if len(args) == 1 {
			masterDir = args[0]
		}

		stores := store.NewConnector(runtime.ModeLocal, dataDir)
		defer func() { _ = stores.Close() }()

		gw, err := gateway.New(gateway.Config{
			Mode: runtime.ModeLocal,
			Local: func(ctx context.Context) (gateway.LocalStore, error) {
				s, err := stores.Get(ctx)
				if err != nil {
					return nil, err
				}
				return s, nil
			},
			Logger: componentLogger("gateway"),
		})
		if err != nil {
			return err
		}

		d, err := daemon.New(gw, stores, nil, masterDir, &daemon.Config{
			Logger: componentLogger("import"),
		})
		if err != nil {
			return err
		}

		ctx := context.Background()
		if err := d.ImportAll(ctx); err != nil {
			return err
		}

		s, err := stores.Get(ctx)
		if err != nil {
			return err
		}
		counts, err := s.Counts(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("%s Import complete\n", ui.OK("✓"))
		for _, table := range []string{"equipments", "components", "alarms", "procedures"} {
			fmt.Println(ui.Row(table, counts[table]))
		}
		return nil
	},
}
