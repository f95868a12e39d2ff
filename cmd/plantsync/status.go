package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/plantops/plantsync/internal/runtime"
	"github.com/plantops/plantsync/internal/store"
	"github.com/plantops/plantsync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the local data store status",
	Long: `Display the resolved mode and, in local mode, the embedded
database location and row counts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := detectMode()
		if err != nil {
			return err
		}

		fmt.Println(ui.Title("plantsync status"))
		fmt.Println(ui.Row("mode", mode))

		if mode == runtime.ModeBackend {
			fmt.Println(ui.Row("backend", viper.GetString("backend.url")))
			fmt.Println(ui.Faint("  No local database in backend mode."))
			return nil
		}

		dbPath := filepath.Join(dataDir, store.FileName)
		info, err := os.Stat(dbPath)
		if os.IsNotExist(err) {
			fmt.Printf("\n%s Local database not initialized\n", ui.Warn("⚠"))
			fmt.Println(ui.Faint("  Run 'plantsync serve' or 'plantsync import' to create it."))
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to stat database: %w", err)
		}

		sizeStr := fmt.Sprintf("%d bytes", info.Size())
		if info.Size() > 1024*1024 {
			sizeStr = fmt.Sprintf("%.1f MB", float64(info.Size())/(1024*1024))
		}
		fmt.Println(ui.Row("database", dbPath))
		fmt.Println(ui.Row("size", sizeStr))

		stores := store.NewConnector(runtime.ModeLocal, dataDir)
		defer func() { _ = stores.Close() }()

		ctx := context.Background()
		s, err := stores.Get(ctx)
		if err != nil {
			return err
		}
		counts, err := s.Counts(ctx)
		if err != nil {
			return err
		}

		for _, table := range []string{"equipments", "components", "alarms", "procedures", "log_entries"} {
			fmt.Println(ui.Row(table, counts[table]))
		}

		fmt.Printf("\n%s Store healthy\n", ui.OK("✓"))
		return nil
	},
}
