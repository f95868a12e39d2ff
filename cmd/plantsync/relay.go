package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/plantops/plantsync/internal/relay"
	"github.com/plantops/plantsync/internal/ui"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the realtime relay hub",
	Long: `Run the self-hosted pub/sub relay that local instances exchange
change events through. Peers authenticate with the shared access key
and subscribe to per-entity topics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		key := viper.GetString("relay.access_key")
		if key == "" {
			return fmt.Errorf("relay requires an access key (relay.access_key or PLANTSYNC_RELAY_ACCESS_KEY)")
		}

		s := relay.NewServer(&relay.Config{
			Port:      viper.GetInt("relay.port"),
			AccessKey: key,
			Logger:    componentLogger("relay"),
		})
		if err := s.Start(); err != nil {
			return err
		}

		fmt.Printf("%s Relay listening on %s\n", ui.OK("✓"), s.URL())

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()

		return s.Stop()
	},
}
