package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/plantops/plantsync/internal/admin"
	"github.com/plantops/plantsync/internal/backend"
	"github.com/plantops/plantsync/internal/daemon"
	"github.com/plantops/plantsync/internal/gateway"
	"github.com/plantops/plantsync/internal/realtime"
	"github.com/plantops/plantsync/internal/runtime"
	"github.com/plantops/plantsync/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync daemon and admin surface",
	Long: `Run the long-lived process for the resolved mode.

In local mode this opens the embedded database, imports master data,
subscribes to the realtime channel and serves the admin endpoints. In
backend mode it proxies the hosted API and serves the same endpoints.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := detectMode()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		switch mode {
		case runtime.ModeLocal:
			return serveLocal(ctx)
		case runtime.ModeBackend:
			return serveBackend(ctx)
		default:
			return fmt.Errorf("cannot serve in mode %s", mode)
		}
	},
}

func serveLocal(ctx context.Context) error {
	stores := store.NewConnector(runtime.ModeLocal, dataDir)

	var chConn *realtime.Connector
	if url := viper.GetString("realtime.url"); url != "" {
		chConn = realtime.NewConnector(realtime.Config{
			URL:       url,
			AccessKey: viper.GetString("realtime.access_key"),
			Logger:    componentLogger("realtime"),
		}, componentLogger("realtime"))
	}

	cfg := gateway.Config{
		Mode: runtime.ModeLocal,
		Local: func(ctx context.Context) (gateway.LocalStore, error) {
			s, err := stores.Get(ctx)
			if err != nil {
				return nil, err
			}
			return s, nil
		},
		Logger: componentLogger("gateway"),
	}
	if chConn != nil {
		cfg.Channel = func(ctx context.Context) (gateway.Publisher, error) {
			c, err := chConn.Get(ctx)
			if err != nil {
				return nil, err
			}
			return c, nil
		}
	}
	gw, err := gateway.New(cfg)
	if err != nil {
		return err
	}

	adminSrv := admin.NewServer(gw, nil, &admin.Config{
		Port:   viper.GetInt("admin.port"),
		Logger: componentLogger("admin"),
	})
	if err := adminSrv.Start(); err != nil {
		return err
	}
	defer func() { _ = adminSrv.Stop() }()

	masterDir := filepath.Join(dataDir, "master-data")
	d, err := daemon.New(gw, stores, chConn, masterDir, &daemon.Config{
		DebounceInterval: daemon.DefaultConfig().DebounceInterval,
		Logger:           componentLogger("daemon"),
	})
	if err != nil {
		return err
	}
	return d.Start(ctx)
}

func serveBackend(ctx context.Context) error {
	client := backend.New(viper.GetString("backend.url"))

	gw, err := gateway.New(gateway.Config{
		Mode:   runtime.ModeBackend,
		Remote: client,
		Logger: componentLogger("gateway"),
	})
	if err != nil {
		return err
	}

	adminSrv := admin.NewServer(gw, client.FetchDump, &admin.Config{
		Port:   viper.GetInt("admin.port"),
		Logger: componentLogger("admin"),
	})
	if err := adminSrv.Start(); err != nil {
		return err
	}
	defer func() { _ = adminSrv.Stop() }()

	<-ctx.Done()
	return nil
}
