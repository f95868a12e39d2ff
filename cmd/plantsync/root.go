package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/plantops/plantsync/internal/runtime"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	cfgFile  string
	modeFlag string
	dataDir  string
)

var rootCmd = &cobra.Command{
	Use:   "plantsync",
	Short: "plantsync - local-first plant data synchronization",
	Long: `Keeps plant equipment, alarm, procedure and logbook data consistent
across instances. Runs in one of two modes:

  local    the process owns an embedded database and exchanges change
           events with peers over the relay
  backend  the process talks to the centrally hosted API and holds no
           local database`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Priority: flags > config file + PLANTSYNC_* env > defaults.
		if !cmd.Flags().Changed("mode") {
			modeFlag = viper.GetString("mode")
		}
		if !cmd.Flags().Changed("data-dir") {
			if v := viper.GetString("data_dir"); v != "" {
				dataDir = v
			}
		}
		setupLogging()
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: plantsync.yaml in data dir or cwd)")
	rootCmd.PersistentFlags().StringVar(&modeFlag, "mode", "", "Runtime mode: local, backend, or auto")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", defaultDataDir(), "Directory holding the embedded database and master data")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(relayCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(clearRemoteCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("plantsync")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath(defaultDataDir())
	}

	viper.SetEnvPrefix("PLANTSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("mode", "auto")
	viper.SetDefault("desktop", false)
	viper.SetDefault("backend.url", "")
	viper.SetDefault("realtime.url", "")
	viper.SetDefault("realtime.access_key", "")
	viper.SetDefault("admin.port", 8799)
	viper.SetDefault("relay.port", 8710)
	viper.SetDefault("relay.access_key", "")
	viper.SetDefault("log.file", "")

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; env and flags still apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "Warning: failed to read config: %v\n", err)
		}
	}
}

// setupLogging routes the component loggers to a rotated file when one
// is configured; otherwise they stay on stderr.
func setupLogging() {
	logFile := viper.GetString("log.file")
	if logFile == "" {
		return
	}
	log.SetOutput(&lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    20, // MB
		MaxBackups: 3,
		MaxAge:     14, // days
		Compress:   true,
	})
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".plantsync"
	}
	return filepath.Join(home, ".plantsync")
}

// detectMode resolves the runtime mode from the merged configuration.
func detectMode() (runtime.Mode, error) {
	return runtime.Detect(runtime.Config{
		Mode:       modeFlag,
		Desktop:    viper.GetBool("desktop"),
		BackendURL: viper.GetString("backend.url"),
	})
}

func componentLogger(prefix string) *log.Logger {
	return log.New(log.Writer(), "["+prefix+"] ", log.LstdFlags)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("plantsync version %s\n", Version)
	},
}
