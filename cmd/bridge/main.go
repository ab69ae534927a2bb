// Command bridge runs the Aerofly Bridge core outside of a real simulator
// host process, driving it with a synthetic tick source so the transport
// stack and snapshot region can be exercised standalone.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aerofly-bridge/bridge/internal/config"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "bridge",
		Short: "Aerofly Bridge - telemetry and command bridge core",
		Long:  "Drives the bridge core's on_load/on_update/on_unload cycle and exposes it over TCP, WebSocket, and shared memory.",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file (JSON or YAML, optional)")

	rootCmd.AddCommand(
		serveCmd(),
		inspectLayoutCmd(),
		sendCommandCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig builds a Config from the optional --config file, then applies
// BRIDGE_* environment overrides, matching the teacher's file-then-env
// layering for its daemon command.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}
	config.LoadFromEnv(cfg)
	return cfg, nil
}
