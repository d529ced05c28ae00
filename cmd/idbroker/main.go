package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	// Load .env if present; env-only deployments just skip it.
	_ = godotenv.Load()

	var configPath string

	root := &cobra.Command{
		Use:   "idbroker",
		Short: "Identity federation and session broker",
	}
	root.PersistentFlags().StringVar(&configPath, "config", envOr("IDBROKER_CONFIG", ""), "Path to YAML config (env IDBROKER_CONFIG)")

	root.AddCommand(newServeCmd(&configPath))
	root.AddCommand(newWipeCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
