package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var envFile string
	rootCmd := &cobra.Command{
		Use:          "appointment-service",
		Short:        "Clinic appointment scheduling and booking service",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional .env file read before the environment")

	rootCmd.AddCommand(serveCmd(&envFile))
	rootCmd.AddCommand(migrateCmd(&envFile))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
