// Command pressuredash serves the live pressure dashboard.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var configDir string

func main() {
	cobra.CheckErr(newRootCmd().Execute())
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pressuredash",
		Short:         "Live dashboard for a wireless pressure sensor",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cobra.OnInitialize(initDotEnv)

	root.PersistentFlags().StringVar(&configDir, "config", "", "directory containing config.yaml")
	root.AddCommand(
		newServeCmd(),
		newPortsCmd(),
		newVersionCmd(),
	)
	return root
}

// initDotEnv loads environment variables from .env file.
func initDotEnv() {
	if _, err := os.Stat(".env"); err != nil {
		return
	}
	if err := godotenv.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "Error loading .env file: %v\n", err)
		os.Exit(1)
	}
}
