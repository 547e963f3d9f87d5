package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "staticd",
	Short: "Single-instance static file server daemon",
}

var (
	configFlag string
	socketFlag string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "config file (default ~/.staticd/config.yaml or config.toml)")
	rootCmd.PersistentFlags().StringVar(&socketFlag, "socket", "", "API socket path (default ~/.staticd/staticd.sock)")
	rootCmd.PersistentFlags().Bool("json", false, "output as JSON")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
