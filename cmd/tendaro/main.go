package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:   "tendaro",
	Short: "tendaro — grounded multi-tenant storefront assistant",
	Long: `tendaro answers customer questions about products, prices, delivery,
and opening hours. Every reply is backed by verified tenant data; when the
data isn't there, it says so instead of guessing.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       version,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(tenantsCmd)
	rootCmd.AddCommand(configCmd)
}
