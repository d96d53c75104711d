package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "growthctl",
		Short:         "Operator tooling for the referral growth engine",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().BoolP("verbose", "v", false, "Log service activity to stderr")

	root.AddCommand(sweepCmd())
	root.AddCommand(reviewsCmd())
	root.AddCommand(userCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(tokenCmd())

	return root
}
