package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	envFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "tradesim",
	Short: "tradesim - daily backtesting and portfolio simulation",
	Long: `tradesim replays daily bars through a signal source and simulates a
cash account with A-share trading costs, position limits, stop-loss,
take-profit and a daily-loss circuit breaker.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile == "" {
			return nil
		}
		// A missing default .env is fine; an explicit one must exist.
		if err := godotenv.Load(envFile); err != nil {
			if envFile != ".env" || !errors.Is(err, fs.ErrNotExist) {
				return err
			}
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug mode")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
