package main

import (
	"fmt"
	"os"

	"github.com/huangang/taskreport/pkg/logger"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "reportctl",
	Short: "Operate task tracker report configurations",
	Long: `reportctl inspects report configurations and runs the report scheduler
by hand: evaluate a single tick, render a report to a file or list what is due next.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// stdout carries command output
		lvl, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL"))
		if err != nil || lvl == zerolog.NoLevel {
			lvl = zerolog.WarnLevel
		}
		logger.SetOutput(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}, lvl)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config-file", "c", os.Getenv("CONFIG_PATH"), "path to config.yaml")

	rootCmd.AddCommand(newTickCommand())
	rootCmd.AddCommand(newRenderCommand())
	rootCmd.AddCommand(newSendCommand())
	rootCmd.AddCommand(newListCommand())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
