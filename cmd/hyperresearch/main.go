package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mikeboe/hyperresearch/pkg/config"
)

func main() {
	// It's okay if .env doesn't exist, as long as env vars are set
	_ = godotenv.Load()
	cfg := config.Load()

	// Setup structured logging
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})
	slog.SetDefault(slog.New(handler))

	rootCmd := &cobra.Command{
		Use:   "hyperresearch",
		Short: "Deep research state service",
		Long:  `HyperResearch tracks research activity and sources streamed from a chat backend and serves them to research panels.`,
	}

	rootCmd.AddCommand(newServeCmd(cfg), newMigrateCmd(cfg), newReplayCmd())

	if err := rootCmd.Execute(); err != nil {
		slog.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}
