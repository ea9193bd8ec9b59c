// CLAUDE:SUMMARY docwatch CLI: run (poller + read API), once, digest, serve, mcp (stdio), history.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/hazyhaar/docwatch/tracker"

	_ "modernc.org/sqlite"
)

var Version = "dev"

type globals struct {
	configPath string
	envFile    string
	logLevel   string
}

func main() {
	g := &globals{}
	rootCmd := &cobra.Command{
		Use:           "docwatch",
		Short:         "docwatch - summarise and announce documentation commits",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "docwatch.yaml", "config file")
	rootCmd.PersistentFlags().StringVar(&g.envFile, "env-file", ".env", "dotenv file loaded before the config (optional)")
	rootCmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "debug, info, warn or error")

	rootCmd.AddCommand(runCmd(g))
	rootCmd.AddCommand(onceCmd(g))
	rootCmd.AddCommand(digestCmd(g))
	rootCmd.AddCommand(serveCmd(g))
	rootCmd.AddCommand(mcpCmd(g))
	rootCmd.AddCommand(historyCmd(g))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		cancel()
		os.Exit(1)
	}
}

// logger writes JSON on stderr; stdout is reserved for command output and
// the MCP stdio transport.
func (g *globals) logger() *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(g.logLevel) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}

// service loads the environment and config and builds the tracker.
func (g *globals) service(ctx context.Context, opts ...tracker.ServiceOption) (*tracker.Service, *slog.Logger, error) {
	logger := g.logger()
	if g.envFile != "" {
		if err := godotenv.Load(g.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("load %s: %w", g.envFile, err)
		}
	}
	cfg, err := tracker.LoadConfigFile(g.configPath)
	if err != nil {
		return nil, nil, err
	}
	svc, err := tracker.New(ctx, cfg, logger, opts...)
	if err != nil {
		return nil, nil, err
	}
	return svc, logger, nil
}
