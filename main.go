package main

import (
	"context"
	"fittrack/config"
	"fittrack/session"
	"fittrack/store"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "fittrack",
	Short:         "FitTrack workout tracker API",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE:  runServe,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage stored sessions",
}

var sessionsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete expired sessions",
	RunE:  runSessionsPurge,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("FITTRACK_CONFIG"), "Path to a YAML config file")

	sessionsCmd.AddCommand(sessionsPurgeCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(cfg.Logger())
	return cfg, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := newServer(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.close()

	return s.start(ctx)
}

func runSessionsPurge(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := store.New(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("error opening store: %w", err)
	}
	defer st.Close()

	sm := session.NewManager(st, session.Config{
		ExpirationInDays:       cfg.Session.ExpirationDays,
		RefreshThresholdInDays: cfg.Session.RefreshThresholdDays,
		Secret:                 []byte(cfg.Auth.TokenSecret),
	})
	n, err := sm.PurgeExpired()
	if err != nil {
		return fmt.Errorf("error purging sessions: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Purged %d expired sessions\n", n)
	return nil
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		slog.Error("Application failed", "err", err)
		os.Exit(1)
	}
}
