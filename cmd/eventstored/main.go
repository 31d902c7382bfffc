package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/eventstore/pkg/config"
	"github.com/cuemby/eventstore/pkg/logging"
	"github.com/cuemby/eventstore/pkg/metrics"
	"github.com/cuemby/eventstore/pkg/server"
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "eventstored",
	Short:   "eventstored - single-node event store",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("eventstored version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	serverStartCmd.Flags().StringP("config", "f", "", "Node configuration file (required)")
	_ = serverStartCmd.MarkFlagRequired("config")
	serverCmd.AddCommand(serverStartCmd)

	rootCmd.AddCommand(serverCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	logging.Init(logging.Config{
		Level:      logging.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Manage this node's event store server",
}

var serverStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the event store node",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")

		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		log := logging.WithComponent("server")
		log.Info().Str("node_id", cfg.Metadata.Name).Str("data_dir", cfg.Spec.DataDir).Msg("starting node")

		srv, err := server.New(cfg.ServerConfig(), log)
		if err != nil {
			return fmt.Errorf("construct server: %w", err)
		}

		if err := srv.Start(); err != nil {
			return fmt.Errorf("start server: %w", err)
		}
		log.Info().Msg("node started")

		metrics.SetVersion(Version)
		metrics.RegisterComponent("txlog", true, "open")
		metrics.RegisterComponent("index", true, "open")
		metrics.RegisterComponent("coordinator", true, "bootstrapped")

		metricsAddr := cfg.Spec.Metrics.BindAddr
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			mux.Handle("/health", metrics.HealthHandler())
			mux.Handle("/ready", metrics.ReadyHandler())
			mux.Handle("/live", metrics.LivenessHandler())
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.Error().Err(err).Msg("metrics server error")
			}
		}()
		log.Info().Str("addr", metricsAddr).Msg("metrics endpoint listening")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		log.Info().Msg("shutting down")
		if err := srv.Shutdown(); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		log.Info().Msg("shutdown complete")
		return nil
	},
}
