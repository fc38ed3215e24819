package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mrshabel/raftkeeper/internal/agent"
	"github.com/mrshabel/raftkeeper/internal/config"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "raftkeeper",
	Short: "raftkeeper is a Raft-replicated coordination service",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a cluster member using the given config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		devLog, _ := cmd.Flags().GetBool("dev-log")
		return runServe(configPath, devLog)
	},
}

func init() {
	serveCmd.Flags().String("config", "raftkeeper.yaml", "Path to the node's YAML config file")
	serveCmd.Flags().Bool("dev-log", false, "Use zap's development logger instead of production JSON logging")
	rootCmd.AddCommand(serveCmd)
}

func runServe(configPath string, devLog bool) error {
	logger, err := buildLogger(devLog)
	if err != nil {
		return err
	}
	zap.ReplaceGlobals(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	a, err := agent.New(*cfg)
	if err != nil {
		return err
	}

	logger.Info("node started", zap.Uint8("server_id", cfg.Server.MyID),
		zap.String("client_endpoint", cfg.Server.ClientEndpoint),
		zap.String("raft_endpoint", cfg.Server.Endpoint))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	return a.Shutdown()
}

func buildLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
