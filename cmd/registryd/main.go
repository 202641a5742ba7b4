// Package main provides the registry daemon's CLI entry point.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/orneryd/registry/internal/config"
	"github.com/orneryd/registry/internal/httpapi"
	"github.com/orneryd/registry/internal/raftfsm"
	"github.com/orneryd/registry/internal/raftnode"
	"github.com/orneryd/registry/internal/registry"
	"github.com/orneryd/registry/internal/sequencer"
	"github.com/orneryd/registry/internal/sink"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "registryd",
		Short: "registryd runs a node of the feature registry",
		Long: `registryd replicates a feature-store registry (projects,
sources, anchors, anchor features, derived features) across a Raft
cluster and serves it over HTTP, with full-text search and
scope-hierarchical access control.`,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("registryd v%s (%s)\n", version, commit)
		},
	})

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the registry node",
		RunE:  runServe,
	}
	rootCmd.AddCommand(serveCmd)

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Bootstrap a single-node cluster",
		RunE:  runInit,
	}
	rootCmd.AddCommand(initCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func buildNode(cfg *config.Config, logger *log.Logger) (*raftnode.Node, *raftfsm.FSM, *sequencer.Sequencer, error) {
	seq := sequencer.New()

	engine := registry.New()
	if cfg.Sink.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Sink.Path), 0o755); err != nil {
			return nil, nil, nil, fmt.Errorf("creating sink directory: %w", err)
		}
		bs, err := sink.Open(cfg.Sink.Path)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("opening sink: %w", err)
		}
		engine.Sink = bs
	}

	fsm := raftfsm.New(engine, seq, logger)

	node, err := raftnode.Open(&cfg.Raft, fsm)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening raft node: %w", err)
	}
	return node, fsm, seq, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := log.New(os.Stdout, "registryd: ", log.LstdFlags)

	cfg := config.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Printf("starting registryd v%s", version)
	logger.Printf("config: %s", cfg.String())

	node, fsm, seq, err := buildNode(cfg, logger)
	if err != nil {
		return err
	}

	srv := httpapi.NewServer(fsm, node, seq, cfg, logger)
	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: srv,
	}

	go func() {
		logger.Printf("http api listening on %s", cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("http server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Println("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("stopping http server: %w", err)
	}
	if err := node.Shutdown(); err != nil {
		return fmt.Errorf("stopping raft node: %w", err)
	}

	logger.Println("stopped")
	return nil
}

func runInit(cmd *cobra.Command, args []string) error {
	logger := log.New(os.Stdout, "registryd: ", log.LstdFlags)

	cfg := config.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	node, _, _, err := buildNode(cfg, logger)
	if err != nil {
		return err
	}
	defer node.Shutdown()

	if err := node.Bootstrap(); err != nil {
		return fmt.Errorf("bootstrapping cluster: %w", err)
	}

	logger.Println("cluster bootstrapped")
	return nil
}
