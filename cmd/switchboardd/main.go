// Package main is the entrypoint for the switchboard daemon.
// The daemon keeps the engine fleet assembled: pools stay warm, health
// probes run on schedule, switch policies are evaluated, and abandoned
// transactions are reclaimed.
//
// Per docs/plan.md:
//   - "Monitoring never competes with traffic"
//   - "Switches are atomic or they didn't happen"
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/switchboard-data/switchboard/internal/bootstrap"
	"github.com/switchboard-data/switchboard/internal/config"
	"github.com/switchboard-data/switchboard/internal/metrics"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "switchboardd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "config file path")
		prewarm    = flag.Bool("prewarm", true, "prewarm pools to their configured minimum")
		showVer    = flag.Bool("version", false, "show version")
	)
	flag.Parse()

	if *showVer {
		fmt.Printf("switchboardd %s (commit: %s, built: %s)\n", version, commit, date)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if len(cfg.Engines) == 0 {
		return fmt.Errorf("no engines configured: use -config or SWITCHBOARD_* env vars")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	sys, err := bootstrap.Build(ctx, cfg)
	cancel()
	if err != nil {
		return err
	}
	defer sys.Close()

	for _, engCfg := range cfg.Engines {
		log.Printf("Registered %s engine %s", engCfg.Kind, engCfg.ID)
	}
	if active, err := sys.Manager.Active(""); err == nil {
		log.Printf("Primary active engine: %s", active)
	}

	if *prewarm {
		warmCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		for _, snap := range sys.Manager.Snapshots() {
			if err := sys.Prewarm(warmCtx, snap.EngineID); err != nil {
				log.Printf("WARNING: prewarming %s: %v", snap.EngineID, err)
			}
		}
		cancel()
	}

	if sink, ok := sys.Metrics.(*metrics.ChannelSink); ok {
		go drainMetrics(sink)
	}

	sys.Start()
	log.Printf("switchboardd %s started: %d engines, probing every %s",
		version, len(cfg.Engines), cfg.Monitor.Interval)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received %s, shutting down", sig)
	return nil
}

// drainMetrics logs switch events and discards engine snapshots so the
// sink buffer never fills under normal operation.
func drainMetrics(sink *metrics.ChannelSink) {
	for {
		select {
		case event := <-sink.Switches():
			log.Printf("Switch %s: role=%s %s -> %s success=%v duration=%.0fms",
				event.Kind, event.Role, event.FromEngine, event.ToEngine, event.Success, event.DurationMS)
		case <-sink.Snapshots():
		}
	}
}
