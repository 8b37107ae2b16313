package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/slarm-iot/slarm/internal/config"
	"github.com/slarm-iot/slarm/internal/node"
)

func main() {
	path := flag.String("config", os.Getenv("SLARM_CONFIG"), "YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*path)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := log.New(os.Stdout, "slarm-"+cfg.Role+" ", log.LstdFlags|log.LUTC)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	n, err := node.New(ctx, node.Options{
		Config: cfg,
		Logger: logger,
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
	})
	if err != nil {
		logger.Fatalf("startup: %v", err)
	}

	if err := n.Run(ctx); err != nil {
		logger.Printf("node error: %v", err)
		stop()
		os.Exit(1)
	}
	logger.Printf("shutdown complete")
}
