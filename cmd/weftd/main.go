package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/weftlabs/weft/internal/config"
	"github.com/weftlabs/weft/internal/relay"
)

func main() {
	cfg := config.LoadOrDefault()

	// Flags override environment for development convenience.
	port := flag.String("port", cfg.Relay.Port, "Relay port")
	host := flag.String("host", cfg.Relay.Host, "Relay host")
	dev := flag.Bool("dev", cfg.Logging.Development, "Development mode (colored logs, debug level)")
	flag.Parse()

	cfg.Relay.Port = *port
	cfg.Relay.Host = *host
	cfg.Logging.Development = *dev
	if *dev {
		cfg.Logging.Level = "debug"
	}

	srv, err := relay.NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create relay: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Run(); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-sigChan:
		if err := srv.Close(); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	case err := <-errChan:
		log.Fatalf("Relay error: %v", err)
	}
}
