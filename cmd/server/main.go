package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	gometrics "github.com/rcrowley/go-metrics"

	"github.com/omochice/socket-relay/internal/config"
	"github.com/omochice/socket-relay/internal/server"
)

func main() {
	log.SetPrefix("relay: ")
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.FromEnv(config.Default())
	if err != nil {
		log.Fatalf("Invalid environment: %v", err)
	}
	cfg.RegisterFlags(flag.CommandLine)
	flag.Parse()

	reg := gometrics.NewRegistry()
	srv, err := server.New(cfg, reg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if err := srv.Listen(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	if cfg.DualPort() {
		log.Printf("  TCP (%s) on %s, WebSocket on %s", cfg.TCPMode, srv.TCPAddr(), srv.WSAddr())
	} else {
		log.Printf("  Accepting TCP (%s) and WebSocket connections on %s", cfg.TCPMode, srv.Addr())
	}

	if cfg.MetricsInterval > 0 {
		go gometrics.WriteJSON(reg, cfg.MetricsInterval, os.Stderr)
	}

	sig := <-sigChan
	log.Printf("Received signal %v, shutting down...", sig)

	stopped := make(chan struct{})
	go func() {
		srv.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(10 * time.Second):
		log.Printf("Shutdown timed out")
	}

	gometrics.WriteJSONOnce(reg, os.Stderr)
	log.Println("Server stopped")
}
