// Command ttermd is the tterm daemon: it owns PTY sessions and serves them
// over a Unix domain socket to any number of tterm clients.
//
// Grounded on cmd/catherdd/main.go from the teacher: flag parsing, an
// environment-variable override for the socket path, and graceful
// shutdown on SIGINT/SIGTERM.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ianremillard/tterm/internal/config"
	"github.com/ianremillard/tterm/internal/daemon"
)

func main() {
	var (
		socketPath = flag.String("socket", "", "unix socket path (default: "+daemon.DefaultUnixSocketPath+")")
		configPath = flag.String("config", "", "path to a YAML config file")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("ttermd: %v", err)
	}
	if *socketPath != "" {
		cfg.SocketPath = *socketPath
	}

	log.Printf("ttermd: starting (socket=%s orphan_timeout=%s sweep_interval=%s)",
		cfg.SocketPath, cfg.OrphanTimeout, cfg.SweepInterval)

	s := daemon.New(cfg.OrphanTimeout, cfg.SweepInterval)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("ttermd: received %s, shutting down", sig)
		if err := s.Shutdown(); err != nil {
			log.Printf("ttermd: shutdown: %v", err)
		}
	}()

	if err := s.Run(cfg.SocketPath); err != nil {
		fmt.Fprintf(os.Stderr, "ttermd: %v\n", err)
		os.Exit(1)
	}
}
