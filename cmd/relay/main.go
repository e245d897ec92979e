package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"holedeck/internal/config"
	"holedeck/internal/server"
	"holedeck/internal/session"
)

func main() {
	config.Load()

	store := session.NewStore(config.Cfg)
	defer store.Close()

	s := server.NewServer(config.Cfg, store)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := s.Run(ctx); err != nil {
		log.Printf("❌ %v", err)
		stop()
		store.Close()
		os.Exit(1)
	}
}
