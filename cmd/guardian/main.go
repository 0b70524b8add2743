package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	guardiancmd "github.com/aquaguardian/guardian/internal/cmd/guardian"
	"github.com/aquaguardian/guardian/internal/platform/config"
	"github.com/aquaguardian/guardian/internal/platform/otel"
)

func main() {
	cfg, args, err := guardiancmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	log.SetPrefix("[GUARDIAN] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := otel.Setup(ctx, "guardian")
	if err != nil {
		log.Printf("otel setup: %v", err)
	} else {
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				log.Printf("otel shutdown: %v", err)
			}
		}()
	}

	if err := guardiancmd.Run(ctx, cfg, args, os.Stdout); err != nil {
		log.Fatalf("guardian: %v", err)
	}
}
