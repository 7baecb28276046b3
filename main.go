package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/arshadbarves/reciperage-net/internal/app"
	"github.com/arshadbarves/reciperage-net/internal/config"
)

var (
	cfgPath  = flag.String("config", "config.json", "Path to the config file")
	name     = flag.String("name", "", "Override the display name")
	port     = flag.Int("port", -1, "Override the listen port")
	showHelp = flag.Bool("h", false, "Show help")
	version  = flag.Bool("version", false, "Show version")
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("reciperage-net v%s\n", appVersion)
		return
	}
	if *showHelp {
		flag.Usage()
		return
	}

	cfg, created, err := config.Ensure(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if created {
		log.Printf("wrote default config to %s", *cfgPath)
	}
	if *name != "" {
		cfg.Identity.DisplayName = *name
	}
	if *port >= 0 {
		cfg.P2P.ListenPort = *port
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("run: %v", err)
	}
}
