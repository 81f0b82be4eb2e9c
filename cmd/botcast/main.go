package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"botcast/internal/app"
	"botcast/internal/config"
)

func main() {
	configPath := flag.String("config", "./botcast.yaml", "path to config file (YAML or JSON)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "botcast:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	manager := config.NewManager(configPath)
	if _, err := manager.Load(); err != nil {
		return fmt.Errorf("load config %s: %w", configPath, err)
	}

	a, err := app.New(manager, app.Options{})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		a.Stop(context.Background())
		return err
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	<-ctx.Done()
	stop()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	a.Stop(shutdownCtx)
	return nil
}
