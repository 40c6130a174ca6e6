// cmd/server/main.go - HTTP API for parselet extraction
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tycho01/parsz/internal/config"
	"github.com/tycho01/parsz/internal/utils"
)

// Version information (set by build flags)
var version = "dev"

func main() {
	configFile := flag.String("config", "", "configuration file")
	addr := flag.String("addr", "", "listen address (overrides server.addr)")
	flag.Parse()

	if err := serve(*configFile, *addr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serve(configFile, addr string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}

	level, err := utils.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger, err := utils.NewLoggerWithLevel(level, false)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := NewServer(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer srv.Close()

	if configFile != "" {
		watcher, err := config.NewConfigWatcher(configFile, logger)
		if err != nil {
			logger.Warnf("config reload disabled: %v", err)
		} else {
			defer watcher.Close()
			watcher.OnReload(func(c *config.Config) {
				if err := srv.Reload(c); err != nil {
					logger.Errorf("failed to apply reloaded config: %v", err)
				}
			})
		}
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
