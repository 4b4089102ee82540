// Command faceteller runs the biometric terminal service: the websocket
// endpoint driving face recognition and blink-entered PIN login, and the
// HTTP routes that redeem login tokens and serve accounts.
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

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/faceteller/faceteller/pkg/config"
	"github.com/faceteller/faceteller/pkg/logging"
	"github.com/faceteller/faceteller/pkg/recognition"
	"github.com/faceteller/faceteller/pkg/server"
	"github.com/faceteller/faceteller/pkg/store"
	"github.com/faceteller/faceteller/pkg/token"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "faceteller:", err)
		os.Exit(1)
	}
}

func run() error {
	// Optional .env for local development overrides.
	_ = godotenv.Load()

	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	var cfg *config.Config
	var err error
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	cfg.ExpandPaths()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to prepare directories: %w", err)
	}

	if err := logging.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	log := logging.Component("main")

	rec := recognition.NewService(cfg.Recognition.Tolerance)
	if err := rec.LoadModels(cfg.Recognition.ModelPath); err != nil {
		return fmt.Errorf("failed to load recognition models: %w", err)
	}
	defer rec.Close()
	log.Infof("recognition models loaded from %s", cfg.Recognition.ModelPath)

	st, err := store.NewStore(cfg.Storage.DataDir, cfg.Storage.EncryptionEnabled)
	if err != nil {
		return fmt.Errorf("failed to open identity store: %w", err)
	}
	log.Infof("identity store at %s (%d enrolled)", cfg.Storage.DataDir, len(st.Gallery().Names))

	tokens := token.NewStore(cfg.Token.TTL)

	srv := server.New(cfg, st, tokens, rec)
	httpSrv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Router(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Infof("listening on %s", cfg.Server.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Background sweep keeps the token table from pinning expired entries
	// that no one ever tries to redeem.
	if cfg.Token.SweepInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(cfg.Token.SweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if n := tokens.Sweep(); n > 0 {
						log.Debugf("swept %d expired login tokens", n)
					}
				}
			}
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
