package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"marginalia/internal/app"
	"marginalia/internal/auth"
	"marginalia/internal/export"
	"marginalia/internal/gitrepo"
	"marginalia/internal/highlight"
	"marginalia/internal/logging"
	"marginalia/internal/search"
	"marginalia/internal/session"
	"marginalia/internal/store"
)

// uiSessionKey names the single process-wide composer state in Redis.
const uiSessionKey = "app"

func serveCommand(g *globals) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "listen address; overrides the config file",
				Sources: cli.EnvVars("MARGINALIA_ADDR"),
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg := g.cfg
			if addr := c.String("addr"); addr != "" {
				cfg.Addr = addr
			}
			logger := logging.Component("serve")

			db, err := store.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("database connection failed: %w", err)
			}
			defer db.Close()

			if _, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir, logging.Component("migrate")); err != nil {
				return fmt.Errorf("migrations failed: %w", err)
			}
			if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
				return fmt.Errorf("create repos dir: %w", err)
			}

			pgStore := store.NewPostgresStore(db)
			highlights := highlight.NewStore(pgStore, logging.Component("highlight"))
			if err := highlights.Hydrate(ctx); err != nil {
				return fmt.Errorf("load highlights: %w", err)
			}

			var revoker app.TokenRevoker
			if strings.TrimSpace(cfg.Redis.URL) != "" {
				redisStore, err := session.NewRedisStore(cfg.Redis.URL, cfg.Redis.SessionTTL)
				if err != nil {
					return fmt.Errorf("redis connection failed: %w", err)
				}
				defer redisStore.Close()

				restored, err := session.Restore(ctx, highlights, redisStore, uiSessionKey)
				if err != nil {
					logger.Warn().Err(err).Msg("could not restore ui state")
				} else if restored {
					logger.Info().Msg("restored ui state")
				}
				stop := session.Mirror(highlights, redisStore, uiSessionKey, logging.Component("session"))
				defer stop()
				revoker = redisStore
			} else {
				logger.Warn().Msg("redis not configured; ui state and token revocation are process-local")
			}

			var meili *search.Meili
			if strings.TrimSpace(cfg.Meili.URL) != "" {
				meili = search.NewMeili(cfg.Meili.URL, cfg.Meili.MasterKey, logging.Component("meili"))
				defer meili.Close()
			}
			searchService := search.NewService(meili, search.NewPgFTS(db), logging.Component("search"))
			detach := searchService.Attach(highlights)
			defer detach()
			go searchService.ReindexAllFromPG(context.Background())

			gitService := gitrepo.New(cfg.ReposDir)

			exporter := export.NewService(gitService, highlights, export.Options{
				ChromePath: cfg.Export.ChromePath,
				PandocPath: cfg.Export.PandocPath,
			}, logging.Component("export"))
			if cfg.Storage.Endpoint != "" {
				objects, err := export.NewObjectStore(cfg.Storage.Endpoint, cfg.Storage.AccessKey, cfg.Storage.SecretKey, cfg.Storage.Bucket, cfg.Storage.UseSSL)
				if err != nil {
					return fmt.Errorf("object storage: %w", err)
				}
				if err := objects.EnsureBucket(ctx); err != nil {
					logger.Warn().Err(err).Str("bucket", cfg.Storage.Bucket).Msg("export uploads disabled")
				} else {
					exporter.WithStorage(objects, pgStore)
				}
			}

			service := app.New(app.Deps{
				Store:      pgStore,
				Git:        gitService,
				Highlights: highlights,
				Search:     searchService,
				Exporter:   exporter,
				Revoker:    revoker,
				Issuer:     auth.NewIssuer(cfg.TokenSecret, cfg.TokenTTL),
				Logger:     logging.Component("app"),
			})
			defer service.Close()
			if err := service.Bootstrap(ctx); err != nil {
				logger.Warn().Err(err).Msg("bootstrap failed; will retry on next restart")
			}

			httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logging.Component("http"))
			server := &http.Server{
				Addr:              cfg.Addr,
				Handler:           httpServer.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       15 * time.Second,
				WriteTimeout:      60 * time.Second,
				IdleTimeout:       60 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info().Str("addr", cfg.Addr).Msg("marginalia listening")
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("server failed: %w", err)
				}
			case <-sigCtx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("shutdown error")
			}
			logger.Info().Msg("marginalia stopped")
			return nil
		},
	}
}
