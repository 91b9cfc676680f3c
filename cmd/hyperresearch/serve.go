package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/mikeboe/hyperresearch/pkg/config"
	"github.com/mikeboe/hyperresearch/pkg/database"
	"github.com/mikeboe/hyperresearch/pkg/server"
)

func newServeCmd(cfg *config.Config) *cobra.Command {
	var memory bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var repo server.Repository
			if !memory {
				db, err := database.NewPostgresDB(ctx, cfg.DatabaseURL)
				if err != nil {
					return fmt.Errorf("failed to connect to database: %w", err)
				}
				defer db.Close()

				if err := db.InitSchema(ctx); err != nil {
					return fmt.Errorf("failed to initialize schema: %w", err)
				}
				repo = db
			} else {
				slog.Warn("Running without database, sessions are lost on restart")
			}

			svc := server.NewService(repo, cfg.SessionLimit)
			handler := server.NewHandler(svc)

			r := gin.Default()
			r.Use(cors.New(cors.Config{
				AllowOrigins:     cfg.CORSOrigins,
				AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
				AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Mcp-Session-Id"},
				ExposeHeaders:    []string{"Content-Length", "Mcp-Session-Id"},
				AllowCredentials: !allowsAll(cfg.CORSOrigins),
			}))
			handler.RegisterRoutes(r)

			srv := &http.Server{
				Addr:    ":" + cfg.Port,
				Handler: r,
			}

			errCh := make(chan error, 1)
			go func() {
				slog.Info("Server starting", "port", cfg.Port)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("failed to start server: %w", err)
			case <-ctx.Done():
			}

			slog.Info("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVarP(&cfg.Port, "port", "p", cfg.Port, "Port to listen on")
	cmd.Flags().BoolVar(&memory, "memory", false, "Keep sessions in memory instead of PostgreSQL")
	return cmd
}

// gin-contrib/cors rejects a wildcard origin combined with credentials
func allowsAll(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
