package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"filevault/internal/auth"
	"filevault/internal/blobstore"
	"filevault/internal/config"
	"filevault/internal/metrics"
	"filevault/internal/models"
	"filevault/internal/server"
	"filevault/internal/store"
)

func newSrvCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "srv",
		Short: "Run the filevault API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg == nil {
				return fmt.Errorf("config not initialized")
			}
			if cfg.DBPath == "" {
				return fmt.Errorf("db path is required")
			}
			if cfg.Auth.TokenSecret == "" {
				return fmt.Errorf("auth.token_secret is not set; run: filevault config gen-secret --global")
			}

			logger := slog.Default().With("component", "server")

			addr, err := server.ListenAddr(cfg.APIURL)
			if err != nil {
				return err
			}

			logger.Info("opening database", "path", cfg.DBPath)
			st, err := store.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer st.Close()

			srv, err := buildServer(cfg, addr, st, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.ListenAndServe(ctx)
		},
	}
}

func buildServer(cfg *config.Config, addr string, st *store.Store, logger *slog.Logger) (*server.Server, error) {
	compression, err := models.ParseBlobCompression(cfg.Blobs.Compression)
	if err != nil {
		return nil, err
	}
	scope, err := blobstore.ParseDedupeScope(cfg.Blobs.DedupeScope)
	if err != nil {
		return nil, err
	}
	reclaim, err := blobstore.ParseReclaimMode(cfg.Blobs.Reclaim)
	if err != nil {
		return nil, err
	}

	logger.Info("opening blob store", "root", cfg.BlobRoot, "compression", compression)
	cas, err := blobstore.NewLocalCAS(cfg.BlobRoot, blobstore.WithCompression(compression))
	if err != nil {
		return nil, err
	}

	m, err := metrics.New()
	if err != nil {
		return nil, err
	}

	tokens, err := auth.NewTokenIssuer([]byte(cfg.Auth.TokenSecret), time.Duration(cfg.Auth.TokenTTL))
	if err != nil {
		return nil, err
	}

	blobs := blobstore.New(cas, st, blobstore.Options{
		DedupeScope: scope,
		Reclaim:     reclaim,
		Logger:      logger,
		Metrics:     m,
	})

	return server.New(server.Config{
		Addr:               addr,
		Store:              st,
		Blobs:              blobs,
		Tokens:             tokens,
		Logger:             logger,
		Metrics:            m,
		AdminToken:         cfg.Auth.AdminToken,
		MaxUploadBytes:     cfg.Uploads.MaxUploadBytes,
		MultipartMaxMemory: cfg.Uploads.MultipartMaxMemory,
		GCInterval:         time.Duration(cfg.GC.Interval),
		GCBatchSize:        cfg.GC.BatchSize,
		TempGrace:          time.Duration(cfg.GC.TempGrace),
	})
}
