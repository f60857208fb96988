package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/caio-sobreiro/dicomul/association"
	"github.com/caio-sobreiro/dicomul/config"
	"github.com/caio-sobreiro/dicomul/dicom"
	"github.com/caio-sobreiro/dicomul/metrics"
	"github.com/caio-sobreiro/dicomul/server"
	"github.com/caio-sobreiro/dicomul/services"
	"github.com/caio-sobreiro/dicomul/types"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		address     string
		aeTitle     string
		storageDir  string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a storage SCP that accepts C-ECHO and C-STORE",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if address != "" {
				cfg.Server.Address = address
			}
			if aeTitle != "" {
				cfg.Server.AETitle = aeTitle
			}
			if storageDir != "" {
				cfg.Server.StorageDir = storageDir
			}
			if metricsAddr != "" {
				cfg.Metrics.Address = metricsAddr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServer(ctx, opts, cfg)
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "listen address (default from config, \":11112\")")
	cmd.Flags().StringVar(&aeTitle, "ae-title", "", "AE title of this SCP")
	cmd.Flags().StringVar(&storageDir, "storage-dir", "", "directory received instances are written to")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address serving Prometheus /metrics (disabled when empty)")
	return cmd
}

func runServer(ctx context.Context, opts *rootOptions, cfg config.Config) error {
	logger := opts.logger

	store, err := dicom.NewDirectoryStore(cfg.Server.StorageDir,
		dicom.WithImplementation(association.DefaultImplementationClassUID, association.DefaultImplementationVersionName),
		dicom.WithStoreLogger(logger))
	if err != nil {
		return err
	}

	router := services.NewRegistry()
	router.RegisterHandler(types.CEchoRQ, services.NewEchoService(logger))
	router.RegisterHandler(types.CStoreRQ, services.NewStoreService(store, logger))

	serverOpts := []server.Option{
		server.WithLogger(logger),
		server.WithReadTimeout(cfg.Server.ReadTimeout),
		server.WithWriteTimeout(cfg.Server.WriteTimeout),
		server.WithMaxPDULength(cfg.Server.MaxPDULength),
		server.WithCalledAETitleCheck(cfg.Server.CheckCalledAETitle),
		server.WithAbortOnNoContexts(cfg.Server.AbortOnNoContexts),
		server.WithPolicy(acceptancePolicy(cfg.Server)),
	}

	material, err := opts.tlsMaterial()
	if err != nil {
		return err
	}
	if material != nil {
		serverOpts = append(serverOpts, server.WithTLS(material.ServerConfig(cfg.TLS.RequireClientCert)))
	}

	if cfg.Metrics.Address != "" {
		metrics.RegisterMetrics()
		go serveMetrics(ctx, cfg.Metrics.Address, logger)
	}

	logger.Info("Starting storage SCP",
		"ae_title", cfg.Server.AETitle,
		"address", cfg.Server.Address,
		"storage_dir", store.Dir(),
		"tls", material != nil)

	err = server.New(cfg.Server.AETitle, router, serverOpts...).ListenAndServe(ctx, cfg.Server.Address)
	if errors.Is(err, context.Canceled) {
		logger.Info("Storage SCP stopped")
		return nil
	}
	return err
}

// acceptancePolicy accepts the configured SOP classes, or Verification and
// every storage SOP class when none are configured.
func acceptancePolicy(cfg config.ServerConfig) association.Policy {
	accept := func(uid string) bool {
		return uid == types.VerificationSOPClass || types.IsStorageSOPClass(uid)
	}
	if len(cfg.AcceptedSOPClasses) > 0 {
		accept = association.AbstractSyntaxes(cfg.AcceptedSOPClasses...)
	}
	return association.PreferredSyntaxPolicy(accept, cfg.TransferSyntaxes...)
}

func serveMetrics(ctx context.Context, address string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Serving metrics", "address", address)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Metrics endpoint failed", "error", err)
	}
}
