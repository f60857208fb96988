package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/caio-sobreiro/dicomul/config"
	"github.com/caio-sobreiro/dicomul/transport"
)

// rootOptions carries the global flags and the state set up in PersistentPreRunE.
type rootOptions struct {
	configFile string
	logLevel   string
	logFormat  string

	cfg    config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "dicomul",
		Short: "DICOM upper layer tools: storage SCP, C-ECHO and C-STORE",
		Long: `dicomul speaks the DICOM upper layer protocol over TCP or TLS.
It hosts a storage SCP that writes received instances as Part 10 files,
and sends verification and storage requests to remote application entities.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd.ErrOrStderr())
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (.toml, .yaml or .yml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error (default \"info\")")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format: text, json (default \"text\")")

	cmd.AddCommand(newServeCmd(opts), newEchoCmd(opts), newStoreCmd(opts))
	return cmd
}

// load reads the config file, applies flag overrides and builds the logger.
func (o *rootOptions) load(logOutput io.Writer) error {
	cfg := config.Default()
	if o.configFile != "" {
		var err error
		cfg, err = config.Load(o.configFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Logging.Format = o.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(logOutput, cfg.Logging)
	if err != nil {
		return err
	}
	o.cfg = cfg
	o.logger = logger
	slog.SetDefault(logger)
	return nil
}

func newLogger(w io.Writer, cfg config.LoggingConfig) (*slog.Logger, error) {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	switch cfg.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
}

// tlsMaterial loads the configured certificates, or returns nil when TLS is disabled.
func (o *rootOptions) tlsMaterial() (*transport.TLSMaterial, error) {
	if !o.cfg.TLS.Enabled {
		return nil, nil
	}
	material, err := transport.LoadTLSMaterial(o.cfg.TLS.CertFile, o.cfg.TLS.KeyFile, o.cfg.TLS.TrustedCerts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS material: %w", err)
	}
	return material, nil
}
