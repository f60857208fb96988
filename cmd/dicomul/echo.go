package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/caio-sobreiro/dicomul/client"
	"github.com/caio-sobreiro/dicomul/config"
	"github.com/caio-sobreiro/dicomul/types"
)

// clientFlags are shared by echo and store.
type clientFlags struct {
	address   string
	callingAE string
	calledAE  string
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.address, "address", "", "address of the remote SCP (default from config)")
	cmd.Flags().StringVar(&f.callingAE, "calling-ae", "", "calling AE title")
	cmd.Flags().StringVar(&f.calledAE, "called-ae", "", "called AE title")
}

// clientConfig builds a client.Config from the loaded config and flag overrides.
func (f *clientFlags) clientConfig(opts *rootOptions) (string, client.Config, error) {
	cfg := opts.cfg
	if f.address != "" {
		cfg.Client.Address = f.address
	}
	if f.callingAE != "" {
		cfg.Client.CallingAETitle = f.callingAE
	}
	if f.calledAE != "" {
		cfg.Client.CalledAETitle = f.calledAE
	}
	if err := cfg.Validate(); err != nil {
		return "", client.Config{}, err
	}

	out := clientConfigFrom(cfg.Client, opts)
	material, err := opts.tlsMaterial()
	if err != nil {
		return "", client.Config{}, err
	}
	if material != nil {
		out.TLS = material.ClientConfig(cfg.TLS.ServerName)
	}
	return cfg.Client.Address, out, nil
}

func clientConfigFrom(cfg config.ClientConfig, opts *rootOptions) client.Config {
	return client.Config{
		CallingAETitle:            cfg.CallingAETitle,
		CalledAETitle:             cfg.CalledAETitle,
		MaxPDULength:              cfg.MaxPDULength,
		ConnectTimeout:            cfg.ConnectTimeout,
		ReadTimeout:               cfg.ReadTimeout,
		WriteTimeout:              cfg.WriteTimeout,
		Logger:                    opts.logger,
		PreferredTransferSyntaxes: cfg.TransferSyntaxes,
	}
}

func newEchoCmd(opts *rootOptions) *cobra.Command {
	var (
		flags clientFlags
		count int
	)

	cmd := &cobra.Command{
		Use:   "echo",
		Short: "Verify connectivity with a remote SCP using C-ECHO",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return fmt.Errorf("--count must be at least 1")
			}
			address, cfg, err := flags.clientConfig(opts)
			if err != nil {
				return err
			}
			cfg.AbstractSyntaxes = []string{types.VerificationSOPClass}
			cfg.RequiredAbstractSyntaxes = cfg.AbstractSyntaxes

			ctx := cmd.Context()
			assoc, err := client.Connect(ctx, address, cfg)
			if err != nil {
				return err
			}

			for i := 0; i < count; i++ {
				resp, err := assoc.SendCEcho(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "C-ECHO %s: status 0x%04X (message id %d)\n", address, resp.Status, resp.MessageID)
				if resp.Status != types.StatusSuccess {
					assoc.Abort()
					return fmt.Errorf("C-ECHO failed with status 0x%04X", resp.Status)
				}
			}
			return assoc.Release(ctx)
		},
	}

	flags.register(cmd)
	cmd.Flags().IntVar(&count, "count", 1, "number of C-ECHO requests on the association")
	return cmd
}
