package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/caio-sobreiro/dicomul/association"
	"github.com/caio-sobreiro/dicomul/client"
	"github.com/caio-sobreiro/dicomul/dicom"
	"github.com/caio-sobreiro/dicomul/pdu"
	"github.com/caio-sobreiro/dicomul/types"
)

// instanceFile is one Part 10 file to send.
type instanceFile struct {
	path    string
	meta    dicom.FileMeta
	dataset []byte
}

func readInstances(paths []string) ([]instanceFile, error) {
	files := make([]instanceFile, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		meta, dataset, err := dicom.ReadPart10(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if meta.MediaStorageSOPClassUID == "" || meta.MediaStorageSOPInstanceUID == "" {
			return nil, fmt.Errorf("%s: file meta information lacks SOP class or instance UID", path)
		}
		if meta.TransferSyntaxUID == "" {
			meta.TransferSyntaxUID = types.ImplicitVRLittleEndian
		}
		files = append(files, instanceFile{path: path, meta: meta, dataset: dataset})
	}
	return files, nil
}

// proposalsFor proposes one context per distinct (SOP class, transfer
// syntax) pair so that every file travels in its own encoding.
func proposalsFor(files []instanceFile) []association.Proposal {
	type pair struct{ class, syntax string }
	seen := make(map[pair]bool)

	var proposals []association.Proposal
	for _, f := range files {
		p := pair{f.meta.MediaStorageSOPClassUID, f.meta.TransferSyntaxUID}
		if seen[p] {
			continue
		}
		seen[p] = true
		proposals = append(proposals, association.Proposal{
			AbstractSyntax:   p.class,
			TransferSyntaxes: []string{p.syntax},
		})
	}
	return proposals
}

func newStoreCmd(opts *rootOptions) *cobra.Command {
	var flags clientFlags

	cmd := &cobra.Command{
		Use:   "store FILE...",
		Short: "Send DICOM Part 10 files to a remote SCP using C-STORE",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := readInstances(args)
			if err != nil {
				return err
			}
			address, cfg, err := flags.clientConfig(opts)
			if err != nil {
				return err
			}
			cfg.Proposals = proposalsFor(files)
			if len(cfg.Proposals) > pdu.MaxPresentationContexts {
				return fmt.Errorf("%d SOP class and transfer syntax combinations exceed the limit of %d", len(cfg.Proposals), pdu.MaxPresentationContexts)
			}

			ctx := cmd.Context()
			assoc, err := client.Connect(ctx, address, cfg)
			if err != nil {
				return err
			}

			failed := 0
			for _, f := range files {
				resp, err := assoc.SendCStore(ctx, &client.CStoreRequest{
					SOPClassUID:    f.meta.MediaStorageSOPClassUID,
					SOPInstanceUID: f.meta.MediaStorageSOPInstanceUID,
					Data:           f.dataset,
					TransferSyntax: f.meta.TransferSyntaxUID,
				})
				if err != nil {
					if assoc.State().Terminal() {
						return fmt.Errorf("%s: %w", f.path, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "C-STORE %s: %v\n", f.path, err)
					failed++
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "C-STORE %s: status 0x%04X\n", f.path, resp.Status)
				if resp.Status != types.StatusSuccess {
					failed++
				}
			}

			if err := assoc.Release(ctx); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d instances failed", failed, len(files))
			}
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}
