package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/ragctl/internal/upload"
)

// errReported marks a failure the renderer has already shown.
var errReported = errors.New("reported")

func newUploadCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file.pdf>",
		Short: "Upload a PDF and print its document id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := openEnv(ctx, opts)
			if err != nil {
				return err
			}
			defer e.Close()
			if err := e.requireSession(); err != nil {
				return err
			}

			f, err := upload.OpenLocal(args[0])
			if err != nil {
				return err
			}
			stop, err := startRenderer(ctx, e, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			err = e.app.Upload(ctx, f, upload.SourcePicker)
			stop()
			if err != nil {
				var upErr *upload.Error
				if errors.As(err, &upErr) {
					return errReported
				}
				return err
			}

			id, _ := e.app.ActiveDocumentID()
			fmt.Fprintf(cmd.OutOrStdout(), "document_id: %d\nfilename: %s\n", id, e.app.Uploads().State().Filename)
			return nil
		},
	}
}
