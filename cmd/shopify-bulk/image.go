package main

import (
	"github.com/spf13/cobra"
)

func newImageCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "image",
		Short: "Manage shop files",
	}

	var alt string
	upload := &cobra.Command{
		Use:   "upload <path>",
		Short: "Upload an image to the shop's files and print its URL",
		Args:  cobra.ExactArgs(1),
		RunE: opts.runWithApp(func(cmd *cobra.Command, a *app, args []string) error {
			image, err := a.service.UploadImage(cmd.Context(), args[0], alt)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), image)
		}),
	}
	upload.Flags().StringVar(&alt, "alt", "", "alt text")

	cmd.AddCommand(upload)
	return cmd
}
