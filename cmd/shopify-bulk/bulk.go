package main

import (
	"os"

	"github.com/rikpy/shopify-bulk/pkg/client"
	"github.com/spf13/cobra"
)

func newBulkCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bulk",
		Short: "Run bulk mutations and exports",
	}
	cmd.AddCommand(newBulkUpdateCmd(opts), newBulkExportCmd(opts))
	return cmd
}

func newBulkUpdateCmd(opts *rootOptions) *cobra.Command {
	var mutation, mutationFile string

	cmd := &cobra.Command{
		Use:   "update <jsonl-file>",
		Short: "Apply a mutation to every line of a JSONL file",
		Long: `Stage a JSONL file and run one bulk mutation over it.

Each line holds the variables of one mutation call. The mutation is given
inline with --mutation or read from --mutation-file.`,
		Example: `  shopify-bulk bulk update products.jsonl --mutation-file product_update.graphql`,
		Args:    cobra.ExactArgs(1),
		RunE: opts.runWithApp(func(cmd *cobra.Command, a *app, args []string) error {
			doc, err := readMutation(mutation, mutationFile)
			if err != nil {
				return err
			}
			result, err := a.service.BulkUpdateProducts(cmd.Context(), args[0], doc)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		}),
	}

	cmd.Flags().StringVar(&mutation, "mutation", "", "mutation document")
	cmd.Flags().StringVar(&mutationFile, "mutation-file", "", "file holding the mutation document")
	cmd.MarkFlagsMutuallyExclusive("mutation", "mutation-file")
	cmd.MarkFlagsOneRequired("mutation", "mutation-file")
	return cmd
}

func readMutation(inline, path string) (string, error) {
	if path == "" {
		return inline, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", &client.Error{Class: client.ClassUser, Message: "read mutation file " + path, Err: err}
	}
	return string(data), nil
}

func newBulkExportCmd(opts *rootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the catalog with a bulk query",
		Args:  cobra.NoArgs,
		RunE: opts.runWithApp(func(cmd *cobra.Command, a *app, _ []string) error {
			products, err := a.service.ExportProducts(cmd.Context())
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				return printJSON(cmd.OutOrStdout(), products)
			}

			f, err := os.Create(output)
			if err != nil {
				return &client.Error{Class: client.ClassUser, Message: "create " + output, Err: err}
			}
			defer f.Close()
			return printJSON(f, products)
		}),
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write the export to this file instead of stdout")
	return cmd
}
