package main

import (
	"github.com/rikpy/shopify-bulk/pkg/shopify"
	"github.com/spf13/cobra"
)

func newProductsCmd(opts *rootOptions) *cobra.Command {
	var collectionID string

	cmd := &cobra.Command{
		Use:   "products",
		Short: "List products as JSON",
		Long: `List every product of the shop, or of one collection with --collection.

Records are normalized: ids are numeric strings, tags a list, and variants,
options and images flattened out of their connections.`,
		Args: cobra.NoArgs,
		RunE: opts.runWithApp(func(cmd *cobra.Command, a *app, _ []string) error {
			if collectionID != "" {
				products, err := a.service.CollectionProducts(cmd.Context(), collectionID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), products)
			}
			products, err := a.service.Products(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), products)
		}),
	}

	cmd.Flags().StringVar(&collectionID, "collection", "", "only list products of this collection (id or gid)")
	return cmd
}

func newCollectionsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "collections",
		Short: "List every custom and smart collection as JSON",
		Args:  cobra.NoArgs,
		RunE: opts.runWithApp(func(cmd *cobra.Command, a *app, _ []string) error {
			collections, err := a.service.Collections(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), collections)
		}),
	}
}

func newCollectionCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collection",
		Short: "Bulk changes to the products of a collection",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "unpublish <collection-id>",
		Short: "Unpublish every product of a collection from the configured publication",
		Args:  cobra.ExactArgs(1),
		RunE: opts.runWithApp(func(cmd *cobra.Command, a *app, args []string) error {
			result, err := a.service.UnpublishCollection(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "archive <collection-id>",
		Short: "Archive the active products of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: opts.runWithApp(func(cmd *cobra.Command, a *app, args []string) error {
			result, err := a.service.ArchiveCollection(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		}),
	})

	return cmd
}

func newHandleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "handle <text>...",
		Short: "Print the product handle for each argument",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			handles := make([]string, 0, len(args))
			for _, arg := range args {
				handles = append(handles, shopify.Handle(arg))
			}
			return printJSON(cmd.OutOrStdout(), handles)
		},
	}
}
