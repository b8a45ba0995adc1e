package main

import (
	"time"

	"github.com/rikpy/shopify-bulk/pkg/client"
	"github.com/rikpy/shopify-bulk/pkg/shopify"
	"github.com/spf13/cobra"
)

type expiryFlags struct {
	key    string
	before string
}

func (f *expiryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.key, "key", shopify.DefaultMetafieldKey, "date metafield as namespace.key")
	cmd.Flags().StringVar(&f.before, "before", "", "cutoff date, dd/mm/yyyy or yyyy-mm-dd (default today)")
}

func (f *expiryFlags) cutoff() (time.Time, error) {
	if f.before == "" {
		return time.Now().UTC().Truncate(24 * time.Hour), nil
	}
	t, err := shopify.ParseFilterDate(f.before)
	if err != nil {
		return time.Time{}, &client.Error{Class: client.ClassUser, Message: "--before", Err: err}
	}
	return t, nil
}

func newInventoryCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inventory",
		Short: "Inspect and reset inventory",
	}
	cmd.AddCommand(
		newInventoryExpiredCmd(opts),
		newInventoryZeroCmd(opts),
		newInventoryLocationCmd(opts),
	)
	return cmd
}

func newInventoryExpiredCmd(opts *rootOptions) *cobra.Command {
	var flags expiryFlags

	cmd := &cobra.Command{
		Use:   "expired",
		Short: "List products whose date metafield lies before the cutoff",
		Args:  cobra.NoArgs,
		RunE: opts.runWithApp(func(cmd *cobra.Command, a *app, _ []string) error {
			cutoff, err := flags.cutoff()
			if err != nil {
				return err
			}
			products, err := a.service.ProductsWithMetafieldBefore(cmd.Context(), flags.key, cutoff)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), products)
		}),
	}
	flags.register(cmd)
	return cmd
}

func newInventoryZeroCmd(opts *rootOptions) *cobra.Command {
	var (
		flags      expiryFlags
		reason     string
		locationID string
		items      []string
	)

	cmd := &cobra.Command{
		Use:   "zero",
		Short: "Set on-hand inventory to zero",
		Long: `Set on-hand inventory to zero.

With --item the listed inventory items are reset at --location. Without it,
every variant of the products whose date metafield lies before --before is
reset at the shop's first location.`,
		Args: cobra.NoArgs,
		RunE: opts.runWithApp(func(cmd *cobra.Command, a *app, _ []string) error {
			if len(items) > 0 {
				if err := a.service.SetInventoryToZero(cmd.Context(), items, locationID, reason); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), shopify.Result{
					Message: "Inventory set to zero.",
					Count:   len(items),
				})
			}

			cutoff, err := flags.cutoff()
			if err != nil {
				return err
			}
			result, err := a.service.ZeroStockBefore(cmd.Context(), flags.key, cutoff, reason)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		}),
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&reason, "reason", shopify.DefaultInventoryReason, "reason recorded with the change")
	cmd.Flags().StringVar(&locationID, "location", "", "location gid for --item")
	cmd.Flags().StringSliceVar(&items, "item", nil, "inventory item gid, repeatable")
	cmd.MarkFlagsRequiredTogether("item", "location")
	return cmd
}

func newInventoryLocationCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "location",
		Short: "Print the gid of the shop's first location",
		Args:  cobra.NoArgs,
		RunE: opts.runWithApp(func(cmd *cobra.Command, a *app, _ []string) error {
			id, err := a.service.LocationID(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"location_id": id})
		}),
	}
}
