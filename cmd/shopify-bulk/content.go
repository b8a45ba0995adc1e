package main

import (
	"os"
	"time"

	"github.com/rikpy/shopify-bulk/pkg/client"
	"github.com/rikpy/shopify-bulk/pkg/shopify"
	"github.com/spf13/cobra"
)

func newVerifyCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check that the access token is accepted",
		Args:  cobra.NoArgs,
		RunE: opts.runWithApp(func(cmd *cobra.Command, a *app, _ []string) error {
			info, err := a.service.VerifyToken(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), info)
		}),
	}
}

func newBlogCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blog",
		Short: "Publish blog articles",
	}

	var (
		post      shopify.BlogPost
		bodyFile  string
		publishAt string
	)
	publish := &cobra.Command{
		Use:   "publish <blog-id>",
		Short: "Create an article, uploading its cover image first",
		Args:  cobra.ExactArgs(1),
		RunE: opts.runWithApp(func(cmd *cobra.Command, a *app, args []string) error {
			post.BlogID = args[0]
			if bodyFile != "" {
				body, err := os.ReadFile(bodyFile)
				if err != nil {
					return &client.Error{Class: client.ClassUser, Message: "read body file", Err: err}
				}
				post.BodyHTML = string(body)
			}
			if publishAt != "" {
				at, err := time.Parse(time.RFC3339, publishAt)
				if err != nil {
					return &client.Error{Class: client.ClassUser, Message: "--publish-at must be RFC 3339", Err: err}
				}
				post.PublishedAt = &at
			}

			article, err := a.service.PublishBlogPost(cmd.Context(), post)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), article)
		}),
	}
	flags := publish.Flags()
	flags.StringVar(&post.Title, "title", "", "article title")
	flags.StringVar(&post.BodyHTML, "body", "", "article HTML")
	flags.StringVar(&bodyFile, "body-file", "", "read the article HTML from a file")
	flags.StringVar(&post.Author, "author", "", "author name")
	flags.StringSliceVar(&post.Tags, "tag", nil, "article tag (repeatable)")
	flags.StringVar(&post.ImagePath, "image", "", "local cover image to upload")
	flags.StringVar(&post.ImageURL, "image-url", "", "cover image URL, used when --image is not set")
	flags.StringVar(&post.ImageAlt, "alt", "", "cover image alt text (default title)")
	flags.StringVar(&publishAt, "publish-at", "", "schedule the article (RFC 3339)")
	_ = publish.MarkFlagRequired("title")
	publish.MarkFlagsMutuallyExclusive("body", "body-file")

	cmd.AddCommand(publish)
	return cmd
}

func newMetaobjectCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metaobject",
		Short: "Read and update metaobjects",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "id <type> <handle>",
		Short: "Print the gid of a metaobject",
		Args:  cobra.ExactArgs(2),
		RunE: opts.runWithApp(func(cmd *cobra.Command, a *app, args []string) error {
			id, err := a.service.MetaobjectGID(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]string{"id": id})
		}),
	})

	var (
		banner shopify.Banner
		slot   int
	)
	bannerCmd := &cobra.Command{
		Use:   "banner <type> <handle>",
		Short: "Set one banner slot of a metaobject",
		Args:  cobra.ExactArgs(2),
		RunE: opts.runWithApp(func(cmd *cobra.Command, a *app, args []string) error {
			obj, err := a.service.UpdateBanner(cmd.Context(), args[0], args[1], slot, banner)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), obj)
		}),
	}
	flags := bannerCmd.Flags()
	flags.IntVar(&slot, "slot", 1, "banner slot number")
	flags.StringVar(&banner.ProductURL, "product-url", "", "product link")
	flags.StringVar(&banner.BannerURL, "banner-url", "", "desktop banner image URL")
	flags.StringVar(&banner.MobileBannerURL, "mobile-banner-url", "", "mobile banner image URL")
	flags.StringVar(&banner.Title, "title", "", "banner title")
	flags.StringVar(&banner.Subtitle, "subtitle", "", "banner subtitle")
	flags.StringVar(&banner.ButtonText, "button-text", "", "button label")
	flags.StringVar(&banner.ButtonURL, "button-url", "", "button link")

	cmd.AddCommand(bannerCmd)
	return cmd
}
