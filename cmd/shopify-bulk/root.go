package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"
	"github.com/rikpy/shopify-bulk/internal/config"
	"github.com/rikpy/shopify-bulk/pkg/bulk"
	"github.com/rikpy/shopify-bulk/pkg/cache"
	"github.com/rikpy/shopify-bulk/pkg/client"
	"github.com/rikpy/shopify-bulk/pkg/logging"
	"github.com/rikpy/shopify-bulk/pkg/shopify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app holds what a command needs once configuration is loaded.
type app struct {
	cfg     *config.Config
	redis   *redis.Client
	cache   *cache.Manager
	service *shopify.Service
}

func (a *app) Close() {
	if a.redis != nil {
		a.redis.Close()
	}
}

type rootOptions struct {
	v       *viper.Viper
	cfgFile string
	verbose bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:           "shopify-bulk",
		Short:         "Bulk catalog operations for Shopify stores",
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `shopify-bulk reads and changes Shopify catalogs through the Admin GraphQL API.

Large changes run as bulk operations: the input is written as JSONL, staged,
and applied by a single bulk mutation that is polled until it finishes.`,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.cfgFile, "config", "", "config file (default is ./config.yaml or ./config/config.yaml)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output (sets log level to debug)")
	flags.String("shop", "", "shop name, the part before .myshopify.com")
	flags.String("token", "", "Admin API access token")
	flags.String("api-version", "", "Admin API version")
	flags.String("base-url", "", "override the shop origin")
	flags.String("redis", "", "Redis address for the lookup cache and bulk slot")
	_ = flags.MarkHidden("base-url")

	_ = opts.v.BindPFlag("shop.name", flags.Lookup("shop"))
	_ = opts.v.BindPFlag("shop.access_token", flags.Lookup("token"))
	_ = opts.v.BindPFlag("shop.api_version", flags.Lookup("api-version"))
	_ = opts.v.BindPFlag("shop.base_url", flags.Lookup("base-url"))
	_ = opts.v.BindPFlag("redis.addr", flags.Lookup("redis"))

	rootCmd.AddCommand(
		newProductsCmd(opts),
		newCollectionCmd(opts),
		newCollectionsCmd(opts),
		newBulkCmd(opts),
		newImageCmd(opts),
		newInventoryCmd(opts),
		newBlogCmd(opts),
		newMetaobjectCmd(opts),
		newVerifyCmd(opts),
		newCacheCmd(opts),
		newHandleCmd(),
		newServeCmd(opts),
	)

	return rootCmd
}

// loadConfig reads and validates configuration and configures logging.
func (o *rootOptions) loadConfig(cmd *cobra.Command, validate bool) (*config.Config, error) {
	cfg, err := config.Load(o.v, o.cfgFile)
	if err != nil {
		return nil, &client.Error{Class: client.ClassUser, Message: "load configuration", Err: err}
	}
	if o.verbose {
		cfg.Logging.Level = string(logging.LevelDebug)
	}
	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, &client.Error{Class: client.ClassUser, Message: "invalid configuration", Err: err}
		}
	}

	logCfg := cfg.LoggingConfig()
	logCfg.Output = cmd.ErrOrStderr()
	logging.Setup(logCfg)
	return cfg, nil
}

// connectRedis returns nil when no Redis address is configured.
func connectRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	if cfg.Redis.Addr == "" {
		return nil, nil
	}
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		redisClient.Close()
		return nil, &client.Error{Class: client.ClassTransport, Message: "connect to redis at " + cfg.Redis.Addr, Err: err}
	}
	log.Debug().Str("addr", cfg.Redis.Addr).Msg("Connected to Redis")
	return redisClient, nil
}

// newApp loads configuration and builds the service.
func (o *rootOptions) newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := o.loadConfig(cmd, true)
	if err != nil {
		return nil, err
	}

	c, err := client.New(cfg.ClientConfig())
	if err != nil {
		return nil, &client.Error{Class: client.ClassUser, Message: "create client", Err: err}
	}

	a := &app{cfg: cfg}
	a.redis, err = connectRedis(cmd.Context(), cfg)
	if err != nil {
		return nil, err
	}

	serviceOpts := shopify.Options{
		RateLimit:       cfg.RateLimitConfig(),
		Bulk:            cfg.BulkConfig(),
		CacheTTL:        cfg.Cache.TTL,
		WorkDir:         cfg.Bulk.WorkDir,
		PageSize:        cfg.Shop.PageSize,
		PublicationName: cfg.Shop.Publication,
		ImageRetries:    cfg.Images.Retries,
		ImageRetryDelay: cfg.Images.RetryDelay,
	}
	if a.redis != nil {
		a.cache = cache.NewManager(a.redis)
		serviceOpts.Cache = a.cache
		serviceOpts.SlotGuard = bulk.NewRedisSlot(a.redis, cfg.Bulk.SlotTTL)
	}
	a.service = shopify.New(c, serviceOpts)
	return a, nil
}

// runWithApp builds the app, runs fn and closes the app.
func (o *rootOptions) runWithApp(fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := o.newApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd, a, args)
	}
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
