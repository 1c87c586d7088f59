package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ObiAU/disasterfeed/internal/aggregator"
	"github.com/ObiAU/disasterfeed/internal/api"
	"github.com/ObiAU/disasterfeed/internal/config"
	"github.com/ObiAU/disasterfeed/internal/feed"
	"github.com/ObiAU/disasterfeed/internal/logging"
	"github.com/ObiAU/disasterfeed/internal/telegram"
	"github.com/ObiAU/disasterfeed/internal/upstream"
)

var logLevel string

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "disasterfeed",
		Short:         "Disaster social feed aggregator",
		Long:          "Searches social platforms for disaster posts, enriches them with generative location and image analysis and serves a merged feed.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug|info|warn|error (overrides LOG_LEVEL)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newSearchCmd())
	rootCmd.AddCommand(newLocateCmd())
	rootCmd.AddCommand(newVerifyImageCmd())

	return rootCmd
}

// bootstrap loads and validates configuration and builds the shared
// components. Logs are written to out.
func bootstrap(ctx context.Context, out io.Writer) (*app, error) {
	cfg := config.Load(logging.NewWithOutput("info", out))

	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	logger := logging.ForService(logging.NewWithOutput(level, out))

	if err := cfg.Validate(); err != nil {
		logger.WithError(err).WithFields(upstream.LogFields(err)).Error("Invalid configuration")
		return nil, err
	}
	return newApp(ctx, cfg, logger)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the poll loop and the update feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := bootstrap(ctx, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(ctx, a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	opts := aggregator.Options{
		Query:        a.cfg.SearchQuery,
		PollInterval: a.cfg.PollInterval,
		FeedLimit:    a.cfg.FeedLimit,
		Retry:        upstream.DefaultRetryConfig(),
		Observer:     a.collector,
		Updates:      feed.NewUpdates(a.cfg.UpdateInterval, a.cfg.FeedLimit, a.logger),
		Logger:       a.logger,
	}

	routerOpts := api.Options{
		Logger:      a.logger,
		Timeout:     a.cfg.HTTPTimeout,
		CacheStats:  a.cache.Stats,
		ObserveHTTP: a.collector.ObserveHTTP,
		Metrics:     a.collector.Handler(),
	}

	if a.cfg.TelegramToken != "" {
		bot, err := telegram.NewBot(a.cfg.TelegramToken, a.cfg.TelegramWebhookURL, a.logger)
		if err != nil {
			return err
		}
		if err := bot.Start(ctx); err != nil {
			a.logger.WithError(err).Warn("Failed to register telegram webhook")
		}
		opts.Notifier = bot
		routerOpts.Webhook = bot.WebhookHandler()
	} else {
		a.logger.Info("TELEGRAM_BOT_TOKEN not set, operator alerts disabled")
	}

	agg := aggregator.New(a.sources, a.store, a.analyzer, opts)
	server := api.NewServer(a.cfg.ServerPort, api.NewRouter(agg, routerOpts), a.logger)

	a.logger.WithFields(logrus.Fields{
		"cache_backend": a.cfg.CacheBackend,
		"ai_provider":   a.cfg.AIProvider,
		"poll_interval": a.cfg.PollInterval.String(),
		"sources":       len(a.sources),
	}).Info("Starting disaster feed...")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return agg.Run(gctx) })
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error {
		a.runJanitor(gctx)
		return nil
	})

	err := g.Wait()
	a.logger.Info("Disaster feed stopped gracefully")
	return err
}

func newSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search [query]",
		Short: "Run one signed search and print the normalized posts",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrapCommand(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			query := strings.Join(args, " ")
			agg := aggregator.New(a.sources, a.store, a.analyzer, aggregator.Options{Query: a.cfg.SearchQuery, Logger: a.logger})
			posts, err := agg.FetchPosts(cmd.Context(), query)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]interface{}{"tweets": posts})
		},
	}
}

func newLocateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "locate <text>",
		Short: "Extract the location named in a piece of text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrapCommand(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			location, err := a.analyzer.ExtractLocation(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), location)
			return err
		},
	}
}

func newVerifyImageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify-image <url>",
		Short: "Score the authenticity of a disaster image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrapCommand(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			agg := aggregator.New(a.sources, a.store, a.analyzer, aggregator.Options{Logger: a.logger})
			result, err := agg.VerifyImage(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
}

// bootstrapCommand is bootstrap for the one-shot commands. Logs go to stderr
// so stdout carries only the result.
func bootstrapCommand(cmd *cobra.Command) (*app, error) {
	return bootstrap(cmd.Context(), cmd.ErrOrStderr())
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
