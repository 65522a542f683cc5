// Package main submits site URLs to IndexNow from the command line.
//
// Usage:
//
//	indexnow [--config path] [path|url ...]
//
// With no arguments every URL in the sitemap is submitted. The exit status is
// non-zero when the sitemap cannot be read or the submission fails.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/storia-seo-ops/internal/config"
	"github.com/JakeFAU/storia-seo-ops/internal/logging"
	"github.com/JakeFAU/storia-seo-ops/internal/server"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the indexnow command. Loading config and the logger
// happens in RunE so flag parsing errors never touch the network.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "indexnow [path|url ...]",
		Short: "Submit site URLs to IndexNow",
		Long: `indexnow notifies search engines that pages changed. Arguments may be
absolute URLs or site paths; with none, every URL in the sitemap is sent.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()
			return run(cmd.Context(), cfg, args, cmd.OutOrStdout(), logger)
		},
	}
	cmd.Flags().StringVar(&cfgFile, "config", "", "path to config file")
	return cmd
}

func run(ctx context.Context, cfg config.Config, args []string, out io.Writer, logger *zap.Logger) error {
	store, err := server.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	urls := args
	if len(urls) == 0 {
		logger.Info("no URLs given, reading sitemap", zap.String("sitemap", cfg.Site.SitemapURL))
		urls, err = server.NewSitemap(cfg, logger).URLs(ctx)
		if err != nil {
			return fmt.Errorf("load sitemap: %w", err)
		}
	}

	result, err := server.NewSubmitter(cfg, store, logger).Submit(ctx, urls)
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(result); encErr != nil {
		return fmt.Errorf("write result: %w", encErr)
	}
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("submission rejected with status %d: %s", result.StatusCode, result.Message)
	}
	return nil
}
