package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"kindlegarden/internal/application/auth"
	"kindlegarden/internal/application/conversion"
	"kindlegarden/internal/config"
	"kindlegarden/internal/infrastructure/calibre"
	"kindlegarden/internal/infrastructure/filesystem"
	"kindlegarden/internal/infrastructure/sqlstore"
	"kindlegarden/internal/infrastructure/telegram"
	httptransport "kindlegarden/internal/transport/http"
	tgtransport "kindlegarden/internal/transport/telegram"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot, the conversion worker and the HTTP API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireToken(); err != nil {
		return err
	}

	logger, logCloser, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings, err := calibreSettings(cfg.Calibre)
	if err != nil {
		return err
	}
	converter := calibre.NewConverter(settings)
	versionCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	version, err := converter.Version(versionCtx)
	cancel()
	if err != nil {
		logger.Error().Err(err).Str("bin", settings.ConvertBin).Msg("Calibre is not available")
		return fmt.Errorf("ebook-convert not available: %w", err)
	}
	logger.Info().Str("version", version).Msg("Calibre found")

	workspace := filesystem.NewStore(cfg.Conversion.WorkDir, cfg.MaxUnpackedBytes())
	if err := workspace.EnsureDirs(); err != nil {
		return fmt.Errorf("workspace init failed: %w", err)
	}
	if removed, err := workspace.Sweep(); err != nil {
		logger.Warn().Err(err).Msg("workspace sweep failed")
	} else if removed > 0 {
		logger.Info().Int("files", removed).Msg("removed leftover job files")
	}

	prefs, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer prefs.Close()

	cacheClient, err := newResultCache(ctx, cfg.Cache)
	if err != nil {
		return fmt.Errorf("cache init failed: %w", err)
	}
	if cacheClient != nil {
		defer cacheClient.Close()
	}

	access, err := auth.NewService(auth.Options{
		APIToken:      cfg.HTTP.APIToken,
		AllowedUsers:  cfg.Access.AllowedUsers,
		AdminUsers:    cfg.Access.AdminUsers,
		AllowlistFile: cfg.Access.AllowlistFile,
	})
	if err != nil {
		return fmt.Errorf("access init failed: %w", err)
	}

	client := telegram.NewClient(telegram.Options{
		Token:         cfg.Telegram.Token,
		BaseURL:       cfg.Telegram.BaseURL,
		RatePerSecond: cfg.Telegram.RatePerSecond,
		Burst:         cfg.Telegram.Burst,
	})
	me, err := client.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram getMe failed: %w", err)
	}
	logger.Info().Str("bot", me.Username).Msg("connected to Telegram")

	service := conversion.NewService(conversion.Deps{
		Converter:  converter,
		Metadata:   converter,
		Workspace:  workspace,
		Downloader: client,
		Notifier:   tgtransport.NewNotifier(client, cfg.Conversion.SecondsPerJob, logger),
		Cache:      resultCache(cacheClient),
	}, conversionOptions(cfg), logger)
	bot := tgtransport.NewBot(client, service, prefs, access, logger)

	if err := client.SetMyCommands(ctx, tgtransport.Commands()); err != nil {
		logger.Warn().Err(err).Msg("setMyCommands failed")
	}

	errs := make(chan error, 3)
	go func() {
		errs <- service.Run(ctx)
	}()

	var srv *http.Server
	if cfg.HTTP.Enabled {
		srv = newHTTPServer(cfg, service, prefs, access, bot, logger)
		go func() {
			logger.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs <- fmt.Errorf("http server: %w", err)
			}
		}()
	}

	switch cfg.Telegram.Mode {
	case config.ModeWebhook:
		if err := client.SetWebhook(ctx, cfg.Telegram.WebhookURL, cfg.Telegram.WebhookSecret); err != nil {
			return fmt.Errorf("setWebhook failed: %w", err)
		}
		logger.Info().Str("url", cfg.Telegram.WebhookURL).Msg("webhook registered")
	default:
		if err := client.DeleteWebhook(ctx, false); err != nil {
			logger.Warn().Err(err).Msg("deleteWebhook failed")
		}
		go func() {
			errs <- bot.Poll(ctx, cfg.Telegram.PollTimeout)
		}()
	}

	logger.Info().Str("mode", cfg.Telegram.Mode).Int("queue_capacity", service.QueueCapacity()).Msg("bot started")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case runErr = <-errs:
		if runErr != nil {
			logger.Error().Err(runErr).Msg("component stopped")
		}
		stop()
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown failed")
			_ = srv.Close()
		}
	}
	logger.Info().Msg("bot stopped")
	return runErr
}

func newHTTPServer(cfg *config.Config, service *conversion.Service, prefs *sqlstore.Store, access *auth.Service, bot *tgtransport.Bot, logger zerolog.Logger) *http.Server {
	opts := httptransport.Options{
		Health: prefs.Ping,
	}
	if cfg.Telegram.Mode == config.ModeWebhook {
		opts.Updates = bot
		opts.WebhookSecret = cfg.Telegram.WebhookSecret
	}
	handler := httptransport.NewHandler(service, prefs, access, opts, logger)
	return &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      httptransport.WithCORS(httptransport.NewRouter(handler), cfg.HTTP.CORSOrigins),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
}
