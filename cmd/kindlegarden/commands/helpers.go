package commands

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"kindlegarden/internal/application/conversion"
	"kindlegarden/internal/config"
	"kindlegarden/internal/domain/book"
	"kindlegarden/internal/infrastructure/cache"
	"kindlegarden/internal/infrastructure/calibre"
	"kindlegarden/internal/infrastructure/sqlstore"
	"kindlegarden/internal/observability"
)

// loadConfig reads .env (if present), the YAML file and env overrides.
func loadConfig() (*config.Config, error) {
	_ = godotenv.Load()
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (zerolog.Logger, io.Closer, error) {
	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	return observability.NewLogger(observability.LogConfig{
		Level:       level,
		Format:      cfg.Log.Format,
		File:        cfg.Log.File,
		ServiceName: "kindlegarden",
	})
}

// calibreSettings maps the calibre config section onto adapter settings.
func calibreSettings(cfg config.CalibreConfig) (calibre.Settings, error) {
	settings := calibre.Settings{
		ConvertBin:    cfg.ConvertBin,
		MetaBin:       cfg.MetaBin,
		OutputProfile: cfg.OutputProfile,
		Margin:        cfg.Margin,
		ExtraCSS:      cfg.ExtraCSS,
		PassCover:     cfg.PassCover,
		FormatFlags:   make(map[book.Format][]string, len(cfg.FormatFlags)),
		ExtraArgs:     cfg.ExtraArgs,
	}
	for name, flags := range cfg.FormatFlags {
		format, err := book.ParseFormat(name)
		if err != nil {
			return calibre.Settings{}, fmt.Errorf("calibre.format_flags: %w: %s", err, name)
		}
		settings.FormatFlags[format] = flags
	}
	return settings, nil
}

func openStore(ctx context.Context, cfg *config.Config) (*sqlstore.Store, error) {
	return sqlstore.Open(ctx, cfg.Database.Driver, cfg.DatabaseDSN())
}

// newResultCache returns nil when caching is disabled.
func newResultCache(ctx context.Context, cfg config.CacheConfig) (cache.Client, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "none":
		return nil, nil
	case "memory":
		return cache.NewMemoryClient(cfg.MaxEntries), nil
	case "redis":
		return cache.NewRedisClient(ctx, cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
	default:
		return nil, fmt.Errorf("unsupported cache driver: %s", cfg.Driver)
	}
}

// resultCache converts a possibly nil client into the service port without
// producing a non-nil interface around a nil pointer.
func resultCache(client cache.Client) conversion.ResultCache {
	if client == nil {
		return nil
	}
	return client
}

func conversionOptions(cfg *config.Config) conversion.Options {
	return conversion.Options{
		QueueCapacity:   cfg.Conversion.QueueCapacity,
		MaxUploadBytes:  cfg.MaxUploadBytes(),
		ConvertTimeout:  cfg.Conversion.ConvertTimeout,
		MetadataTimeout: cfg.Conversion.MetadataTimeout,
		RestartDelay:    cfg.Conversion.RestartDelay,
		DiagnosticLimit: cfg.Conversion.DiagnosticLimit,
		ExtractCover:    cfg.Conversion.ExtractCover,
		CacheTTL:        cfg.Cache.TTL,
	}
}
