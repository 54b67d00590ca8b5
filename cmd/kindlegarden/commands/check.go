package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"kindlegarden/cmd/kindlegarden/ui"
	"kindlegarden/internal/infrastructure/calibre"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify Calibre, the database and the cache are reachable",
	Args:  cobra.NoArgs,
	RunE:  runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.RequireToken(); err != nil {
		ui.Warning("%v", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	var failed int
	settings, err := calibreSettings(cfg.Calibre)
	if err != nil {
		return err
	}
	version, err := calibre.NewConverter(settings).Version(ctx)
	if err != nil {
		failed++
		ui.Error("ebook-convert: %v", err)
	} else {
		ui.Success("ebook-convert: %s", version)
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		failed++
		ui.Error("database (%s): %v", cfg.Database.Driver, err)
	} else {
		ui.Success("database (%s): ok", cfg.Database.Driver)
		_ = store.Close()
	}

	client, err := newResultCache(ctx, cfg.Cache)
	switch {
	case err != nil:
		failed++
		ui.Error("cache (%s): %v", cfg.Cache.Driver, err)
	case client == nil:
		ui.Info("cache: disabled")
	default:
		ui.Success("cache (%s): ok", cfg.Cache.Driver)
		_ = client.Close()
	}

	if failed > 0 {
		return fmt.Errorf("%d checks failed", failed)
	}
	return nil
}
