package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"kindlegarden/cmd/kindlegarden/ui"
	"kindlegarden/internal/application/conversion"
	"kindlegarden/internal/config"
	"kindlegarden/internal/domain/book"
	"kindlegarden/internal/infrastructure/calibre"
	"kindlegarden/internal/infrastructure/filesystem"
)

var (
	convertFormat string
	convertOutput string
)

var convertCmd = &cobra.Command{
	Use:   "convert <input>...",
	Short: "Convert local books with the bot's Calibre settings",
	Long: `Convert one or more .fb2, .fb2.zip or .epub files on this machine using
the same ebook-convert flags the bot uses. Results are written to the output
directory (default: next to each input).`,
	Args: cobra.MinimumNArgs(1),
	RunE: runConvert,
}

func init() {
	convertCmd.Flags().StringVarP(&convertFormat, "format", "f", string(book.DefaultFormat), "output format: azw3, epub or mobi")
	convertCmd.Flags().StringVarP(&convertOutput, "output", "o", "", "output directory")
	rootCmd.AddCommand(convertCmd)
}

// localConverter runs the worker's conversion steps for files on disk.
type localConverter struct {
	converter *calibre.Converter
	workspace *filesystem.Store
	format    book.Format
	outDir    string
	cfg       *config.Config
	seq       int
}

func runConvert(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	format, err := book.ParseFormat(convertFormat)
	if err != nil {
		return fmt.Errorf("%w: %s", err, convertFormat)
	}
	settings, err := calibreSettings(cfg.Calibre)
	if err != nil {
		return err
	}

	tmp, err := os.MkdirTemp("", "kindlegarden-*")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	lc := &localConverter{
		converter: calibre.NewConverter(settings),
		workspace: filesystem.NewStore(tmp, cfg.MaxUnpackedBytes()),
		format:    format,
		outDir:    convertOutput,
		cfg:       cfg,
	}
	ctx := cmd.Context()

	if len(args) == 1 {
		s := ui.NewSpinner(fmt.Sprintf("Converting %s to %s...", filepath.Base(args[0]), format.Label()))
		s.Start()
		out, info, err := lc.convert(ctx, args[0])
		s.Stop()
		if err != nil {
			return err
		}
		if info.Title != "" {
			ui.Info("%s by %s", info.Title, info.DisplayAuthors())
		}
		ui.Success("Wrote %s", out)
		return nil
	}

	bar := ui.NewProgressBar(int64(len(args)), "Converting")
	var failed int
	for _, input := range args {
		bar.Describe(filepath.Base(input))
		out, _, err := lc.convert(ctx, input)
		bar.Add(1)
		if err != nil {
			failed++
			ui.Error("%s: %v", input, conversion.Truncate(err.Error(), cfg.Conversion.DiagnosticLimit))
			continue
		}
		ui.Debug("wrote %s", out)
	}
	bar.Finish()

	if failed > 0 {
		return fmt.Errorf("%d of %d conversions failed", failed, len(args))
	}
	ui.Success("Converted %d books to %s", len(args), format.Label())
	return nil
}

func (lc *localConverter) convert(ctx context.Context, input string) (string, book.Info, error) {
	suffix, ok := book.UploadSuffix(filepath.Base(input))
	if !ok {
		return "", book.Info{}, fmt.Errorf("%w: %s", book.ErrUnsupportedType, input)
	}
	if _, err := os.Stat(input); err != nil {
		return "", book.Info{}, err
	}

	lc.seq++
	paths := lc.workspace.JobPaths(fmt.Sprintf("cli-%d", lc.seq), suffix, lc.format)
	defer lc.workspace.Remove(paths.Unpacked, paths.Cover)

	source := input
	if book.IsArchive(suffix) {
		if err := lc.workspace.Unpack(input, paths.Unpacked); err != nil {
			return "", book.Info{}, fmt.Errorf("unpack %s: %w", input, err)
		}
		source = paths.Unpacked
	}

	metaCtx, cancel := context.WithTimeout(ctx, lc.cfg.Conversion.MetadataTimeout)
	info, err := lc.converter.ReadInfo(metaCtx, source)
	if err != nil {
		ui.Debug("metadata unavailable: %v", err)
	}
	req := conversion.Request{InputPath: source, OutputPath: lc.outputPath(input), Format: lc.format}
	if lc.cfg.Conversion.ExtractCover {
		if found, _ := lc.converter.ExtractCover(metaCtx, source, paths.Cover); found {
			info.HasCover = true
			req.CoverPath = paths.Cover
		}
	}
	cancel()

	convertCtx, cancel := context.WithTimeout(ctx, lc.cfg.Conversion.ConvertTimeout)
	defer cancel()
	start := time.Now()
	if err := lc.converter.Convert(convertCtx, req); err != nil {
		return "", info, err
	}
	ui.Debug("%s converted in %s", filepath.Base(input), time.Since(start).Round(time.Millisecond))
	return req.OutputPath, info, nil
}

// outputPath never points at the input, even for epub to epub.
func (lc *localConverter) outputPath(input string) string {
	dir := lc.outDir
	if dir == "" {
		dir = filepath.Dir(input)
	}
	stem := book.Stem(filepath.Base(input))
	out := filepath.Join(dir, stem+lc.format.Extension())
	if absOut, _ := filepath.Abs(out); strings.EqualFold(absOut, mustAbs(input)) {
		out = filepath.Join(dir, stem+"-kindle"+lc.format.Extension())
	}
	return out
}

func mustAbs(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
