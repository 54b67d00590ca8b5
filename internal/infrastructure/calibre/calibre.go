package calibre

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"kindlegarden/internal/application/conversion"
	"kindlegarden/internal/domain/book"
)

// waitDelay bounds how long Wait keeps reading output pipes after the
// process was killed.
const waitDelay = 2 * time.Second

var (
	ErrTimeout     = errors.New("calibre tool timed out")
	ErrEmptyOutput = errors.New("ebook-convert produced no output")
)

// Settings select the binaries and the flag set passed to ebook-convert.
type Settings struct {
	ConvertBin    string
	MetaBin       string
	OutputProfile string
	Margin        string
	ExtraCSS      string
	PassCover     bool
	FormatFlags   map[book.Format][]string
	ExtraArgs     []string
}

// DefaultSettings reproduces the Kindle-oriented profile the bot ships with.
func DefaultSettings() Settings {
	return Settings{
		ConvertBin:    "ebook-convert",
		MetaBin:       "ebook-meta",
		OutputProfile: "kindle_pw3",
		Margin:        "0",
		ExtraCSS:      "body { font-family: serif; line-height: 1.4; }",
		PassCover:     true,
		FormatFlags: map[book.Format][]string{
			book.FormatMOBI: {"--mobi-keep-original-images"},
		},
	}
}

// Converter wraps ebook-convert and ebook-meta calls.
type Converter struct {
	settings Settings
}

// NewConverter creates the calibre adapter. Empty binary names fall back to
// the tools on PATH.
func NewConverter(settings Settings) *Converter {
	if settings.ConvertBin == "" {
		settings.ConvertBin = "ebook-convert"
	}
	if settings.MetaBin == "" {
		settings.MetaBin = "ebook-meta"
	}
	return &Converter{settings: settings}
}

// Args builds the ebook-convert argument list for a request.
func (c *Converter) Args(req conversion.Request) []string {
	s := c.settings
	args := []string{req.InputPath, req.OutputPath}
	if s.OutputProfile != "" {
		args = append(args, "--output-profile", s.OutputProfile)
	}
	if s.Margin != "" {
		for _, side := range []string{"left", "right", "top", "bottom"} {
			args = append(args, "--margin-"+side, s.Margin)
		}
	}
	if s.ExtraCSS != "" {
		args = append(args, "--extra-css", s.ExtraCSS)
	}
	if s.PassCover && req.CoverPath != "" {
		args = append(args, "--cover", req.CoverPath)
	}
	args = append(args, s.FormatFlags[req.Format]...)
	args = append(args, s.ExtraArgs...)
	return args
}

// Convert runs ebook-convert and checks that a non-empty output exists.
func (c *Converter) Convert(ctx context.Context, req conversion.Request) error {
	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return err
	}
	_ = os.Remove(req.OutputPath)

	if _, err := run(ctx, c.settings.ConvertBin, c.Args(req)...); err != nil {
		_ = os.Remove(req.OutputPath)
		return err
	}

	info, err := os.Stat(req.OutputPath)
	if err != nil || info.Size() == 0 {
		return ErrEmptyOutput
	}
	return nil
}

// Version returns the first line of `ebook-convert --version`.
func (c *Converter) Version(ctx context.Context) (string, error) {
	out, err := run(ctx, c.settings.ConvertBin, "--version")
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	return strings.TrimSpace(line), nil
}

func run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	killGroup(cmd)
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) {
			return "", fmt.Errorf("%s: %w: %w", name, ErrTimeout, ctxErr)
		}
		diag := strings.TrimSpace(stderr.String())
		if diag == "" {
			diag = strings.TrimSpace(stdout.String())
		}
		return "", fmt.Errorf("%s failed: %w: %s", name, err, diag)
	}
	return stdout.String(), nil
}
