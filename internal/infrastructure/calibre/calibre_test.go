package calibre

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kindlegarden/internal/application/conversion"
	"kindlegarden/internal/domain/book"
)

// fakeTool writes an executable shell script standing in for a calibre binary.
func fakeTool(t *testing.T, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell fakes need a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), name)
	script := "#!/bin/sh\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestArgs_DefaultProfile(t *testing.T) {
	c := NewConverter(DefaultSettings())
	args := c.Args(conversion.Request{
		InputPath:  "in.fb2",
		OutputPath: "out.mobi",
		Format:     book.FormatMOBI,
		CoverPath:  "cover.jpg",
	})

	assert.Equal(t, []string{"in.fb2", "out.mobi"}, args[:2])
	joined := strings.Join(args, " ")
	assert.Contains(t, joined, "--output-profile kindle_pw3")
	assert.Contains(t, joined, "--margin-left 0 --margin-right 0 --margin-top 0 --margin-bottom 0")
	assert.Contains(t, args, "body { font-family: serif; line-height: 1.4; }")
	assert.Contains(t, joined, "--cover cover.jpg")
	assert.Equal(t, "--mobi-keep-original-images", args[len(args)-1])
}

func TestArgs_OmitsUnsetFlags(t *testing.T) {
	c := NewConverter(Settings{ExtraArgs: []string{"--no-inline-toc"}})
	args := c.Args(conversion.Request{InputPath: "a.epub", OutputPath: "b.azw3", Format: book.FormatAZW3, CoverPath: "c.jpg"})
	assert.Equal(t, []string{"a.epub", "b.azw3", "--no-inline-toc"}, args)
}

func TestConvert_Success(t *testing.T) {
	dir := t.TempDir()
	argsFile := filepath.Join(dir, "args")
	bin := fakeTool(t, "ebook-convert", `echo "$@" > "`+argsFile+`"
printf 'converted' > "$2"`)

	c := NewConverter(Settings{ConvertBin: bin, OutputProfile: "kindle_pw3"})
	out := filepath.Join(dir, "nested", "out.azw3")
	err := c.Convert(context.Background(), conversion.Request{InputPath: "in.fb2", OutputPath: out, Format: book.FormatAZW3})
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "converted", string(data))

	recorded, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Contains(t, string(recorded), "--output-profile kindle_pw3")
}

func TestConvert_NonZeroExitCarriesStderr(t *testing.T) {
	bin := fakeTool(t, "ebook-convert", `echo "Traceback: invalid FB2 header" >&2
exit 1`)

	c := NewConverter(Settings{ConvertBin: bin})
	err := c.Convert(context.Background(), conversion.Request{InputPath: "in.fb2", OutputPath: filepath.Join(t.TempDir(), "out.epub")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid FB2 header")
	assert.False(t, errors.Is(err, ErrTimeout))
}

func TestConvert_EmptyOutput(t *testing.T) {
	bin := fakeTool(t, "ebook-convert", `: > "$2"`)

	c := NewConverter(Settings{ConvertBin: bin})
	out := filepath.Join(t.TempDir(), "out.epub")
	err := c.Convert(context.Background(), conversion.Request{InputPath: "in.fb2", OutputPath: out})
	assert.True(t, errors.Is(err, ErrEmptyOutput))
}

func TestConvert_MissingOutput(t *testing.T) {
	bin := fakeTool(t, "ebook-convert", `exit 0`)

	c := NewConverter(Settings{ConvertBin: bin})
	err := c.Convert(context.Background(), conversion.Request{InputPath: "in.fb2", OutputPath: filepath.Join(t.TempDir(), "out.epub")})
	assert.True(t, errors.Is(err, ErrEmptyOutput))
}

func TestConvert_Timeout(t *testing.T) {
	bin := fakeTool(t, "ebook-convert", `exec sleep 5`)

	c := NewConverter(Settings{ConvertBin: bin})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	started := time.Now()
	err := c.Convert(ctx, conversion.Request{InputPath: "in.fb2", OutputPath: filepath.Join(t.TempDir(), "out.epub")})
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Less(t, time.Since(started), 4*time.Second)
}

func TestConvert_TimeoutKillsChildProcesses(t *testing.T) {
	// The shell stays alive and forks sleep, which inherits the output pipes.
	bin := fakeTool(t, "ebook-convert", `sleep 5
echo finished`)

	c := NewConverter(Settings{ConvertBin: bin})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	started := time.Now()
	err := c.Convert(ctx, conversion.Request{InputPath: "in.fb2", OutputPath: filepath.Join(t.TempDir(), "out.epub")})
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Less(t, time.Since(started), 3*time.Second)
}

func TestVersion(t *testing.T) {
	bin := fakeTool(t, "ebook-convert", `echo "ebook-convert (calibre 7.6.0)"
echo "Created by: Kovid Goyal"`)

	c := NewConverter(Settings{ConvertBin: bin})
	version, err := c.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ebook-convert (calibre 7.6.0)", version)
}

func TestVersion_MissingBinary(t *testing.T) {
	c := NewConverter(Settings{ConvertBin: filepath.Join(t.TempDir(), "missing")})
	_, err := c.Version(context.Background())
	assert.Error(t, err)
}
