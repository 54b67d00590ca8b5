package calibre

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kindlegarden/internal/domain/book"
)

func TestParseMeta(t *testing.T) {
	out := `Title               : Dune
Author(s)           : Frank Herbert & Brian Herbert [Herbert, Frank & Herbert, Brian]
Publisher           : Ace
Languages           : eng
`
	info := ParseMeta(out)
	assert.Equal(t, "Dune", info.Title)
	assert.Equal(t, []string{"Frank Herbert", "Brian Herbert"}, info.Authors)
	assert.False(t, info.HasCover)
}

func TestParseMeta_TitleWithColon(t *testing.T) {
	info := ParseMeta("Title : Foundation: Prelude\n")
	assert.Equal(t, "Foundation: Prelude", info.Title)
	assert.Empty(t, info.Authors)
}

func TestParseMeta_Garbage(t *testing.T) {
	assert.Equal(t, book.Info{}, ParseMeta("Traceback (most recent call last)\n\x00\x01"))
	assert.Equal(t, book.Info{}, ParseMeta(""))
}

func TestReadInfo(t *testing.T) {
	bin := fakeTool(t, "ebook-meta", `echo "Title : Solaris"
echo "Author(s) : Stanisław Lem [Lem, Stanisław]"`)

	c := NewConverter(Settings{MetaBin: bin})
	info, err := c.ReadInfo(context.Background(), "book.fb2")
	require.NoError(t, err)
	assert.Equal(t, "Solaris", info.Title)
	assert.Equal(t, []string{"Stanisław Lem"}, info.Authors)
}

func TestExtractCover(t *testing.T) {
	bin := fakeTool(t, "ebook-meta", `case "$2" in
--get-cover=*) printf 'jpeg' > "${2#--get-cover=}" ;;
esac`)

	c := NewConverter(Settings{MetaBin: bin})
	cover := filepath.Join(t.TempDir(), "cover.jpg")
	found, err := c.ExtractCover(context.Background(), "book.fb2", cover)
	require.NoError(t, err)
	assert.True(t, found)
	assert.FileExists(t, cover)
}

func TestExtractCover_NoCover(t *testing.T) {
	bin := fakeTool(t, "ebook-meta", `echo "No cover found" >&2`)

	c := NewConverter(Settings{MetaBin: bin})
	cover := filepath.Join(t.TempDir(), "cover.jpg")
	found, err := c.ExtractCover(context.Background(), "book.fb2", cover)
	require.NoError(t, err)
	assert.False(t, found)
	_, statErr := os.Stat(cover)
	assert.True(t, os.IsNotExist(statErr))
}
