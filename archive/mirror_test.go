package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/pricehist/errors"
	"github.com/teranos/pricehist/internal/httpclient"
	"github.com/teranos/pricehist/price"
)

func newMirrorFetcher(t *testing.T, base string) (*Fetcher, *Locator) {
	t.Helper()
	locator := &Locator{BaseURL: base, FilePrefix: "prices-", Suffix: ".tar.gz", Dir: t.TempDir()}
	f := NewFetcher(locator, httpclient.NewSaferClient(0), FetchOptions{
		MaxAttempts: 1,
		FirstDate:   price.MustParseDate("2024-02-08"),
		Now:         fixedNow,
	}, zaptest.NewLogger(t).Sugar())
	f.freeSpace = nil
	return f, locator
}

func TestMirrorCopiesLocalArchive(t *testing.T) {
	mirrorDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(mirrorDir, "prices-2025-10-17.tar.gz"), []byte("mirrored"), 0o644))

	for _, base := range []string{mirrorDir, "file::" + mirrorDir} {
		t.Run(base, func(t *testing.T) {
			f, locator := newMirrorFetcher(t, base)
			require.NotNil(t, f.mirror)

			h, err := f.Fetch(context.Background(), price.MustParseDate("2025-10-17"))
			require.NoError(t, err)

			info, err := os.Lstat(h.Path)
			require.NoError(t, err)
			assert.True(t, info.Mode().IsRegular(), "mirror copies rather than symlinks")
			data, err := os.ReadFile(h.Path)
			require.NoError(t, err)
			assert.Equal(t, "mirrored", string(data))
			assertNoPartials(t, locator.Dir)
		})
	}
}

func TestMirrorMissingArchiveIsNotFound(t *testing.T) {
	f, _ := newMirrorFetcher(t, t.TempDir())

	_, err := f.Fetch(context.Background(), price.MustParseDate("2025-10-17"))
	require.Error(t, err)
	assert.True(t, errors.IsRemoteUnavailable(err))
}

func TestLocalSourcePath(t *testing.T) {
	path, ok := localSourcePath("file::file:///mnt/mirror/a.7z")
	require.True(t, ok)
	assert.Equal(t, "/mnt/mirror/a.7z", path)

	path, ok = localSourcePath("file:///srv/a.7z")
	require.True(t, ok)
	assert.Equal(t, "/srv/a.7z", path)

	_, ok = localSourcePath("s3::https://s3.amazonaws.com/bucket/a.7z")
	assert.False(t, ok)
}

func TestLooksMissing(t *testing.T) {
	assert.True(t, looksMissing(errors.New("NoSuchKey: The specified key does not exist")))
	assert.True(t, looksMissing(errors.New("bad response code: 404")))
	assert.False(t, looksMissing(errors.New("connection reset by peer")))
}
