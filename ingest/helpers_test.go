package ingest

import (
	"archive/tar"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/pricehist/archive"
	"github.com/teranos/pricehist/errors"
	testdb "github.com/teranos/pricehist/internal/testing"
	"github.com/teranos/pricehist/price"
	"github.com/teranos/pricehist/store"
)

type fixtureEntry struct {
	path string
	body string
}

// writeTarGz writes entries as a gzip-compressed tar archive.
func writeTarGz(t *testing.T, path string, entries []fixtureEntry) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: e.path, Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(e.body))}))
		_, err := tw.Write([]byte(e.body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
}

// fakeFetcher serves pre-built archives from a temp directory. Dates without
// an archive are reported as not published.
type fakeFetcher struct {
	mu    sync.Mutex
	dir   string
	paths map[string]string
	errs  map[string]error
	calls map[string]int
	hook  func(ctx context.Context, d price.Date)
}

func newFakeFetcher(t *testing.T) *fakeFetcher {
	return &fakeFetcher{
		dir:   t.TempDir(),
		paths: map[string]string{},
		errs:  map[string]error{},
		calls: map[string]int{},
	}
}

func (f *fakeFetcher) publish(t *testing.T, date string, entries ...fixtureEntry) string {
	t.Helper()
	path := filepath.Join(f.dir, "prices-"+date+".tar.gz")
	writeTarGz(t, path, entries)
	f.paths[date] = path
	return path
}

func (f *fakeFetcher) publishRaw(t *testing.T, date string, data []byte) {
	t.Helper()
	path := filepath.Join(f.dir, "prices-"+date+".tar.gz")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	f.paths[date] = path
}

func (f *fakeFetcher) Fetch(ctx context.Context, d price.Date) (*archive.Handle, error) {
	f.mu.Lock()
	f.calls[d.String()]++
	hook := f.hook
	err := f.errs[d.String()]
	path, ok := f.paths[d.String()]
	f.mu.Unlock()

	if hook != nil {
		hook(ctx, d)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &archive.FetchError{Kind: archive.NotFound, Date: d, Err: errors.New("404 Not Found")}
	}
	info, statErr := os.Stat(path)
	if statErr != nil {
		return nil, &archive.FetchError{Kind: archive.Transient, Date: d, Err: statErr}
	}
	return &archive.Handle{Date: d, Path: path, Size: info.Size(), Attempts: 1}, nil
}

func (f *fakeFetcher) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func newTestStore(t *testing.T) *store.SQLStore {
	t.Helper()
	return store.NewSQLStore(testdb.CreateTestDB(t), zaptest.NewLogger(t).Sugar())
}

func dates(values ...string) []price.Date {
	out := make([]price.Date, len(values))
	for i, v := range values {
		out[i] = price.MustParseDate(v)
	}
	return out
}

func single(date, product, body string) fixtureEntry {
	return fixtureEntry{path: date + "/3/" + product + "/prices", body: body}
}
