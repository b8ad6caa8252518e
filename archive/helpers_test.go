package archive

import (
	"archive/tar"
	"io"
	"os"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

type fixtureEntry struct {
	name string
	body string
	dir  bool
}

// writeTarArchive writes entries as a tar stream, compressed per format.
func writeTarArchive(t *testing.T, path string, format Format, entries []fixtureEntry) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	var w io.WriteCloser
	switch format {
	case FormatTarGzip:
		w = gzip.NewWriter(f)
	case FormatTarZstd:
		enc, err := zstd.NewWriter(f)
		require.NoError(t, err)
		w = enc
	case FormatTarXz:
		xw, err := xz.NewWriter(f)
		require.NoError(t, err)
		w = xw
	default:
		w = nopWriteCloser{f}
	}

	tw := tar.NewWriter(w)
	for _, e := range entries {
		if e.dir {
			require.NoError(t, tw.WriteHeader(&tar.Header{Name: e.name, Typeflag: tar.TypeDir, Mode: 0o755}))
			continue
		}
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: e.name, Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(e.body))}))
		_, err := tw.Write([]byte(e.body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, w.Close())
}

func writeZipArchive(t *testing.T, path string, entries []fixtureEntry) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, e := range entries {
		name := e.name
		if e.dir {
			name += "/"
		}
		w, err := zw.Create(name)
		require.NoError(t, err)
		if !e.dir {
			_, err = w.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// drain reads every entry, collecting entry errors separately.
func drain(t *testing.T, s EntryStream) (paths []string, bodies map[string]string, entryErrs []*EntryError, fatal error) {
	t.Helper()
	bodies = map[string]string{}
	for {
		e, err := s.Next()
		if err == io.EOF {
			return
		}
		if err != nil {
			var ee *EntryError
			if asEntryError(err, &ee) {
				entryErrs = append(entryErrs, ee)
				continue
			}
			fatal = err
			return
		}
		paths = append(paths, e.Path)
		bodies[e.Path] = string(e.Data)
	}
}

func asEntryError(err error, target **EntryError) bool {
	ee, ok := err.(*EntryError)
	if ok {
		*target = ee
	}
	return ok
}
