package archive

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/teranos/pricehist/errors"
	"github.com/teranos/pricehist/price"
)

// DefaultMaxEntryBytes bounds a single entry held in memory.
const DefaultMaxEntryBytes = 8 << 20

// EntryStream yields an archive's file entries one at a time. Directories
// are never returned. At the end Next returns io.EOF.
//
// Next returns *EntryError for a single unreadable entry; the stream stays
// usable and the caller may continue. Any other error wraps
// errors.ErrCorruptArchive and ends the stream.
type EntryStream interface {
	Next() (*price.RawEntry, error)
	Close() error
}

// EntryError is one entry that could not be read.
type EntryError struct {
	Path string
	Err  error
}

func (e *EntryError) Error() string { return "entry " + e.Path + ": " + e.Err.Error() }

func (e *EntryError) Unwrap() error { return e.Err }

func (e *EntryError) Is(target error) bool { return target == errors.ErrMalformedRecord }

// ErrEntryTooLarge is wrapped by EntryError when an entry exceeds the limit.
var ErrEntryTooLarge = errors.New("entry exceeds size limit")

// Format is a supported container layout.
type Format string

const (
	FormatSevenZip Format = "7z"
	FormatZip      Format = "zip"
	FormatTar      Format = "tar"
	FormatTarGzip  Format = "tar.gz"
	FormatTarZstd  Format = "tar.zst"
	FormatTarXz    Format = "tar.xz"
)

// DetectFormat picks the container format from the file name.
func DetectFormat(path string) (Format, bool) {
	name := strings.ToLower(filepath.Base(path))
	switch {
	case strings.HasSuffix(name, ".7z"):
		return FormatSevenZip, true
	case strings.HasSuffix(name, ".zip"):
		return FormatZip, true
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return FormatTarGzip, true
	case strings.HasSuffix(name, ".tar.zst"), strings.HasSuffix(name, ".tzst"):
		return FormatTarZstd, true
	case strings.HasSuffix(name, ".tar.xz"), strings.HasSuffix(name, ".txz"):
		return FormatTarXz, true
	case strings.HasSuffix(name, ".tar"):
		return FormatTar, true
	}
	return "", false
}

// Open opens the archive at path for streaming. maxEntryBytes <= 0 uses
// DefaultMaxEntryBytes.
func Open(path string, maxEntryBytes int64) (EntryStream, error) {
	if maxEntryBytes <= 0 {
		maxEntryBytes = DefaultMaxEntryBytes
	}
	format, ok := DetectFormat(path)
	if !ok {
		return nil, errors.Mark(errors.Newf("unrecognised archive format: %s", filepath.Base(path)), errors.ErrCorruptArchive)
	}

	var (
		stream EntryStream
		err    error
	)
	switch format {
	case FormatSevenZip:
		stream, err = openSevenZip(path, maxEntryBytes)
	case FormatZip:
		stream, err = openZip(path, maxEntryBytes)
	default:
		stream, err = openTar(path, format, maxEntryBytes)
	}
	if err != nil {
		if local := classifyLocalError(err); errors.IsFatal(local) {
			return nil, local
		}
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "archive for %s vanished", filepath.Base(path))
		}
		return nil, errors.Mark(errors.Wrapf(err, "open %s archive %s", format, filepath.Base(path)), errors.ErrCorruptArchive)
	}
	return stream, nil
}

// readEntry reads r fully, failing with ErrEntryTooLarge past limit bytes.
func readEntry(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errors.Wrapf(ErrEntryTooLarge, "limit %d bytes", limit)
	}
	return data, nil
}

func corrupt(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), errors.ErrCorruptArchive)
}
