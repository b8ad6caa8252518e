package archive

import (
	"archive/tar"
	"bufio"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"

	"github.com/teranos/pricehist/errors"
	"github.com/teranos/pricehist/price"
)

// tarStream reads a tar archive, optionally behind a compression layer.
// A broken tar header ends the stream as corrupt; tar has no index to skip
// past it.
type tarStream struct {
	tr      *tar.Reader
	closers []io.Closer
	limit   int64
	broken  error
}

func openTar(path string, format Format, limit int64) (EntryStream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, classifyLocalError(err)
	}
	closers := []io.Closer{f}
	var r io.Reader = bufio.NewReaderSize(f, 1<<16)

	switch format {
	case FormatTarGzip:
		gz, err := gzip.NewReader(r)
		if err != nil {
			f.Close()
			return nil, err
		}
		closers = append(closers, gz)
		r = gz
	case FormatTarZstd:
		dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			f.Close()
			return nil, err
		}
		rc := dec.IOReadCloser()
		closers = append(closers, rc)
		r = rc
	case FormatTarXz:
		xr, err := xz.NewReader(r)
		if err != nil {
			f.Close()
			return nil, err
		}
		r = xr
	}

	return &tarStream{tr: tar.NewReader(r), closers: closers, limit: limit}, nil
}

func (s *tarStream) Next() (*price.RawEntry, error) {
	if s.broken != nil {
		return nil, s.broken
	}
	for {
		hdr, err := s.tr.Next()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			s.broken = corrupt(err, "read tar header")
			return nil, s.broken
		}
		if !hdr.FileInfo().Mode().IsRegular() {
			continue
		}
		if hdr.Size > s.limit {
			// tar.Reader skips the unread body on the next call.
			return nil, &EntryError{Path: hdr.Name, Err: ErrEntryTooLarge}
		}

		data, err := readEntry(s.tr, s.limit)
		if err != nil {
			if errors.Is(err, ErrEntryTooLarge) {
				return nil, &EntryError{Path: hdr.Name, Err: err}
			}
			// The underlying stream is damaged mid-entry.
			s.broken = corrupt(err, "read tar entry "+hdr.Name)
			return nil, s.broken
		}
		return price.NewRawEntry(hdr.Name, data), nil
	}
}

func (s *tarStream) Close() error {
	var errs error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	return errs
}
