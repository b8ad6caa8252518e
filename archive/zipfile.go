package archive

import (
	"io"

	"github.com/klauspost/compress/zip"

	"github.com/teranos/pricehist/price"
)

type zipStream struct {
	rc    *zip.ReadCloser
	next  int
	limit int64
}

func openZip(path string, limit int64) (EntryStream, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	return &zipStream{rc: rc, limit: limit}, nil
}

func (s *zipStream) Next() (*price.RawEntry, error) {
	for s.next < len(s.rc.File) {
		f := s.rc.File[s.next]
		s.next++
		if f.FileInfo().IsDir() {
			continue
		}
		if f.UncompressedSize64 > uint64(s.limit) {
			return nil, &EntryError{Path: f.Name, Err: ErrEntryTooLarge}
		}

		r, err := f.Open()
		if err != nil {
			return nil, &EntryError{Path: f.Name, Err: err}
		}
		data, err := readEntry(r, s.limit)
		r.Close()
		if err != nil {
			return nil, &EntryError{Path: f.Name, Err: err}
		}
		return price.NewRawEntry(f.Name, data), nil
	}
	return nil, io.EOF
}

func (s *zipStream) Close() error {
	return s.rc.Close()
}
