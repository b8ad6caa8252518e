package archive

import (
	"io"

	"github.com/bodgit/sevenzip"

	"github.com/teranos/pricehist/errors"
	"github.com/teranos/pricehist/price"
)

// ErrUndecodable marks a 7z archive whose coders the built-in reader cannot
// run, such as PPMd. It is always reported together with ErrCorruptArchive.
var ErrUndecodable = errors.New("7z coder not supported by the built-in reader")

// sevenZipStream walks a 7z archive in header order. Solid blocks decode
// fastest when entries are read sequentially, which is the only access
// pattern used here. A folder that fails to decode ends the stream: every
// later entry in it would fail the same way.
type sevenZipStream struct {
	rc     *sevenzip.ReadCloser
	next   int
	limit  int64
	broken error
}

func openSevenZip(path string, limit int64) (EntryStream, error) {
	rc, err := sevenzip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	if err := checkDecodable(rc); err != nil {
		rc.Close()
		return nil, errors.WithHint(err, "set archive.extractor to a 7-Zip command to read this archive")
	}
	return &sevenZipStream{rc: rc, limit: limit}, nil
}

// checkDecodable reads one byte of the first file so an unsupported coder is
// reported once at open instead of once per entry.
func checkDecodable(rc *sevenzip.ReadCloser) error {
	for _, f := range rc.File {
		if f.FileInfo().IsDir() || f.UncompressedSize == 0 {
			continue
		}
		r, err := f.Open()
		if err != nil {
			return errors.Mark(errors.Wrapf(err, "decode %s", f.Name), ErrUndecodable)
		}
		defer r.Close()
		if _, err := r.Read(make([]byte, 1)); err != nil && err != io.EOF {
			return errors.Mark(errors.Wrapf(err, "decode %s", f.Name), ErrUndecodable)
		}
		return nil
	}
	return nil
}

func (s *sevenZipStream) Next() (*price.RawEntry, error) {
	if s.broken != nil {
		return nil, s.broken
	}
	for s.next < len(s.rc.File) {
		f := s.rc.File[s.next]
		s.next++
		if f.FileInfo().IsDir() {
			continue
		}

		if f.UncompressedSize > uint64(s.limit) {
			return nil, &EntryError{Path: f.Name, Err: ErrEntryTooLarge}
		}
		r, err := f.Open()
		if err != nil {
			s.broken = corrupt(err, "decode 7z folder at "+f.Name)
			return nil, s.broken
		}
		data, err := readEntry(r, s.limit)
		r.Close()
		if errors.Is(err, ErrEntryTooLarge) {
			return nil, &EntryError{Path: f.Name, Err: err}
		}
		if err != nil {
			s.broken = corrupt(err, "decode 7z folder at "+f.Name)
			return nil, s.broken
		}
		return price.NewRawEntry(f.Name, data), nil
	}
	return nil, io.EOF
}

func (s *sevenZipStream) Close() error {
	return s.rc.Close()
}
