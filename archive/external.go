package archive

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/pricehist/errors"
	"github.com/teranos/pricehist/price"
)

// DefaultExtractTimeout bounds one external extraction.
const DefaultExtractTimeout = 10 * time.Minute

// Extractor opens archives in-process and falls back to a 7-Zip command
// line tool for 7z archives whose coders the built-in reader lacks (the
// published price archives use PPMd).
type Extractor struct {
	// Command is the 7-Zip executable; empty disables the fallback.
	Command string
	// ScratchDir holds temporary extraction trees; empty uses os.TempDir.
	ScratchDir string
	Timeout    time.Duration
	log        *zap.SugaredLogger
}

// NewExtractor returns an extractor running command for undecodable 7z
// archives.
func NewExtractor(command, scratchDir string, log *zap.SugaredLogger) *Extractor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Extractor{Command: command, ScratchDir: scratchDir, Timeout: DefaultExtractTimeout, log: log}
}

// Open has the same contract as the package-level Open.
func (x *Extractor) Open(path string, maxEntryBytes int64) (EntryStream, error) {
	stream, err := Open(path, maxEntryBytes)
	if err == nil || x.Command == "" || !errors.Is(err, errors.ErrCorruptArchive) {
		return stream, err
	}
	if format, _ := DetectFormat(path); format != FormatSevenZip {
		return nil, err
	}
	if maxEntryBytes <= 0 {
		maxEntryBytes = DefaultMaxEntryBytes
	}
	x.log.Debugw("built-in 7z reader failed, extracting externally", "archive", filepath.Base(path), "command", x.Command, "reason", err)
	return x.extract(path, maxEntryBytes)
}

func (x *Extractor) extract(path string, limit int64) (EntryStream, error) {
	bin, err := exec.LookPath(x.Command)
	if err != nil {
		return nil, errors.WithHint(
			errors.Fatal(errors.Wrapf(err, "7z extractor %q", x.Command), "archive extractor unavailable"),
			"install p7zip or 7-Zip, or set archive.extractor to its path",
		)
	}

	if x.ScratchDir != "" {
		if err := os.MkdirAll(x.ScratchDir, 0o755); err != nil {
			return nil, classifyLocalError(errors.Wrap(err, "create extraction scratch dir"))
		}
	}
	dir, err := os.MkdirTemp(x.ScratchDir, ".extract-*")
	if err != nil {
		return nil, classifyLocalError(errors.Wrap(err, "create extraction dir"))
	}

	ctx := context.Background()
	if x.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, x.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, bin, "x", "-y", "-bd", "-o"+dir, path)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		os.RemoveAll(dir)
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, errors.WithDetail(
				corrupt(err, "extract "+filepath.Base(path)),
				lastLines(out.String(), 5),
			)
		}
		return nil, classifyLocalError(errors.Wrapf(err, "run %s", x.Command))
	}

	stream, err := newDirStream(dir, limit)
	if err != nil {
		os.RemoveAll(dir)
		return nil, corrupt(err, "walk extracted "+filepath.Base(path))
	}
	return stream, nil
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// dirStream serves the regular files of an extraction tree in lexical order
// and removes the tree on Close.
type dirStream struct {
	root  string
	files []string
	next  int
	limit int64
}

func newDirStream(root string, limit int64) (*dirStream, error) {
	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return err
			}
			files = append(files, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &dirStream{root: root, files: files, limit: limit}, nil
}

func (s *dirStream) Next() (*price.RawEntry, error) {
	if s.next >= len(s.files) {
		return nil, io.EOF
	}
	name := s.files[s.next]
	s.next++

	f, err := os.Open(filepath.Join(s.root, filepath.FromSlash(name)))
	if err != nil {
		return nil, &EntryError{Path: name, Err: err}
	}
	defer f.Close()
	data, err := readEntry(f, s.limit)
	if err != nil {
		return nil, &EntryError{Path: name, Err: err}
	}
	return price.NewRawEntry(name, data), nil
}

func (s *dirStream) Close() error {
	return os.RemoveAll(s.root)
}
