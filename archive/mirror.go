package archive

import (
	"context"
	"net/url"
	"os"
	"strings"

	getter "github.com/hashicorp/go-getter"
	"go.uber.org/zap"

	"github.com/teranos/pricehist/errors"
)

// Mirror fetches archives from non-HTTP sources through go-getter: s3::,
// gcs::, file:: or a plain local path. Archives are copied byte for byte;
// go-getter's own decompression is switched off.
type Mirror struct {
	getters map[string]getter.Getter
	log     *zap.SugaredLogger
}

// NewMirror builds a mirror with go-getter's default protocol set, except
// that local files are copied rather than symlinked into the cache.
func NewMirror(log *zap.SugaredLogger) *Mirror {
	getters := make(map[string]getter.Getter, len(getter.Getters))
	for scheme, g := range getter.Getters {
		getters[scheme] = g
	}
	getters["file"] = &getter.FileGetter{Copy: true}
	return &Mirror{getters: getters, log: log}
}

// Get copies src to dst and returns the number of bytes written.
func (m *Mirror) Get(ctx context.Context, src, dst string) (int64, FetchKind, error) {
	pwd, err := os.Getwd()
	if err != nil {
		return 0, Transient, errors.Wrap(err, "resolve working directory")
	}
	detected, err := getter.Detect(src, pwd, getter.Detectors)
	if err != nil {
		return 0, Rejected, errors.Wrapf(err, "unsupported archive source %q", src)
	}

	// FileGetter reports a missing source as a plain string error.
	if path, ok := localSourcePath(detected); ok {
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				return 0, NotFound, errors.Wrapf(err, "mirror has no %s", path)
			}
			return 0, localKind(err), classifyLocalError(err)
		}
	}

	client := &getter.Client{
		Ctx:           ctx,
		Src:           detected,
		Dst:           dst,
		Pwd:           pwd,
		Mode:          getter.ClientModeFile,
		Getters:       m.getters,
		Decompressors: map[string]getter.Decompressor{},
	}
	m.log.Debugw("Fetching from mirror", "source", detected, "destination", dst)

	if err := client.Get(); err != nil {
		if ctx.Err() != nil {
			return 0, Transient, errors.Wrap(ctx.Err(), "mirror fetch")
		}
		if kind := classifyLocalError(err); errors.IsFatal(kind) {
			return 0, Fatal, kind
		}
		if looksMissing(err) {
			return 0, NotFound, errors.Wrap(err, "mirror fetch")
		}
		return 0, Transient, errors.Classify(errors.Wrap(err, "mirror fetch"), errors.ErrTransientIO)
	}

	info, err := os.Stat(dst)
	if err != nil {
		return 0, localKind(err), classifyLocalError(errors.Wrap(err, "stat mirrored archive"))
	}
	if info.Size() == 0 {
		return 0, Transient, errors.Classify(errors.New("mirror returned an empty file"), errors.ErrTransientIO)
	}
	return info.Size(), 0, nil
}

// localSourcePath extracts the filesystem path from a detected file source,
// which may carry a forced-getter prefix ("file::file:///mnt/a.7z").
func localSourcePath(detected string) (string, bool) {
	if i := strings.Index(detected, "::"); i >= 0 {
		detected = detected[i+2:]
	}
	u, err := url.Parse(detected)
	if err != nil || u.Scheme != "file" {
		return "", false
	}
	return u.Path, true
}

// looksMissing recognises object-store "no such key" responses, which the
// s3 and gcs getters only expose as text.
func looksMissing(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"nosuchkey", "no such key", "not found", "404", "object doesn't exist"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
