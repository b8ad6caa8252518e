package archive

import (
	"context"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/pricehist/errors"
	"github.com/teranos/pricehist/internal/httpclient"
	"github.com/teranos/pricehist/logger"
	"github.com/teranos/pricehist/price"
)

// FetchKind classifies a failed fetch.
type FetchKind int

const (
	// NotFound: the date has no published archive. Not retried, not a failure.
	NotFound FetchKind = iota
	// Transient: network trouble, timeouts, 5xx. Retried with backoff.
	Transient
	// Rejected: the request itself is wrong (4xx, blocked URL). Fails the date.
	Rejected
	// Fatal: local resources are exhausted or forbidden. Aborts the run.
	Fatal
)

func (k FetchKind) String() string {
	switch k {
	case NotFound:
		return "not_found"
	case Transient:
		return "transient"
	case Rejected:
		return "rejected"
	case Fatal:
		return "fatal"
	}
	return "unknown"
}

// FetchError is returned by Fetch for every failure.
type FetchError struct {
	Kind     FetchKind
	Date     price.Date
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return "fetch " + e.Date.String() + " (" + e.Kind.String() + "): " + e.Err.Error()
}

func (e *FetchError) Unwrap() error { return e.Err }

// Is maps the kind onto the ingestion error taxonomy.
func (e *FetchError) Is(target error) bool {
	switch e.Kind {
	case NotFound:
		return target == errors.ErrRemoteUnavailable
	case Transient:
		return target == errors.ErrTransientIO
	case Fatal:
		return target == errors.ErrFatalResource
	}
	return false
}

// Handle refers to a complete archive on local disk.
type Handle struct {
	Date           price.Date
	URL            string
	Path           string
	Size           int64
	AlreadyPresent bool
	Attempts       int
}

// FetchOptions tune retries, pacing and guards.
type FetchOptions struct {
	FirstDate         price.Date // dates before this are never requested
	MaxAttempts       int
	AttemptTimeout    time.Duration
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	RequestsPerMinute float64 // 0 = unpaced
	MinFreeBytes      uint64
	Now               func() time.Time
}

// Fetcher downloads archives into the local cache.
type Fetcher struct {
	locator   *Locator
	client    *httpclient.SaferClient
	mirror    *Mirror
	opts      FetchOptions
	limiter   *rate.Limiter
	freeSpace FreeSpaceFunc
	sleep     func(ctx context.Context, d time.Duration) error
	jitter    func() float64
	onAttempt func(outcome string)
	log       *zap.SugaredLogger
}

// NewFetcher builds a fetcher. Base URLs that are not plain http(s) go
// through a go-getter Mirror instead of client.
func NewFetcher(locator *Locator, client *httpclient.SaferClient, opts FetchOptions, log *zap.SugaredLogger) *Fetcher {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = logger.ComponentLogger("archive.fetch")
	}

	f := &Fetcher{
		locator:   locator,
		client:    client,
		opts:      opts,
		freeSpace: HostFreeSpace,
		sleep:     sleepContext,
		jitter:    rand.Float64,
		log:       log,
	}
	if opts.RequestsPerMinute > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerMinute/60.0), 1)
	}
	if !isHTTP(locator.BaseURL) {
		f.mirror = NewMirror(log)
	}
	return f
}

// OnAttempt registers a hook called once per download attempt with the
// outcome ("ok" or a FetchKind name).
func (f *Fetcher) OnAttempt(fn func(outcome string)) { f.onAttempt = fn }

// Fetch makes the archive for d available locally.
func (f *Fetcher) Fetch(ctx context.Context, d price.Date) (*Handle, error) {
	loc := f.locator.Locate(d)
	log := logger.LoggerFromContext(ctx, f.log).With(logger.FieldDate, d.String())

	cached, err := f.locator.Cached(d)
	if err != nil {
		return nil, f.fail(Transient, loc, 0, err)
	}
	if cached {
		info, err := os.Stat(loc.CachePath)
		if err != nil {
			return nil, f.fail(Transient, loc, 0, classifyLocalError(err))
		}
		log.Debugw("Archive already cached", logger.FieldPath, loc.CachePath)
		return &Handle{Date: d, URL: loc.RemoteURL, Path: loc.CachePath, Size: info.Size(), AlreadyPresent: true}, nil
	}

	today := price.Today(f.opts.Now)
	if !f.opts.FirstDate.IsZero() && d.Before(f.opts.FirstDate) {
		return nil, f.fail(NotFound, loc, 0, errors.Newf("%s precedes first published archive %s", d, f.opts.FirstDate))
	}
	if d.After(today) {
		return nil, f.fail(NotFound, loc, 0, errors.Newf("%s is in the future", d))
	}

	dir := filepath.Dir(loc.CachePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, f.fail(Transient, loc, 0, classifyLocalError(errors.Wrap(err, "create archive directory")))
	}
	if err := ensureSpace(ctx, f.freeSpace, dir, f.opts.MinFreeBytes); err != nil {
		return nil, f.fail(Fatal, loc, 0, err)
	}

	var lastErr error
	for attempt := 1; attempt <= f.opts.MaxAttempts; attempt++ {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return nil, ctxError(ctx, err)
			}
		}

		size, kind, err := f.attempt(ctx, loc)
		if err == nil {
			f.observe("ok")
			log.Infow("Archive downloaded",
				logger.FieldURL, loc.RemoteURL,
				logger.FieldSize, size,
				logger.FieldAttempt, attempt)
			return &Handle{Date: d, URL: loc.RemoteURL, Path: loc.CachePath, Size: size, Attempts: attempt}, nil
		}
		f.observe(kind.String())

		if ctx.Err() != nil {
			return nil, ctxError(ctx, err)
		}
		if kind != Transient {
			return nil, f.fail(kind, loc, attempt, err)
		}

		lastErr = err
		if attempt == f.opts.MaxAttempts {
			break
		}
		wait := f.backoff(attempt)
		log.Warnw("Archive download failed, retrying",
			logger.FieldAttempt, attempt,
			logger.FieldBackoff, wait.String(),
			logger.FieldError, err)
		if err := f.sleep(ctx, wait); err != nil {
			return nil, ctxError(ctx, err)
		}
	}

	return nil, f.fail(Transient, loc, f.opts.MaxAttempts, errors.Wrapf(lastErr, "gave up after %d attempts", f.opts.MaxAttempts))
}

func (f *Fetcher) fail(kind FetchKind, loc Location, attempts int, err error) error {
	if kind != Fatal && errors.IsFatal(err) {
		kind = Fatal
	}
	return &FetchError{Kind: kind, Date: loc.Date, URL: loc.RemoteURL, Attempts: attempts, Err: err}
}

func (f *Fetcher) observe(outcome string) {
	if f.onAttempt != nil {
		f.onAttempt(outcome)
	}
}

// backoff is InitialBackoff * 2^(attempt-1), capped at MaxBackoff, with up to
// 20% jitter either way.
func (f *Fetcher) backoff(attempt int) time.Duration {
	delay := float64(f.opts.InitialBackoff) * math.Pow(2, float64(attempt-1))
	if limit := float64(f.opts.MaxBackoff); limit > 0 && delay > limit {
		delay = limit
	}
	delay += delay * 0.2 * (2*f.jitter() - 1)
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// attempt runs one download into a unique temp file and renames it into
// place on success. The temp file never survives a failed attempt.
func (f *Fetcher) attempt(ctx context.Context, loc Location) (int64, FetchKind, error) {
	attemptCtx := ctx
	if f.opts.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, f.opts.AttemptTimeout)
		defer cancel()
	}

	tmp := loc.CachePath + "." + uuid.NewString() + ".part"
	defer os.Remove(tmp)

	var size int64
	var kind FetchKind
	var err error
	if f.mirror != nil {
		size, kind, err = f.mirror.Get(attemptCtx, loc.RemoteURL, tmp)
	} else {
		size, kind, err = f.download(attemptCtx, loc.RemoteURL, tmp)
	}
	if err != nil {
		return 0, kind, err
	}

	if err := os.Rename(tmp, loc.CachePath); err != nil {
		err = classifyLocalError(errors.Wrap(err, "move archive into cache"))
		if errors.IsFatal(err) {
			return 0, Fatal, err
		}
		return 0, Transient, err
	}
	return size, 0, nil
}

func (f *Fetcher) download(ctx context.Context, url, tmp string) (int64, FetchKind, error) {
	resp, err := f.client.GetContext(ctx, url)
	if err != nil {
		if errors.IsInvalidRequestError(err) {
			return 0, Rejected, err
		}
		return 0, Transient, errors.Classify(errors.Wrap(err, "request"), errors.ErrTransientIO)
	}
	defer resp.Body.Close()

	if kind, ok := classifyStatus(resp.StatusCode); !ok {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return 0, kind, errors.Newf("%s returned %s", url, resp.Status)
	}

	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, localKind(err), classifyLocalError(errors.Wrap(err, "create temp file"))
	}

	w := &trackingWriter{w: out}
	n, copyErr := io.Copy(w, resp.Body)
	closeErr := out.Close()

	if w.err != nil {
		err := classifyLocalError(errors.Wrap(w.err, "write archive"))
		return 0, localKind(w.err), err
	}
	if copyErr != nil {
		return 0, Transient, errors.Classify(errors.Wrap(copyErr, "read body"), errors.ErrTransientIO)
	}
	if closeErr != nil {
		return 0, localKind(closeErr), classifyLocalError(errors.Wrap(closeErr, "close temp file"))
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return 0, Transient, errors.Classify(errors.Newf("truncated body: got %d of %d bytes", n, resp.ContentLength), errors.ErrTransientIO)
	}
	if n == 0 {
		return 0, Transient, errors.Classify(errors.New("empty body"), errors.ErrTransientIO)
	}
	return n, 0, nil
}

// classifyStatus returns ok for 2xx, otherwise the failure kind.
func classifyStatus(code int) (FetchKind, bool) {
	switch {
	case code >= 200 && code < 300:
		return 0, true
	case code == http.StatusNotFound || code == http.StatusGone:
		return NotFound, false
	case code == http.StatusRequestTimeout,
		code == http.StatusTooEarly,
		code == http.StatusTooManyRequests,
		code >= 500:
		return Transient, false
	}
	return Rejected, false
}

func localKind(err error) FetchKind {
	if errors.IsFatal(classifyLocalError(err)) {
		return Fatal
	}
	return Transient
}

// trackingWriter remembers write-side errors so io.Copy failures can be told
// apart from network read failures.
type trackingWriter struct {
	w   io.Writer
	err error
}

func (t *trackingWriter) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if err != nil {
		t.err = err
	}
	return n, err
}

func isHTTP(base string) bool {
	lower := strings.ToLower(base)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func ctxError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errors.Wrap(ctxErr, "fetch cancelled")
	}
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
