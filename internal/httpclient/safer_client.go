// Package httpclient builds the HTTP client used to download price archives.
//
// Archive hosts are configured by operators, so the client refuses schemes
// other than http(s), caps redirects and, unless disabled, refuses to dial
// loopback and private networks (checked again after DNS resolution).
package httpclient

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/teranos/pricehist/errors"
)

const (
	defaultMaxRedirects = 10
	defaultUserAgent    = "pricehist/1.0"
)

// Options tune a SaferClient. Zero values take the defaults.
type Options struct {
	AllowedSchemes []string // default: http, https
	MaxRedirects   int      // default: 10
	AllowPrivate   bool     // permit loopback and RFC 1918 targets
	UserAgent      string
}

// SaferClient wraps http.Client with URL policy checks. Requests refused by
// policy return errors marked errors.ErrInvalidRequest.
type SaferClient struct {
	*http.Client
	allowedSchemes []string
	blockPrivateIP bool
	maxRedirects   int
	userAgent      string
}

// NewSaferClient creates a client with default policy. timeout bounds a whole
// request including the body read; zero means no client-level limit.
func NewSaferClient(timeout time.Duration) *SaferClient {
	return NewSaferClientWithOptions(timeout, Options{})
}

// NewSaferClientWithOptions creates a client with custom policy.
func NewSaferClientWithOptions(timeout time.Duration, opts Options) *SaferClient {
	c := &SaferClient{
		Client:         &http.Client{Timeout: timeout},
		allowedSchemes: []string{"http", "https"},
		blockPrivateIP: !opts.AllowPrivate,
		maxRedirects:   defaultMaxRedirects,
		userAgent:      defaultUserAgent,
	}
	if len(opts.AllowedSchemes) > 0 {
		c.allowedSchemes = opts.AllowedSchemes
	}
	if opts.MaxRedirects > 0 {
		c.maxRedirects = opts.MaxRedirects
	}
	if opts.UserAgent != "" {
		c.userAgent = opts.UserAgent
	}

	c.CheckRedirect = c.checkRedirect
	if c.blockPrivateIP {
		c.Transport = guardedTransport()
	}
	return c
}

// WrapClient wraps an existing http.Client without the private-network guard.
// Only for tests that talk to httptest servers on loopback.
func WrapClient(client *http.Client) *SaferClient {
	c := &SaferClient{
		Client:         client,
		allowedSchemes: []string{"http", "https"},
		maxRedirects:   defaultMaxRedirects,
		userAgent:      defaultUserAgent,
	}
	if c.CheckRedirect == nil {
		c.CheckRedirect = c.checkRedirect
	}
	return c
}

func (c *SaferClient) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= c.maxRedirects {
		return errors.Mark(errors.Newf("stopped after %d redirects", c.maxRedirects), errors.ErrInvalidRequest)
	}
	if err := c.validateURL(req.URL); err != nil {
		return errors.Wrap(err, "redirect blocked")
	}
	return nil
}

// guardedTransport resolves the target itself so a hostname that points at a
// private address is refused at dial time.
func guardedTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, _, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, errors.Wrap(err, "invalid address")
			}
			ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to resolve host %q", host)
			}
			for _, ip := range ips {
				if isPrivateIP(ip) {
					return nil, errors.Mark(errors.Newf("private IP address blocked: %s", ip), errors.ErrInvalidRequest)
				}
			}
			return dialer.DialContext(ctx, network, addr)
		},
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 60 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

func (c *SaferClient) validateURL(u *url.URL) error {
	scheme := strings.ToLower(u.Scheme)
	allowed := false
	for _, s := range c.allowedSchemes {
		if scheme == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return errors.NewInvalidRequestError("scheme %q not allowed (allowed: %v)", scheme, c.allowedSchemes)
	}
	if u.User != nil {
		return errors.NewInvalidRequestError("URL must not carry credentials")
	}

	hostname := u.Hostname()
	if hostname == "" {
		return errors.NewInvalidRequestError("URL missing hostname")
	}

	if c.blockPrivateIP {
		if isLocalhost(hostname) {
			return errors.NewInvalidRequestError("localhost access blocked")
		}
		if ip := net.ParseIP(hostname); ip != nil && isPrivateIP(ip) {
			return errors.NewInvalidRequestError("private IP address blocked: %s", hostname)
		}
	}
	return nil
}

// ValidateURL parses urlStr and checks it against the client's policy.
func (c *SaferClient) ValidateURL(urlStr string) (*url.URL, error) {
	u, err := url.Parse(urlStr)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "invalid URL"), errors.ErrInvalidRequest)
	}
	if err := c.validateURL(u); err != nil {
		return nil, err
	}
	return u, nil
}

// Do executes req after the policy check and sets the User-Agent when absent.
func (c *SaferClient) Do(req *http.Request) (*http.Response, error) {
	if err := c.validateURL(req.URL); err != nil {
		return nil, errors.Wrap(err, "request blocked")
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return c.Client.Do(req)
}

// GetContext issues a GET bound to ctx.
func (c *SaferClient) GetContext(ctx context.Context, urlStr string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "build request"), errors.ErrInvalidRequest)
	}
	return c.Do(req)
}

var privateBlocks = func() []*net.IPNet {
	cidrs := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		"169.254.0.0/16",
		"0.0.0.0/8",
		"100.64.0.0/10",
		"224.0.0.0/4",
		"240.0.0.0/4",
		"fc00::/7",
		"fec0::/10",
		"2001:db8::/32",
	}
	blocks := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, block, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(err)
		}
		blocks = append(blocks, block)
	}
	return blocks
}()

func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsMulticast() || ip.IsUnspecified() {
		return true
	}
	if ip4 := ip.To4(); ip4 != nil {
		ip = ip4
	}
	for _, block := range privateBlocks {
		if block.Contains(ip) {
			return true
		}
	}
	return false
}

func isLocalhost(hostname string) bool {
	hostname = strings.ToLower(hostname)
	return hostname == "localhost" ||
		hostname == "localhost.localdomain" ||
		strings.HasSuffix(hostname, ".localhost")
}
