// Package fetch downloads a published hosts mapping and installs it into the
// local hosts file.
package fetch

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/semihalev/zlog/v2"

	"github.com/fetch-github-hosts/fgh/internal/domains"
	"github.com/fetch-github-hosts/fgh/internal/event"
	"github.com/fetch-github-hosts/fgh/internal/failure"
	"github.com/fetch-github-hosts/fgh/internal/hosts"
)

// Installer is the part of the hosts editor the client needs.
type Installer interface {
	ReadForeignContent() (string, error)
	InstallBlock(ctx context.Context, foreign string, entries []hosts.Entry, now time.Time) error
}

// Flusher clears the OS resolver cache.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Client fetches remote hosts and installs them.
type Client struct {
	http    *http.Client
	hosts   Installer
	flusher Flusher
	sink    event.Sink
	clock   clockwork.Clock
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithFlusher flushes the DNS cache after each successful install.
func WithFlusher(f Flusher) Option {
	return func(c *Client) { c.flusher = f }
}

// WithSink reports flush failures to sink.
func WithSink(s event.Sink) Option {
	return func(c *Client) { c.sink = s }
}

// WithClock sets the clock stamping the installed block.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Client) { c.clock = clock }
}

// NewClient creates a client installing through editor.
func NewClient(editor Installer, opts ...Option) *Client {
	c := &Client{
		http:  http.DefaultClient,
		hosts: editor,
		sink:  event.Discard,
		clock: clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchAndInstall downloads url, parses it and installs the entries as the
// managed block. It returns the installed entries.
func (c *Client) FetchAndInstall(ctx context.Context, url string) ([]hosts.Entry, error) {
	body, err := c.get(ctx, url)
	if err != nil {
		return nil, err
	}

	entries, err := ParseEntries(body)
	if err != nil {
		return nil, err
	}

	foreign, err := c.hosts.ReadForeignContent()
	if err != nil {
		return nil, err
	}

	if err := c.hosts.InstallBlock(ctx, foreign, entries, c.clock.Now()); err != nil {
		return nil, err
	}

	if c.flusher != nil {
		if err := c.flusher.Flush(ctx); err != nil {
			zlog.Warn("DNS cache flush failed", "error", err.Error())
			c.sink.Emit(event.Event{
				Role:   event.RoleClient,
				Key:    event.KeyFlushDNSFail,
				Level:  event.LevelError,
				Params: map[string]any{"error": err.Error()},
				Time:   c.clock.Now(),
			})
		}
	}

	return entries, nil
}

func (c *Client) get(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", failure.New(failure.KindNetwork, "build request", err)
	}
	req.Header.Set("User-Agent", "fetch-github-hosts")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", failure.New(failure.KindNetwork, "fetch "+url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", failure.Newf(failure.KindHTTPStatus, "fetch "+url, "unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", failure.New(failure.KindNetwork, "read response", err)
	}
	return string(data), nil
}

// ParseEntries parses hosts-format text. Blank lines and comments are
// skipped; a line with aliases yields one entry per name.
func ParseEntries(body string) ([]hosts.Entry, error) {
	var entries []hosts.Entry

	scanner := bufio.NewScanner(strings.NewReader(body))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 2 {
			return nil, failure.Newf(failure.KindParse, "parse hosts", "line %d: missing domain", lineNo)
		}
		if net.ParseIP(fields[0]) == nil {
			return nil, failure.Newf(failure.KindParse, "parse hosts", "line %d: invalid address %q", lineNo, fields[0])
		}
		for _, name := range fields[1:] {
			domain, err := domains.NormalizeHost(name)
			if err != nil {
				return nil, failure.Newf(failure.KindParse, "parse hosts", "line %d: %v", lineNo, err)
			}
			entries = append(entries, hosts.Entry{IP: fields[0], Domain: domain})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, failure.New(failure.KindParse, "parse hosts", err)
	}

	if len(entries) == 0 {
		return nil, failure.Newf(failure.KindParse, "parse hosts", "no host entries found")
	}
	return entries, nil
}

// Origins maps the named official sources to their URLs.
var Origins = map[string]string{
	"FetchGithubHosts": "https://hosts.gitcdn.top/hosts.txt",
	"Github520":        "https://raw.hellogithub.com/hosts",
}

// DefaultOrigin is used when no origin is selected.
const DefaultOrigin = "FetchGithubHosts"

// Methods of choosing the client source.
const (
	MethodOfficial = "official"
	MethodCustom   = "custom"
)

// URLFor resolves the client source URL from the configured method.
func URLFor(method, origin, customURL string) (string, error) {
	switch method {
	case MethodCustom:
		if strings.TrimSpace(customURL) == "" {
			return "", fmt.Errorf("custom method requires a url")
		}
		return customURL, nil
	case MethodOfficial, "":
		if origin == "" {
			origin = DefaultOrigin
		}
		url, ok := Origins[origin]
		if !ok {
			return "", fmt.Errorf("unknown origin %q", origin)
		}
		return url, nil
	default:
		return "", fmt.Errorf("unknown method %q", method)
	}
}
