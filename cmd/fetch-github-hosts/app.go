package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/semihalev/zlog/v2"
	"golang.org/x/sync/errgroup"

	"github.com/fetch-github-hosts/fgh/internal/artifact"
	"github.com/fetch-github-hosts/fgh/internal/config"
	"github.com/fetch-github-hosts/fgh/internal/domains"
	"github.com/fetch-github-hosts/fgh/internal/event"
	"github.com/fetch-github-hosts/fgh/internal/fetch"
	"github.com/fetch-github-hosts/fgh/internal/hosts"
	"github.com/fetch-github-hosts/fgh/internal/httpserver"
	"github.com/fetch-github-hosts/fgh/internal/metrics"
	"github.com/fetch-github-hosts/fgh/internal/resolver"
	"github.com/fetch-github-hosts/fgh/internal/task"
	"github.com/fetch-github-hosts/fgh/internal/version"
)

const (
	modeClient = "client"
	modeServer = "server"
)

// settings is everything a running role depends on. A config change that
// alters it restarts the role.
type settings struct {
	Mode     string
	Interval int

	// client
	URL string

	// server
	Port         int
	TemplatePath string
	Nameserver   string
	ArtifactDir  string
}

// overrides records which flags were given explicitly and therefore win
// over the config file for this session.
type overrides struct {
	Interval bool
	Port     bool
	URL      bool
	Lang     bool
}

func resolveSettings(mode string, cfg *config.Config, opts *rootOptions, set overrides) (settings, error) {
	s := settings{Mode: mode}
	switch mode {
	case modeClient:
		s.Interval = cfg.Client.Interval
		if set.URL {
			s.URL = opts.url
		} else {
			url, err := fetch.URLFor(cfg.Client.Method, cfg.Client.SelectOrigin, cfg.Client.CustomURL)
			if err != nil {
				return settings{}, err
			}
			s.URL = url
		}
	case modeServer:
		s.Interval = cfg.Server.Interval
		s.Port = cfg.Server.Port
		if set.Port {
			s.Port = opts.port
		}
		s.TemplatePath = cfg.Server.TemplatePath
		s.Nameserver = cfg.Server.Nameserver
		s.ArtifactDir = artifactDir(cfg)
	default:
		return settings{}, fmt.Errorf("invalid mode %q, expected client or server", mode)
	}
	if set.Interval {
		s.Interval = opts.interval
	}
	return s, nil
}

func artifactDir(cfg *config.Config) string {
	switch {
	case cfg.Server.ArtifactDir != "":
		return cfg.Server.ArtifactDir
	case config.IsDebug():
		return "."
	default:
		return artifact.DefaultDir()
	}
}

func newEditor(cfg *config.Config) *hosts.Editor {
	editor, _ := newHostsTools(cfg)
	return editor
}

// newHostsTools builds an editor and a flusher sharing one elevation grant,
// so the darwin flush runs under the same sudoers rule as the write.
func newHostsTools(cfg *config.Config) (*hosts.Editor, *hosts.DNSFlusher) {
	elevated := hosts.NewElevatedWriter(runtime.GOOS, nil)
	editor := hosts.NewEditor(hosts.Options{
		BackupDir:  cfg.Hosts.BackupDir,
		MaxBackups: cfg.Hosts.MaxBackups,
		Elevated:   elevated,
	})
	flusher := hosts.NewDNSFlusher(runtime.GOOS, hosts.FlushMethodAuto, nil)
	if r, ok := elevated.(hosts.Runner); ok {
		flusher.WithPrivileged(r)
	}
	return editor, flusher
}

func newResolver(nameserver string) resolver.Resolver {
	if nameserver == "" {
		return resolver.NewSystem()
	}
	return resolver.NewUpstream(nameserver)
}

// app wires the sync engine for one CLI session.
type app struct {
	opts    *rootOptions
	set     overrides
	console *console
	cfgMgr  *config.Manager
	editor  *hosts.Editor
	metrics *metrics.Metrics
	tasks   *task.Manager

	mu      sync.Mutex
	cfg     *config.Config
	store   *artifact.Store
	current settings
}

func newApp(opts *rootOptions, set overrides, out io.Writer) (*app, error) {
	mgr := config.NewManager(opts.configPath)
	if err := mgr.LoadOrCreate(); err != nil {
		return nil, err
	}
	cfg := mgr.Get()
	editor, flusher := newHostsTools(cfg)

	lang := cfg.Lang
	if set.Lang {
		lang = opts.lang
	}

	a := &app{
		opts:    opts,
		set:     set,
		console: newConsole(out, lang),
		cfgMgr:  mgr,
		editor:  editor,
		metrics: metrics.New(),
		cfg:     cfg,
		store:   artifact.NewStore(artifactDir(cfg)),
	}

	sink := event.Multi{a.console, event.LogSink{}}

	unit := time.Minute
	if config.IsDebug() {
		unit = time.Second
	}

	a.tasks = task.NewManager(task.Config{
		Fetcher: fetch.NewClient(a.editor,
			fetch.WithFlusher(flusher),
			fetch.WithSink(sink)),
		Publisher:     a,
		NewHTTPServer: a.newHTTPServer,
		Sink:          sink,
		Metrics:       a.metrics,
		Unit:          unit,
	})
	return a, nil
}

func (a *app) snapshot() (*config.Config, *artifact.Store) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg, a.store
}

// Publish runs one server cycle with the current configuration.
func (a *app) Publish(ctx context.Context) (artifact.Artifacts, error) {
	cfg, store := a.snapshot()
	p := &artifact.Publisher{
		Resolver: newResolver(cfg.Server.Nameserver),
		Domains:  domains.Default,
		Store:    store,
		Options:  resolver.Options{Metrics: a.metrics},
	}
	return p.Publish(ctx)
}

func (a *app) newHTTPServer(port int) task.HTTPServer {
	cfg, store := a.snapshot()
	page := &artifact.Page{
		Version:      version.Version,
		TemplatePath: cfg.Server.TemplatePath,
		Store:        store,
	}
	return httpserver.New(port, store, page, httpserver.WithMetrics(a.metrics))
}

func (a *app) start(ctx context.Context, s settings) error {
	interval := a.tasks.Interval(s.Interval)

	var (
		err  error
		role event.Role
	)
	switch s.Mode {
	case modeClient:
		if ok, _ := a.editor.CheckPermission(); !ok && hosts.NewElevatedWriter(runtime.GOOS, nil) == nil {
			a.console.Say(keyNoPermission, nil)
			return errors.New("no permission to write " + a.editor.Path())
		}
		a.console.Say(keyClientBanner, map[string]any{"url": s.URL, "interval": interval})
		role = event.RoleClient
		err = a.tasks.StartClient(ctx, task.ClientOptions{URL: s.URL, Interval: s.Interval})
	case modeServer:
		a.console.Say(keyServerBanner, map[string]any{"port": s.Port, "interval": interval})
		role = event.RoleServer
		err = a.tasks.StartServer(ctx, task.ServerOptions{Port: s.Port, Interval: s.Interval})
	}
	// A failed first cycle was already reported and the loop retries it;
	// only a role that never started is fatal.
	if err != nil && a.tasks.State(role) == task.StateIdle {
		return err
	}

	a.mu.Lock()
	a.current = s
	a.mu.Unlock()
	a.console.Say(keyKeepOpen, nil)
	return nil
}

// reload applies a changed config file to the running role.
func (a *app) reload(ctx context.Context, cfg *config.Config) {
	a.mu.Lock()
	prev := a.current
	a.cfg = cfg
	if dir := artifactDir(cfg); dir != a.store.Dir() {
		a.store = artifact.NewStore(dir)
	}
	a.mu.Unlock()

	if !a.set.Lang {
		a.console.SetLang(cfg.Lang)
	}

	next, err := resolveSettings(prev.Mode, cfg, a.opts, a.set)
	if err != nil {
		zlog.Warn("Ignoring config change", "error", err.Error())
		return
	}
	if next == prev {
		return
	}

	if err := a.start(ctx, next); err != nil {
		zlog.Error("Restart after config change failed", "mode", next.Mode, "error", err.Error())
		return
	}
	a.console.Say(keyReloaded, nil)
}

// run starts mode and blocks until SIGINT/SIGTERM or an admin listener
// failure, then stops every task.
func (a *app) run(ctx context.Context, mode string) error {
	defer a.editor.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, _ := a.snapshot()
	s, err := resolveSettings(mode, cfg, a.opts, a.set)
	if err != nil {
		return err
	}
	if err := a.start(ctx, s); err != nil {
		return err
	}

	if err := a.cfgMgr.Watch(func(cfg *config.Config) { a.reload(ctx, cfg) }); err != nil {
		zlog.Warn("Config hot reload disabled", "error", err.Error())
	}
	defer a.cfgMgr.Stop()

	g, gctx := errgroup.WithContext(ctx)

	if addr := cfg.Metrics.Addr; addr != "" {
		handler := metrics.NewRouter(a.metrics, func() any { return a.tasks.Status() })
		g.Go(func() error {
			return metrics.Serve(gctx, addr, handler)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			a.console.Say(keyShutdown, nil)
		}
		a.tasks.StopAll()
		return nil
	})

	return g.Wait()
}
