package hosts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// FlushMethod selects how the OS resolver cache is flushed.
type FlushMethod string

const (
	FlushMethodAuto        FlushMethod = "auto"
	FlushMethodDscacheutil FlushMethod = "dscacheutil"
	FlushMethodKillall     FlushMethod = "killall"
	FlushMethodBoth        FlushMethod = "both"
	FlushMethodSystemd     FlushMethod = "systemd"
	FlushMethodNscd        FlushMethod = "nscd"
	FlushMethodIpconfig    FlushMethod = "ipconfig"
)

// DNSFlusher flushes the OS resolver cache after a hosts change.
type DNSFlusher struct {
	goos       string
	method     FlushMethod
	runner     Runner
	privileged Runner
	root       bool
	lookPath   func(string) (string, error)
}

// NewDNSFlusher creates a flusher for goos. A nil runner runs real commands.
func NewDNSFlusher(goos string, method FlushMethod, runner Runner) *DNSFlusher {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &DNSFlusher{goos: goos, method: method, runner: runner, root: os.Geteuid() == 0, lookPath: exec.LookPath}
}

// WithPrivileged routes the darwin flush commands through r, normally the
// session sudoers grant of the hosts ElevatedWriter. It has no effect when
// running as root or when r is nil.
func (f *DNSFlusher) WithPrivileged(r Runner) *DNSFlusher {
	if r != nil && !f.root {
		f.privileged = r
	}
	return f
}

// Flush flushes the resolver cache using the configured method.
func (f *DNSFlusher) Flush(ctx context.Context) error {
	method := f.method
	if method == FlushMethodAuto || method == "" {
		method = f.detectMethod()
	}

	switch f.goos {
	case "darwin":
		return f.flushDarwin(ctx, method)
	case "linux":
		return f.flushLinux(ctx, method)
	case "windows":
		if err := f.run(ctx, "ipconfig", "/flushdns"); err != nil {
			return fmt.Errorf("ipconfig /flushdns failed: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported operating system: %s", f.goos)
	}
}

func (f *DNSFlusher) detectMethod() FlushMethod {
	switch f.goos {
	case "darwin":
		return FlushMethodBoth
	case "linux":
		if _, err := f.lookPath("resolvectl"); err == nil {
			return FlushMethodSystemd
		}
		if _, err := f.lookPath("systemd-resolve"); err == nil {
			return FlushMethodSystemd
		}
		if _, err := f.lookPath("nscd"); err == nil {
			return FlushMethodNscd
		}
		return FlushMethodAuto
	case "windows":
		return FlushMethodIpconfig
	default:
		return FlushMethodAuto
	}
}

func (f *DNSFlusher) flushDarwin(ctx context.Context, method FlushMethod) error {
	dscacheutil := func() error { return f.runDarwin(ctx, "dscacheutil", "-flushcache") }
	killall := func() error { return f.runDarwin(ctx, "killall", "-HUP", "mDNSResponder") }

	switch method {
	case FlushMethodDscacheutil:
		if err := dscacheutil(); err != nil {
			return fmt.Errorf("dscacheutil failed: %w", err)
		}
	case FlushMethodKillall:
		if err := killall(); err != nil {
			return fmt.Errorf("killall mDNSResponder failed: %w", err)
		}
	default:
		var errs []error
		if err := dscacheutil(); err != nil {
			errs = append(errs, fmt.Errorf("dscacheutil failed: %w", err))
		}
		if err := killall(); err != nil {
			errs = append(errs, fmt.Errorf("killall mDNSResponder failed: %w", err))
		}
		if len(errs) == 2 {
			return errors.Join(errs...)
		}
	}
	return nil
}

// runDarwin runs a /usr/bin tool, through the privileged runner when set.
// The absolute path is what the sudoers rule whitelists.
func (f *DNSFlusher) runDarwin(ctx context.Context, name string, args ...string) error {
	if f.privileged != nil {
		_, err := f.privileged.Run(ctx, "/usr/bin/"+name, args...)
		return err
	}
	return f.run(ctx, name, args...)
}

func (f *DNSFlusher) flushLinux(ctx context.Context, method FlushMethod) error {
	switch method {
	case FlushMethodSystemd:
		if err := f.run(ctx, "resolvectl", "flush-caches"); err != nil {
			if err := f.run(ctx, "systemd-resolve", "--flush-caches"); err != nil {
				return fmt.Errorf("systemd DNS flush failed: %w", err)
			}
		}
	case FlushMethodNscd:
		if err := f.run(ctx, "nscd", "-i", "hosts"); err != nil {
			if err := f.run(ctx, "service", "nscd", "restart"); err != nil {
				return fmt.Errorf("nscd flush failed: %w", err)
			}
		}
	default:
		// Without a caching daemon /etc/hosts is read directly, nothing to flush.
		if err := f.run(ctx, "resolvectl", "flush-caches"); err == nil {
			return nil
		}
		if err := f.run(ctx, "systemd-resolve", "--flush-caches"); err == nil {
			return nil
		}
		_ = f.run(ctx, "nscd", "-i", "hosts")
	}
	return nil
}

func (f *DNSFlusher) run(ctx context.Context, name string, args ...string) error {
	_, err := f.runner.Run(ctx, name, args...)
	return err
}
