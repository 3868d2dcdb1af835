// Package installer registers a fetch-github-hosts CLI mode as a system service.
package installer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	// ServiceLabel identifies the service to launchd and systemd.
	ServiceLabel = "com.fetch-github-hosts.sync"
	// UnitName is the systemd unit file name.
	UnitName = "fetch-github-hosts.service"

	LogDir          = "/var/log/fetch-github-hosts"
	LaunchDaemonDir = "/Library/LaunchDaemons"
	SystemdDir      = "/etc/systemd/system"
)

// LaunchDaemonPlist is the macOS LaunchDaemon plist template.
const LaunchDaemonPlist = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>%s</string>
    <key>ProgramArguments</key>
    <array>
%s    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>%s/sync.log</string>
    <key>StandardErrorPath</key>
    <string>%s/sync.err</string>
</dict>
</plist>
`

// SystemdUnit is the Linux systemd unit template.
const SystemdUnit = `[Unit]
Description=fetch-github-hosts - GitHub hosts synchronisation
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
ExecStart=%s
Restart=always
RestartSec=5
User=root
Group=root

[Install]
WantedBy=multi-user.target
`

// Service describes the CLI mode the service runs.
type Service struct {
	Mode     string // client or server
	Interval int    // minutes
	Port     int    // server mode
	URL      string // client mode, empty for the configured source
}

// Args returns the command line arguments following the binary path.
func (s Service) Args() []string {
	args := []string{"--mode", s.Mode, "--interval", strconv.Itoa(s.Interval)}
	switch s.Mode {
	case "server":
		if s.Port > 0 {
			args = append(args, "--port", strconv.Itoa(s.Port))
		}
	case "client":
		if s.URL != "" {
			args = append(args, "--url", s.URL)
		}
	}
	return args
}

// Validate checks the service description.
func (s Service) Validate() error {
	if s.Mode != "client" && s.Mode != "server" {
		return fmt.Errorf("mode must be client or server, got %q", s.Mode)
	}
	if s.Interval < 1 {
		return fmt.Errorf("interval must be at least 1 minute")
	}
	if s.Mode == "server" && (s.Port < 0 || s.Port > 65535) {
		return fmt.Errorf("port %d out of range", s.Port)
	}
	return nil
}

// Runner executes service manager commands and returns their combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	// #nosec G204 -- commands are fixed service manager invocations
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Installer handles installation and uninstallation.
type Installer struct {
	binaryPath string
	goos       string
	root       string
	runner     Runner
	out        io.Writer
	settle     time.Duration
}

// Options configures an Installer. Zero values select the running binary,
// the real filesystem root and os/exec.
type Options struct {
	BinaryPath string
	GOOS       string
	Root       string
	Runner     Runner
	Out        io.Writer
}

// New creates a new installer.
func New(opts Options) (*Installer, error) {
	binaryPath := opts.BinaryPath
	if binaryPath == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to get executable path: %w", err)
		}
		if binaryPath, err = filepath.EvalSymlinks(exe); err != nil {
			return nil, fmt.Errorf("failed to resolve executable path: %w", err)
		}
	}

	i := &Installer{
		binaryPath: binaryPath,
		goos:       opts.GOOS,
		root:       opts.Root,
		runner:     opts.Runner,
		out:        opts.Out,
		settle:     500 * time.Millisecond,
	}
	if i.runner == nil {
		i.runner = ExecRunner{}
	}
	if i.out == nil {
		i.out = io.Discard
	}
	if i.root == "" {
		i.root = "/"
	}
	return i, nil
}

// Install writes the service definition for svc and starts it.
func (i *Installer) Install(ctx context.Context, svc Service) error {
	if err := svc.Validate(); err != nil {
		return err
	}

	i.log("Installing fetch-github-hosts %s service...", svc.Mode)

	switch i.goos {
	case "darwin":
		if err := os.MkdirAll(i.path(LogDir), 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", LogDir, err)
		}
		if err := i.installLaunchDaemon(ctx, svc); err != nil {
			return fmt.Errorf("failed to install LaunchDaemon: %w", err)
		}
	case "linux":
		if err := i.installSystemdService(ctx, svc); err != nil {
			return fmt.Errorf("failed to install systemd service: %w", err)
		}
	default:
		return fmt.Errorf("service install is not supported on %s", i.goos)
	}

	i.log("✓ Installed successfully")
	return nil
}

// Uninstall stops the service and removes its definition.
func (i *Installer) Uninstall(ctx context.Context) error {
	i.log("Uninstalling fetch-github-hosts service...")

	switch i.goos {
	case "darwin":
		_, _ = i.runner.Run(ctx, "launchctl", "bootout", "system/"+ServiceLabel)
		if err := removeIfExists(i.plistPath()); err != nil {
			return err
		}
	case "linux":
		_, _ = i.runner.Run(ctx, "systemctl", "disable", "--now", UnitName)
		if err := removeIfExists(i.unitPath()); err != nil {
			return err
		}
		_, _ = i.runner.Run(ctx, "systemctl", "daemon-reload")
	default:
		return fmt.Errorf("service uninstall is not supported on %s", i.goos)
	}

	i.log("✓ Uninstalled successfully")
	return nil
}

// Plist renders the LaunchDaemon definition for svc.
func (i *Installer) Plist(svc Service) string {
	var b strings.Builder
	for _, arg := range append([]string{i.binaryPath}, svc.Args()...) {
		fmt.Fprintf(&b, "        <string>%s</string>\n", xmlEscape(arg))
	}
	return fmt.Sprintf(LaunchDaemonPlist, ServiceLabel, b.String(), LogDir, LogDir)
}

// Unit renders the systemd unit for svc.
func (i *Installer) Unit(svc Service) string {
	parts := append([]string{i.binaryPath}, svc.Args()...)
	for n, p := range parts {
		if strings.ContainsAny(p, " \t\"'") {
			parts[n] = strconv.Quote(p)
		}
	}
	return fmt.Sprintf(SystemdUnit, strings.Join(parts, " "))
}

func (i *Installer) installLaunchDaemon(ctx context.Context, svc Service) error {
	plistPath := i.plistPath()

	i.log("  Stopping existing service if running...")
	_, _ = i.runner.Run(ctx, "launchctl", "bootout", "system/"+ServiceLabel)

	// launchd needs a moment to fully unload
	if i.settle > 0 {
		time.Sleep(i.settle)
	}

	_ = os.Remove(plistPath)

	i.log("  Writing LaunchDaemon plist...")
	if err := os.MkdirAll(filepath.Dir(plistPath), 0755); err != nil {
		return err
	}
	// #nosec G306 -- plist files are world-readable by convention
	if err := os.WriteFile(plistPath, []byte(i.Plist(svc)), 0644); err != nil {
		return fmt.Errorf("failed to write plist: %w", err)
	}

	i.log("  Starting service...")
	output, err := i.runner.Run(ctx, "launchctl", "bootstrap", "system", plistPath)
	if err != nil {
		// Exit code 5: already loaded
		var exitErr interface{ ExitCode() int }
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 5 {
			i.log("  Service already registered, restarting...")
			if _, err := i.runner.Run(ctx, "launchctl", "kickstart", "-k", "system/"+ServiceLabel); err != nil {
				return fmt.Errorf("failed to restart service: %w", err)
			}
			return nil
		}
		return fmt.Errorf("failed to bootstrap service: %w (output: %s)", err, strings.TrimSpace(string(output)))
	}

	return nil
}

func (i *Installer) installSystemdService(ctx context.Context, svc Service) error {
	unitPath := i.unitPath()

	i.log("  Writing systemd unit...")
	if err := os.MkdirAll(filepath.Dir(unitPath), 0755); err != nil {
		return err
	}
	// #nosec G306 -- systemd unit files are world-readable by convention
	if err := os.WriteFile(unitPath, []byte(i.Unit(svc)), 0644); err != nil {
		return fmt.Errorf("failed to write unit file: %w", err)
	}

	i.log("  Reloading systemd...")
	if out, err := i.runner.Run(ctx, "systemctl", "daemon-reload"); err != nil {
		return fmt.Errorf("failed to reload systemd: %w (output: %s)", err, strings.TrimSpace(string(out)))
	}

	i.log("  Enabling and starting service...")
	if out, err := i.runner.Run(ctx, "systemctl", "enable", "--now", UnitName); err != nil {
		return fmt.Errorf("failed to enable service: %w (output: %s)", err, strings.TrimSpace(string(out)))
	}

	return nil
}

func (i *Installer) plistPath() string {
	return i.path(LaunchDaemonDir, ServiceLabel+".plist")
}

func (i *Installer) unitPath() string {
	return i.path(SystemdDir, UnitName)
}

func (i *Installer) path(elem ...string) string {
	return filepath.Join(append([]string{i.root}, elem...)...)
}

func (i *Installer) log(format string, args ...any) {
	fmt.Fprintf(i.out, format+"\n", args...)
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}

func xmlEscape(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;").Replace(s)
}
