package hosts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/semihalev/zlog/v2"

	"github.com/fetch-github-hosts/fgh/internal/failure"
)

// ElevatedWriter copies a staged file over a privileged destination.
type ElevatedWriter interface {
	Copy(ctx context.Context, src, dst string) error
	// Cleanup revokes anything granted for the lifetime of the process.
	Cleanup() error
}

// Runner executes an external command and returns its stderr.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stderr []byte, err error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) // #nosec G204 - fixed privilege helpers, paths are our own temp files
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stderr.Bytes(), err
}

// Exit codes pkexec uses when authorization is refused or dismissed.
const (
	pkexecNotAuthorized = 126
	pkexecDismissed     = 127
)

// Known denial phrases, matched case-insensitively;
// an unmatched refusal degrades to a write failure.
var denialMarkers = []string{
	"user canceled",
	"user cancelled",
	"cancelled",
	"canceled",
	"(-128)",
	"not authorized",
	"authorization failed",
	"permission denied",
	"access is denied",
	"operation was canceled by the user",
	"request dismissed",
	"password is required",
}

func isDenial(stderr []byte) bool {
	s := strings.ToLower(string(stderr))
	for _, m := range denialMarkers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// classify maps an elevation helper result onto the failure taxonomy.
func classify(op string, err error, stderr []byte, deniedCodes ...int) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, exec.ErrNotFound) {
		return failure.New(failure.KindWrite, op, err)
	}
	var exitErr interface{ ExitCode() int }
	if errors.As(err, &exitErr) {
		for _, code := range deniedCodes {
			if exitErr.ExitCode() == code {
				return failure.Newf(failure.KindPermissionDenied, op, "elevation refused (exit %d)", code)
			}
		}
	}
	msg := strings.TrimSpace(string(stderr))
	if isDenial(stderr) {
		return failure.Newf(failure.KindPermissionDenied, op, "elevation refused: %s", msg)
	}
	if msg != "" {
		return failure.Newf(failure.KindWrite, op, "%v: %s", err, msg)
	}
	return failure.New(failure.KindWrite, op, err)
}

// NewElevatedWriter returns the elevation mechanism for goos, or nil when the
// platform has none.
func NewElevatedWriter(goos string, runner Runner) ElevatedWriter {
	if runner == nil {
		runner = ExecRunner{}
	}
	switch goos {
	case "darwin":
		return &sudoersWriter{runner: runner, user: currentUser()}
	case "linux":
		return &pkexecWriter{runner: runner}
	case "windows":
		return &runAsWriter{runner: runner}
	default:
		return nil
	}
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "root"
}

// SudoersRulePath is the temporary rule installed on darwin.
const SudoersRulePath = "/etc/sudoers.d/fgh-temp"

// sudoersWriter asks once through an administrator prompt for a temporary
// NOPASSWD rule, then copies with sudo -n for the rest of the session.
type sudoersWriter struct {
	runner Runner
	user   string

	mu sync.Mutex
	// granted skips the prompt; installed means the rule may be on disk.
	// Only Cleanup clears installed.
	granted   bool
	installed bool
}

func (w *sudoersWriter) rule() string {
	return fmt.Sprintf("%s ALL=(ALL) NOPASSWD: /bin/cp * /etc/hosts, /usr/bin/killall -HUP mDNSResponder, /usr/bin/dscacheutil -flushcache, /bin/rm -f %s",
		w.user, SudoersRulePath)
}

func (w *sudoersWriter) grant(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.granted {
		return nil
	}
	script := fmt.Sprintf(`do shell script "echo '%s' > %s && chmod 440 %s" with administrator privileges`,
		w.rule(), SudoersRulePath, SudoersRulePath)
	stderr, err := w.runner.Run(ctx, "osascript", "-e", script)
	if err := classify("grant hosts privilege", err, stderr); err != nil {
		return err
	}
	w.granted = true
	w.installed = true
	return nil
}

// ruleMissing reports whether sudo -n refused because no rule matched.
func ruleMissing(stderr []byte) bool {
	s := strings.ToLower(string(stderr))
	return strings.Contains(s, "password is required") || strings.Contains(s, "a terminal is required")
}

// Run executes name with args through sudo -n under the session grant.
func (w *sudoersWriter) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if err := w.grant(ctx); err != nil {
		return nil, err
	}
	return w.sudo(ctx, name, args...)
}

func (w *sudoersWriter) sudo(ctx context.Context, name string, args ...string) ([]byte, error) {
	stderr, err := w.runner.Run(ctx, "sudo", append([]string{"-n", name}, args...)...)
	if err != nil && ruleMissing(stderr) {
		// Removed behind our back: prompt again next time. The rule file
		// stays tracked so Cleanup still removes whatever is there.
		w.mu.Lock()
		w.granted = false
		w.mu.Unlock()
	}
	return stderr, err
}

func (w *sudoersWriter) Copy(ctx context.Context, src, dst string) error {
	if err := w.grant(ctx); err != nil {
		return err
	}
	stderr, err := w.sudo(ctx, "/bin/cp", src, dst)
	return classify("elevated hosts write", err, stderr)
}

func (w *sudoersWriter) Cleanup() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.installed {
		return nil
	}
	w.granted = false
	w.installed = false
	stderr, err := w.runner.Run(context.Background(), "sudo", "-n", "/bin/rm", "-f", SudoersRulePath)
	if err != nil {
		zlog.Warn("Failed to remove temporary sudoers rule", "path", SudoersRulePath, "stderr", strings.TrimSpace(string(stderr)))
		return fmt.Errorf("failed to remove %s: %w", SudoersRulePath, err)
	}
	return nil
}

type pkexecWriter struct {
	runner Runner
}

func (w *pkexecWriter) Copy(ctx context.Context, src, dst string) error {
	stderr, err := w.runner.Run(ctx, "pkexec", "cp", src, dst)
	return classify("elevated hosts write", err, stderr, pkexecNotAuthorized, pkexecDismissed)
}

func (w *pkexecWriter) Cleanup() error { return nil }

type runAsWriter struct {
	runner Runner
}

func (w *runAsWriter) Copy(ctx context.Context, src, dst string) error {
	inner := fmt.Sprintf(`Copy-Item -Path "%s" -Destination "%s" -Force`, src, dst)
	cmd := fmt.Sprintf(`Start-Process powershell -Verb RunAs -Wait -ArgumentList '-Command','%s'`, inner)
	stderr, err := w.runner.Run(ctx, "powershell", "-NoProfile", "-Command", cmd)
	return classify("elevated hosts write", err, stderr)
}

func (w *runAsWriter) Cleanup() error { return nil }
