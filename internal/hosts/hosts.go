// Package hosts manages the fetch-github-hosts block inside the system hosts file.
package hosts

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/semihalev/zlog/v2"

	"github.com/fetch-github-hosts/fgh/internal/failure"
)

// DefaultMaxBackups is the number of backups kept when Options.MaxBackups is zero.
const DefaultMaxBackups = 10

// DefaultPath returns the platform hosts file path.
func DefaultPath() string {
	if runtime.GOOS == "windows" {
		root := os.Getenv("SystemRoot")
		if root == "" {
			root = `C:\Windows`
		}
		return root + `\System32\drivers\etc\hosts`
	}
	return "/etc/hosts"
}

// Newline returns the platform newline sequence.
func Newline() string {
	if runtime.GOOS == "windows" {
		return "\r\n"
	}
	return "\n"
}

// Options configures an Editor. Zero values select platform defaults.
type Options struct {
	Path       string
	BackupDir  string // empty disables backups
	MaxBackups int
	Newline    string
	Elevated   ElevatedWriter // nil disables the elevated fallback
}

// Editor reads and rewrites the hosts file.
type Editor struct {
	hostsPath  string
	backupDir  string
	maxBackups int
	newline    string
	elevated   ElevatedWriter
}

// NewEditor creates an editor for the given options.
func NewEditor(opts Options) *Editor {
	e := &Editor{
		hostsPath:  opts.Path,
		backupDir:  opts.BackupDir,
		maxBackups: opts.MaxBackups,
		newline:    opts.Newline,
		elevated:   opts.Elevated,
	}
	if e.hostsPath == "" {
		e.hostsPath = DefaultPath()
	}
	if e.maxBackups <= 0 {
		e.maxBackups = DefaultMaxBackups
	}
	if e.newline == "" {
		e.newline = Newline()
	}
	return e
}

// Path returns the hosts file path being managed.
func (e *Editor) Path() string {
	return e.hostsPath
}

// ReadForeignContent returns the hosts file without the managed block.
func (e *Editor) ReadForeignContent() (string, error) {
	content, err := os.ReadFile(e.hostsPath)
	if err != nil {
		return "", failure.New(failure.KindIO, "read hosts file", err)
	}
	return StripManagedBlocks(string(content), e.newline), nil
}

// InstallBlock appends a freshly rendered managed block to foreign and writes
// the result to the hosts file.
func (e *Editor) InstallBlock(ctx context.Context, foreign string, entries []Entry, now time.Time) error {
	if foreign != "" && !strings.HasSuffix(foreign, "\n") {
		foreign += e.newline
	}
	return e.write(ctx, foreign+RenderBlock(entries, now, e.newline))
}

// Clean removes the managed block from the hosts file.
func (e *Editor) Clean(ctx context.Context) error {
	foreign, err := e.ReadForeignContent()
	if err != nil {
		return err
	}
	return e.write(ctx, foreign)
}

// CheckPermission probes read and write access to the hosts file without
// modifying it. A permission denial yields (false, nil).
func (e *Editor) CheckPermission() (bool, error) {
	ok, err := probeAccess(e.hostsPath)
	if err != nil {
		return false, failure.New(failure.KindIO, "check hosts permission", err)
	}
	return ok, nil
}

// Close releases any privilege granted during this process lifetime.
func (e *Editor) Close() error {
	if e.elevated == nil {
		return nil
	}
	return e.elevated.Cleanup()
}

func (e *Editor) write(ctx context.Context, content string) error {
	if e.backupDir != "" {
		if err := e.CreateBackup(); err != nil {
			zlog.Warn("Hosts backup failed", "dir", e.backupDir, "error", err.Error())
		}
	}

	err := writeDirect(e.hostsPath, []byte(content))
	if err == nil {
		return nil
	}

	if e.elevated == nil {
		if errors.Is(err, fs.ErrPermission) {
			return failure.New(failure.KindPermissionDenied, "write hosts file", err)
		}
		return failure.New(failure.KindWrite, "write hosts file", err)
	}

	zlog.Debug("Direct hosts write failed, elevating", "path", e.hostsPath, "error", err.Error())
	return e.writeElevated(ctx, content)
}

// writeDirect replaces path with data through a temp file and rename, so a
// reader never sees a half-written hosts file. The mode and owner of the old
// file carry over. When the directory does not allow the swap, as with a
// bind-mounted /etc/hosts, it rewrites the file in place instead.
func writeDirect(path string, data []byte) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	// A read-only hosts file must stay a permission error even when the
	// directory would let us replace it.
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	f.Close()

	if err := replaceFile(path, data, info); err != nil {
		zlog.Debug("Atomic hosts replace failed, writing in place", "path", path, "error", err.Error())
		return writeInPlace(path, data)
	}
	return nil
}

func replaceFile(path string, data []byte, info fs.FileInfo) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".fgh-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, info.Mode().Perm()); err != nil {
		return err
	}
	if err := copyOwner(tmpPath, info); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	committed = true
	return nil
}

func writeInPlace(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (e *Editor) writeElevated(ctx context.Context, content string) error {
	tmp, err := os.CreateTemp("", "fgh_hosts_*.txt")
	if err != nil {
		return failure.New(failure.KindWrite, "stage hosts content", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return failure.New(failure.KindWrite, "stage hosts content", err)
	}
	if err := tmp.Close(); err != nil {
		return failure.New(failure.KindWrite, "stage hosts content", err)
	}

	return e.elevated.Copy(ctx, tmpPath, e.hostsPath)
}

// CreateBackup copies the current hosts file into the backup directory.
func (e *Editor) CreateBackup() error {
	if err := os.MkdirAll(e.backupDir, 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	content, err := os.ReadFile(e.hostsPath)
	if err != nil {
		return fmt.Errorf("failed to read hosts file: %w", err)
	}

	timestamp := time.Now().Format("20060102-150405")
	backupPath := filepath.Join(e.backupDir, fmt.Sprintf("hosts.%s.bak", timestamp))

	if err := os.WriteFile(backupPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}

	if err := e.cleanupBackups(); err != nil {
		zlog.Warn("Failed to rotate hosts backups", "error", err.Error())
	}

	return nil
}

func isBackupName(name string) bool {
	return strings.HasPrefix(name, "hosts.") && strings.HasSuffix(name, ".bak")
}

func (e *Editor) cleanupBackups() error {
	entries, err := os.ReadDir(e.backupDir)
	if err != nil {
		return err
	}

	var backups []os.DirEntry
	for _, entry := range entries {
		if !entry.IsDir() && isBackupName(entry.Name()) {
			backups = append(backups, entry)
		}
	}

	if len(backups) <= e.maxBackups {
		return nil
	}

	// Names embed the timestamp, newest first
	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Name() > backups[j].Name()
	})

	for i := e.maxBackups; i < len(backups); i++ {
		os.Remove(filepath.Join(e.backupDir, backups[i].Name()))
	}

	return nil
}

// BackupInfo holds information about a backup file.
type BackupInfo struct {
	Name      string
	Timestamp int64
	Size      int64
}

// ListBackups returns available backups, newest first.
func (e *Editor) ListBackups() ([]BackupInfo, error) {
	if e.backupDir == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(e.backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var backups []BackupInfo
	for _, entry := range entries {
		if entry.IsDir() || !isBackupName(entry.Name()) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		backups = append(backups, BackupInfo{
			Name:      entry.Name(),
			Timestamp: info.ModTime().Unix(),
			Size:      info.Size(),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		if backups[i].Timestamp == backups[j].Timestamp {
			return backups[i].Name > backups[j].Name
		}
		return backups[i].Timestamp > backups[j].Timestamp
	})

	return backups, nil
}

// RestoreBackup writes a backup back to the hosts file using the normal write policy.
func (e *Editor) RestoreBackup(ctx context.Context, name string) error {
	if filepath.Base(name) != name || !isBackupName(name) {
		return fmt.Errorf("invalid backup name: %s", name)
	}
	if e.backupDir == "" {
		return fmt.Errorf("backups are disabled")
	}

	content, err := os.ReadFile(filepath.Join(e.backupDir, name))
	if err != nil {
		return failure.New(failure.KindIO, "read backup", err)
	}

	return e.write(ctx, string(content))
}
