// Package main provides the fetch-github-hosts command line.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"text/tabwriter"
	"time"

	"github.com/semihalev/zlog/v2"
	"github.com/spf13/cobra"

	"github.com/fetch-github-hosts/fgh/internal/artifact"
	"github.com/fetch-github-hosts/fgh/internal/config"
	"github.com/fetch-github-hosts/fgh/internal/hosts"
	"github.com/fetch-github-hosts/fgh/internal/installer"
	"github.com/fetch-github-hosts/fgh/internal/version"
)

type rootOptions struct {
	mode       string
	interval   int
	port       int
	url        string
	lang       string
	configPath string
	update     bool
	verbose    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "fetch-github-hosts",
		Short:        "Keep GitHub hosts entries in sync",
		Long:         "Syncs resolved GitHub addresses into the hosts file (client mode)\nor resolves and serves them over HTTP (server mode).",
		Version:      version.Version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			setupLogging(opts.verbose)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.update {
				return runUpdate(cmd)
			}
			if opts.mode == "" {
				// auto_fetch starts the client without an explicit mode.
				if cfg, err := loadConfig(opts.configPath); err == nil && cfg.Client.AutoFetch {
					opts.mode = modeClient
				}
			}
			if opts.mode == "" {
				lang := opts.lang
				if lang == "" {
					lang = defaultLang
				}
				fmt.Fprintln(cmd.OutOrStdout(), localize(lang, keyGUIMissing, nil))
				return nil
			}

			flags := cmd.Flags()
			set := overrides{
				Interval: flags.Changed("interval"),
				Port:     flags.Changed("port"),
				URL:      flags.Changed("url"),
				Lang:     flags.Changed("lang"),
			}
			if set.Lang && !config.ValidateLang(opts.lang) {
				return fmt.Errorf("unsupported language %q", opts.lang)
			}

			a, err := newApp(opts, set, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return a.run(cmd.Context(), opts.mode)
		},
	}
	cmd.SetVersionTemplate("fetch-github-hosts version {{.Version}}\n")

	f := cmd.Flags()
	f.StringVarP(&opts.mode, "mode", "m", "", "start mode: client or server")
	f.IntVarP(&opts.interval, "interval", "i", 60, "fetch interval in minutes")
	f.IntVarP(&opts.port, "port", "p", 9898, "server mode listening port")
	f.StringVarP(&opts.url, "url", "u", "https://hosts.gitcdn.top/hosts.txt", "client mode remote hosts URL")
	f.StringVarP(&opts.lang, "lang", "l", "", "message language (zh-CN, en-US)")
	f.BoolVar(&opts.update, "update", false, "check for a newer release")

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", config.DefaultConfigPath(), "path to config file")
	pf.BoolVar(&opts.verbose, "verbose", false, "enable debug logging")

	cmd.AddCommand(
		newCleanCmd(opts),
		newCheckCmd(opts),
		newFlushDNSCmd(),
		newBackupsCmd(opts),
		newRestoreCmd(opts),
		newTemplateCmd(),
		newInstallCmd(),
		newUninstallCmd(),
		newUpdateCmd(),
	)
	return cmd
}

func setupLogging(verbose bool) {
	logger := zlog.NewStructured()
	logger.SetWriter(zlog.StdoutTerminal())
	if verbose || config.IsDebug() {
		logger.SetLevel(zlog.LevelDebug)
	} else {
		logger.SetLevel(zlog.LevelWarn)
	}
	zlog.SetDefault(logger)
}

// loadConfig reads the config file for one-shot commands, falling back to
// the defaults when none exists.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.Default(), nil
	}
	mgr := config.NewManager(path)
	if err := mgr.Load(); err != nil {
		return nil, err
	}
	return mgr.Get(), nil
}

func newCleanCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove the managed block from the hosts file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			editor, flusher := newHostsTools(cfg)
			defer editor.Close()

			if err := editor.Clean(cmd.Context()); err != nil {
				return err
			}
			if err := flusher.Flush(cmd.Context()); err != nil {
				zlog.Warn("DNS flush failed", "error", err.Error())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Cleaned %s\n", editor.Path())
			return nil
		},
	}
}

func newCheckCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check write access to the hosts file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			editor := newEditor(cfg)
			ok, err := editor.CheckPermission()
			if err != nil {
				return err
			}
			if ok {
				fmt.Fprintf(cmd.OutOrStdout(), "✓ %s is writable\n", editor.Path())
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✗ %s is not writable by this user\n", editor.Path())
			return nil
		},
	}
}

func newFlushDNSCmd() *cobra.Command {
	var method string
	cmd := &cobra.Command{
		Use:   "flush-dns",
		Short: "Flush the operating system DNS cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := hosts.NewDNSFlusher(runtime.GOOS, hosts.FlushMethod(method), nil).Flush(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ DNS cache flushed")
			return nil
		},
	}
	cmd.Flags().StringVar(&method, "method", string(hosts.FlushMethodAuto), "flush method (auto, dscacheutil, killall, both, systemd, nscd, ipconfig)")
	return cmd
}

func newBackupsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "backups",
		Short: "List hosts file backups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			backups, err := newEditor(cfg).ListBackups()
			if err != nil {
				return err
			}
			if len(backups) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No backups.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTIME\tSIZE")
			for _, b := range backups {
				fmt.Fprintf(w, "%s\t%s\t%d\n", b.Name, time.Unix(b.Timestamp, 0).Format(consoleTimeLayout), b.Size)
			}
			return w.Flush()
		},
	}
}

func newRestoreCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <name>",
		Short: "Restore the hosts file from a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			editor := newEditor(cfg)
			defer editor.Close()

			if err := editor.RestoreBackup(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Restored %s\n", args[0])
			return nil
		},
	}
}

func newTemplateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Manage the server status page template",
	}

	var output string
	export := &cobra.Command{
		Use:   "export",
		Short: "Write the built-in status page template to a file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
				return err
			}
			// #nosec G306 -- template is not sensitive
			if err := os.WriteFile(output, []byte(artifact.DefaultTemplate()), 0644); err != nil {
				return fmt.Errorf("failed to export template: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Template written to %s\n", output)
			return nil
		},
	}
	export.Flags().StringVarP(&output, "output", "o", config.TemplateExportPath(), "destination file")

	cmd.AddCommand(export)
	return cmd
}

func newInstallCmd() *cobra.Command {
	svc := installer.Service{}
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install a client or server mode system service (requires root)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if os.Geteuid() != 0 {
				return fmt.Errorf("install requires sudo")
			}
			inst, err := installer.New(installer.Options{GOOS: runtime.GOOS, Out: cmd.OutOrStdout()})
			if err != nil {
				return err
			}
			return inst.Install(cmd.Context(), svc)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&svc.Mode, "mode", "m", modeClient, "service mode: client or server")
	f.IntVarP(&svc.Interval, "interval", "i", 60, "fetch interval in minutes")
	f.IntVarP(&svc.Port, "port", "p", 9898, "server mode listening port")
	f.StringVarP(&svc.URL, "url", "u", "", "client mode remote hosts URL (default from config)")
	return cmd
}

func newUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the system service (requires root)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if os.Geteuid() != 0 {
				return fmt.Errorf("uninstall requires sudo")
			}
			inst, err := installer.New(installer.Options{GOOS: runtime.GOOS, Out: cmd.OutOrStdout()})
			if err != nil {
				return err
			}
			return inst.Uninstall(cmd.Context())
		},
	}
}

func newUpdateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Check for a newer release",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runUpdate(cmd)
		},
	}
}

func runUpdate(cmd *cobra.Command) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	info, err := version.NewChecker(version.Version).Check(ctx)
	if err != nil {
		return fmt.Errorf("update check failed: %w", err)
	}
	if info == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "fetch-github-hosts %s is up to date\n", version.Version)
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), info.String())
	return nil
}
