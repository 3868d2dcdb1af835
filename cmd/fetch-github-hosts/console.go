package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/fetch-github-hosts/fgh/internal/event"
)

const consoleTimeLayout = "2006-01-02 15:04:05"

const defaultLang = "zh-CN"

// Message keys used only by the CLI itself.
const (
	keyGUIMissing   = "cli.guiMissing"
	keyClientBanner = "cli.clientBanner"
	keyServerBanner = "cli.serverBanner"
	keyKeepOpen     = "cli.keepOpen"
	keyReloaded     = "cli.reloaded"
	keyShutdown     = "cli.shutdown"
	keyNoPermission = "cli.noPermission"
)

var catalogs = map[string]map[string]string{
	"zh-CN": {
		event.KeyClientFetchSuccess: "更新 Github-Hosts 成功！共 {count} 条记录",
		event.KeyClientFetchFail:    "更新 Github-Hosts 失败: {error}",
		event.KeyClientFetchStop:    "已停止获取 hosts",
		event.KeyServerFetchSuccess: "解析 Github DNS 成功！共 {count} 条记录",
		event.KeyServerFetchFail:    "解析 Github DNS 失败: {error}",
		event.KeyServerHTTPStarted:  "HTTP 服务已启动: http://127.0.0.1:{port}",
		event.KeyServerStartFail:    "服务启动失败（端口 {port}）: {error}",
		event.KeyServerStopSuccess:  "服务已停止",
		event.KeyFlushDNSFail:       "刷新 DNS 缓存失败: {error}",

		keyGUIMissing:   "此版本不包含图形界面，请使用命令行模式，例如: sudo fetch-github-hosts --mode client",
		keyClientBanner: "客户端模式启动，远程地址: {url}，更新间隔: {interval}",
		keyServerBanner: "服务端模式启动，监听端口: {port}，更新间隔: {interval}",
		keyKeepOpen:     "请不要关闭此窗口以保持运行",
		keyReloaded:     "配置已更新，任务已重启",
		keyShutdown:     "收到停止信号，正在退出...",
		keyNoPermission: "没有修改 hosts 文件的权限，请使用管理员权限运行",
	},
	"en-US": {
		event.KeyClientFetchSuccess: "Github hosts updated, {count} entries",
		event.KeyClientFetchFail:    "Failed to update Github hosts: {error}",
		event.KeyClientFetchStop:    "Stopped fetching hosts",
		event.KeyServerFetchSuccess: "Github DNS resolved, {count} entries",
		event.KeyServerFetchFail:    "Failed to resolve Github DNS: {error}",
		event.KeyServerHTTPStarted:  "HTTP server started: http://127.0.0.1:{port}",
		event.KeyServerStartFail:    "Failed to start server on port {port}: {error}",
		event.KeyServerStopSuccess:  "Server stopped",
		event.KeyFlushDNSFail:       "Failed to flush DNS cache: {error}",

		keyGUIMissing:   "This build has no GUI, use a command line mode, e.g. sudo fetch-github-hosts --mode client",
		keyClientBanner: "Client mode, source: {url}, interval: {interval}",
		keyServerBanner: "Server mode, port: {port}, interval: {interval}",
		keyKeepOpen:     "Keep this window open to stay in sync",
		keyReloaded:     "Configuration changed, task restarted",
		keyShutdown:     "Signal received, shutting down...",
		keyNoPermission: "No permission to modify the hosts file, run as administrator",
	},
}

// localize renders key in lang, substituting {name} with params[name].
// Unknown languages fall back to zh-CN, unknown keys to the key itself.
func localize(lang, key string, params map[string]any) string {
	msg, ok := catalogs[lang][key]
	if !ok {
		if msg, ok = catalogs[defaultLang][key]; !ok {
			msg = key
		}
	}
	if len(params) == 0 {
		return msg
	}

	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)

	pairs := make([]string, 0, 2*len(names))
	for _, k := range names {
		pairs = append(pairs, "{"+k+"}", fmt.Sprint(params[k]))
	}
	return strings.NewReplacer(pairs...).Replace(msg)
}

// console prints events as timestamped, colored lines.
type console struct {
	mu     sync.Mutex
	w      io.Writer
	lang   string
	now    func() time.Time
	styles map[event.Level]lipgloss.Style
	stamp  lipgloss.Style
}

func newConsole(w io.Writer, lang string) *console {
	r := lipgloss.NewRenderer(w)
	return &console{
		w:    w,
		lang: lang,
		now:  time.Now,
		styles: map[event.Level]lipgloss.Style{
			event.LevelInfo:    r.NewStyle(),
			event.LevelSuccess: r.NewStyle().Foreground(lipgloss.Color("42")),
			event.LevelError:   r.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		},
		stamp: r.NewStyle().Foreground(lipgloss.Color("245")),
	}
}

// SetLang switches the catalog used for subsequent lines.
func (c *console) SetLang(lang string) {
	c.mu.Lock()
	c.lang = lang
	c.mu.Unlock()
}

// Emit implements event.Sink.
func (c *console) Emit(e event.Event) {
	t := e.Time
	if t.IsZero() {
		t = c.now()
	}
	c.print(t, e.Level, e.Key, e.Params)
}

// Say prints a CLI message at info level.
func (c *console) Say(key string, params map[string]any) {
	c.print(c.now(), event.LevelInfo, key, params)
}

func (c *console) print(t time.Time, level event.Level, key string, params map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	style, ok := c.styles[level]
	if !ok {
		style = c.styles[event.LevelInfo]
	}
	fmt.Fprintf(c.w, "%s %s\n",
		c.stamp.Render("["+t.Format(consoleTimeLayout)+"]"),
		style.Render(localize(c.lang, key, params)))
}
