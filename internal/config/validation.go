package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/fetch-github-hosts/fgh/internal/fetch"
)

// SupportedLangs lists the message catalogs the CLI ships.
var SupportedLangs = []string{"zh-CN", "en-US"}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateConfig validates the entire configuration. Intervals are not
// checked here; values below one are raised when the task starts.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return &ValidationError{Field: "config", Message: "config is nil"}
	}

	if cfg.Lang != "" && !ValidateLang(cfg.Lang) {
		return &ValidationError{
			Field:   "lang",
			Message: fmt.Sprintf("unsupported language: %s", cfg.Lang),
		}
	}

	if err := validateClient(&cfg.Client); err != nil {
		return err
	}
	if err := validateServer(&cfg.Server); err != nil {
		return err
	}

	if cfg.Metrics.Addr != "" && !ValidateListenAddr(cfg.Metrics.Addr) {
		return &ValidationError{
			Field:   "metrics.addr",
			Message: fmt.Sprintf("invalid listen address: %s", cfg.Metrics.Addr),
		}
	}

	if cfg.Hosts.MaxBackups < 0 {
		return &ValidationError{
			Field:   "hosts.max_backups",
			Message: "must not be negative",
		}
	}

	return nil
}

func validateClient(c *Client) error {
	switch c.Method {
	case MethodOfficial, "":
		if c.SelectOrigin != "" {
			if _, ok := fetch.Origins[c.SelectOrigin]; !ok {
				return &ValidationError{
					Field:   "client.select_origin",
					Message: fmt.Sprintf("unknown origin: %s", c.SelectOrigin),
				}
			}
		}
	case MethodCustom:
		if !ValidateURL(c.CustomURL) {
			return &ValidationError{
				Field:   "client.custom_url",
				Message: fmt.Sprintf("invalid url: %q", c.CustomURL),
			}
		}
	default:
		return &ValidationError{
			Field:   "client.method",
			Message: fmt.Sprintf("invalid method: %s", c.Method),
		}
	}
	return nil
}

func validateServer(s *Server) error {
	if !ValidatePort(s.Port) {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port out of range: %d", s.Port),
		}
	}
	if s.Nameserver != "" && !ValidateNameserver(s.Nameserver) {
		return &ValidationError{
			Field:   "server.nameserver",
			Message: fmt.Sprintf("invalid nameserver: %s", s.Nameserver),
		}
	}
	return nil
}

// ValidatePort checks that port is a usable TCP port.
func ValidatePort(port int) bool {
	return port >= 1 && port <= 65535
}

// ValidateURL checks for an absolute http or https URL.
func ValidateURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ValidateLang checks the language against the shipped catalogs.
func ValidateLang(lang string) bool {
	for _, l := range SupportedLangs {
		if l == lang {
			return true
		}
	}
	return false
}

// ValidateNameserver accepts an IP address, optionally with a port.
func ValidateNameserver(ns string) bool {
	host, port, err := net.SplitHostPort(ns)
	if err != nil {
		host, port = ns, "53"
	}
	if net.ParseIP(host) == nil {
		return false
	}
	p, err := strconv.Atoi(port)
	return err == nil && ValidatePort(p)
}

// ValidateListenAddr accepts host:port where host may be empty.
func ValidateListenAddr(addr string) bool {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host != "" && host != "localhost" && net.ParseIP(host) == nil {
		return false
	}
	p, err := strconv.Atoi(port)
	return err == nil && p >= 0 && p <= 65535
}
