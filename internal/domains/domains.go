// Package domains holds the read-only list of domains resolved by the server role.
package domains

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/semihalev/zlog/v2"
	"golang.org/x/net/idna"
)

// FileName is the name of the bundled list and of its exec-dir override.
const FileName = "domains.json"

//go:embed domains.json
var bundled []byte

var (
	defaultOnce sync.Once
	defaultSet  []string
	defaultErr  error
)

// Default returns the process-wide domain list. A domains.json next to the
// executable replaces the bundled one. The list is loaded once.
func Default() ([]string, error) {
	defaultOnce.Do(func() {
		defaultSet, defaultErr = Load(execDir())
	})
	return clone(defaultSet), defaultErr
}

// Load reads dir/domains.json if it exists, otherwise the bundled list.
func Load(dir string) ([]string, error) {
	if dir != "" {
		path := filepath.Join(dir, FileName)
		if data, err := os.ReadFile(path); err == nil {
			zlog.Info("Using domain list override", "path", path)
			return Parse(data)
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	}
	return Parse(bundled)
}

// Parse decodes a JSON array of domain names, normalising each one and
// dropping duplicates while keeping the first occurrence's position.
func Parse(data []byte) ([]string, error) {
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse domain list: %w", err)
	}

	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, d := range raw {
		name, err := Normalize(d)
		if err != nil {
			return nil, fmt.Errorf("invalid domain %q: %w", d, err)
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("domain list is empty")
	}
	return out, nil
}

// Normalize lowercases a domain and converts internationalised labels to ASCII.
func Normalize(domain string) (string, error) {
	domain = strings.TrimSuffix(strings.TrimSpace(domain), ".")
	if domain == "" {
		return "", fmt.Errorf("empty domain")
	}
	ascii, err := idna.Lookup.ToASCII(domain)
	if err != nil {
		return "", fmt.Errorf("idna: %w", err)
	}
	return strings.ToLower(ascii), nil
}

// hostProfile maps like idna.Lookup without the STD3 hostname rules, so
// names such as my_nas.lan that hosts files routinely carry are accepted.
var hostProfile = idna.New(idna.MapForLookup(), idna.StrictDomainName(false))

// NormalizeHost is Normalize for names read from a hosts payload. Names are
// lowercased and unicode labels converted, but underscores and other
// non-LDH characters are kept.
func NormalizeHost(name string) (string, error) {
	name = strings.TrimSuffix(strings.TrimSpace(name), ".")
	if name == "" {
		return "", fmt.Errorf("empty domain")
	}
	ascii, err := hostProfile.ToASCII(name)
	if err != nil {
		return "", fmt.Errorf("idna: %w", err)
	}
	return strings.ToLower(ascii), nil
}

func execDir() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	return filepath.Dir(exe)
}

func clone(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
