package artifact

import (
	_ "embed"
	"os"
	"strings"
	"time"

	"github.com/semihalev/zlog/v2"

	"github.com/fetch-github-hosts/fgh/internal/hosts"
)

// Placeholders substituted in the status page template.
const (
	VersionPlaceholder    = "{{FGH_VERSION}}"
	UpdateTimePlaceholder = "{{FGH_UPDATE_TIME}}"
)

//go:embed status.html
var defaultTemplate string

// DefaultTemplate returns the built-in status page template.
func DefaultTemplate() string {
	return defaultTemplate
}

// Page renders the status page.
type Page struct {
	Version      string
	TemplatePath string // custom template, ignored when unreadable
	Store        *Store // optional, supplies the last update time
}

// Render returns the status page for now. The update time shown is the
// store's last write, or now when nothing has been written yet.
func (p *Page) Render(now time.Time) []byte {
	tpl := defaultTemplate
	if p.TemplatePath != "" {
		if data, err := os.ReadFile(p.TemplatePath); err == nil {
			tpl = string(data)
		} else {
			zlog.Debug("Custom template unreadable, using built-in", "path", p.TemplatePath, "error", err.Error())
		}
	}

	updated := now
	if p.Store != nil {
		if t, ok := p.Store.LastUpdate(); ok {
			updated = t
		}
	}

	r := strings.NewReplacer(
		VersionPlaceholder, p.Version,
		UpdateTimePlaceholder, updated.Format(hosts.TimeLayout),
	)
	return []byte(r.Replace(tpl))
}
